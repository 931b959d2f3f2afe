package httpapi

import (
	"context"
	"net/http"
	"strings"

	"courierops/api/internal/pricing"
)

type policyBody struct {
	Kind           string         `json:"kind"`
	OrganizationID *int64         `json:"organizationId"`
	TerminalID     *int64         `json:"terminalId"`
	Name           string         `json:"name"`
	Active         *bool          `json:"active"`
	Rules          []pricing.Rule `json:"rules"`
	PricePerKm     float64        `json:"price_per_km"`
}

// record validates the body and turns it into a storable policy.
func (b policyBody) record() (pricing.Record, error) {
	kind, err := pricing.ParseKind(b.Kind)
	if err != nil {
		return pricing.Record{}, err
	}
	name := strings.TrimSpace(b.Name)
	if name == "" {
		return pricing.Record{}, &pricing.ValidationError{Field: "name", Reason: "is required"}
	}
	if b.TerminalID != nil && b.OrganizationID == nil {
		return pricing.Record{}, &pricing.ValidationError{Field: "organizationId", Reason: "is required when terminalId is set"}
	}
	rec := pricing.Record{
		Kind:           kind,
		OrganizationID: b.OrganizationID,
		TerminalID:     b.TerminalID,
		Name:           name,
		Active:         b.Active == nil || *b.Active,
		Policy:         pricing.Policy{Rules: b.Rules, PricePerKm: b.PricePerKm},
	}
	if rec.Rules == nil {
		rec.Rules = []pricing.Rule{}
	}
	if err := rec.Validate(); err != nil {
		return pricing.Record{}, err
	}
	return rec, nil
}

func (a *App) handleListPricing(w http.ResponseWriter, r *http.Request) {
	var kind pricing.Kind
	if v := r.URL.Query().Get("kind"); v != "" {
		k, err := pricing.ParseKind(v)
		if err != nil {
			writeValidationError(w, err)
			return
		}
		kind = k
	}
	orgID, ok := queryID(w, r, "organizationId")
	if !ok {
		return
	}
	items, err := a.policies.List(r.Context(), kind, orgID)
	if err != nil {
		a.writeDBError(w, err, "pricing policies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	rec, err := a.policies.Get(r.Context(), id)
	if err != nil {
		a.writeDBError(w, err, "pricing policy")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) handleCreatePricing(w http.ResponseWriter, r *http.Request) {
	var body policyBody
	if !decodeJSON(w, r, &body) {
		return
	}
	rec, err := body.record()
	if err != nil {
		writeValidationError(w, err)
		return
	}
	id, err := a.policies.Create(r.Context(), rec)
	if err != nil {
		a.writeDBError(w, err, "pricing policy")
		return
	}
	a.invalidatePolicies(r.Context(), rec.Kind)
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *App) handleUpdatePricing(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	var body policyBody
	if !decodeJSON(w, r, &body) {
		return
	}
	rec, err := body.record()
	if err != nil {
		writeValidationError(w, err)
		return
	}
	prev, err := a.policies.Get(r.Context(), id)
	if err != nil {
		a.writeDBError(w, err, "pricing policy")
		return
	}
	rec.ID = id
	if err := a.policies.Update(r.Context(), rec); err != nil {
		a.writeDBError(w, err, "pricing policy")
		return
	}
	a.invalidatePolicies(r.Context(), prev.Kind, rec.Kind)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *App) handleDeletePricing(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	kind, err := a.policies.Delete(r.Context(), id)
	if err != nil {
		a.writeDBError(w, err, "pricing policy")
		return
	}
	a.invalidatePolicies(r.Context(), kind)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type quoteRequest struct {
	Distance   *float64       `json:"distance"`
	Kind       string         `json:"kind"`
	Mode       string         `json:"mode"`
	PolicyID   *int64         `json:"policyId"`
	TerminalID *int64         `json:"terminalId"`
	Rules      []pricing.Rule `json:"rules"`
	PricePerKm *float64       `json:"price_per_km"`
}

type quoteResponse struct {
	Price    float64      `json:"price"`
	Mode     pricing.Mode `json:"mode"`
	PolicyID *int64       `json:"policyId,omitempty"`
}

// handlePricingQuote prices a distance against an inline policy, a stored
// policy by id, or the policy a terminal resolves to.
func (a *App) handlePricingQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Distance == nil {
		writeValidationError(w, &pricing.ValidationError{Field: "distance", Reason: "is required"})
		return
	}

	var (
		policy pricing.Policy
		mode   pricing.Mode
		resp   quoteResponse
		err    error
	)
	switch {
	case req.Rules != nil || req.PricePerKm != nil:
		policy.Rules = req.Rules
		if req.PricePerKm != nil {
			policy.PricePerKm = *req.PricePerKm
		}
		mode, err = quoteMode(req.Mode, req.Kind)
	case req.PolicyID != nil:
		var rec pricing.Record
		rec, err = a.policies.Get(r.Context(), *req.PolicyID)
		if err != nil {
			a.writeDBError(w, err, "pricing policy")
			return
		}
		policy, resp.PolicyID = rec.Policy, &rec.ID
		mode, err = quoteMode(req.Mode, string(rec.Kind))
	case req.TerminalID != nil:
		var kind pricing.Kind
		kind, err = pricing.ParseKind(req.Kind)
		if err != nil {
			writeValidationError(w, err)
			return
		}
		var rec pricing.Record
		rec, err = a.resolvePolicy(r.Context(), kind, *req.TerminalID)
		if err != nil {
			a.writeDBError(w, err, "pricing policy")
			return
		}
		policy, resp.PolicyID = rec.Policy, &rec.ID
		mode, err = quoteMode(req.Mode, string(kind))
	default:
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "rules, policyId or terminalId required")
		return
	}
	if err != nil {
		writeValidationError(w, err)
		return
	}

	resp.Mode = mode
	resp.Price, err = pricing.Calculate(*req.Distance, policy, mode)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// quoteMode prefers an explicit mode and otherwise derives it from the policy kind.
func quoteMode(mode, kind string) (pricing.Mode, error) {
	if mode != "" || kind == "" {
		return pricing.ParseMode(mode)
	}
	k, err := pricing.ParseKind(kind)
	if err != nil {
		return "", err
	}
	return k.Mode(), nil
}

// resolvePolicy returns the policy of kind in force at a terminal, going
// through the cache when one is configured. Cache failures fall back to Postgres.
func (a *App) resolvePolicy(ctx context.Context, kind pricing.Kind, terminalID int64) (pricing.Record, error) {
	rec, hit, err := a.cache.Get(ctx, kind, terminalID)
	if err != nil {
		a.errorLog.Printf("policy cache get %s/%d: %v", kind, terminalID, err)
	}
	if hit {
		return rec, nil
	}
	rec, err = a.policies.Resolve(ctx, kind, terminalID)
	if err != nil {
		return pricing.Record{}, err
	}
	if err := a.cache.Set(ctx, terminalID, rec); err != nil {
		a.errorLog.Printf("policy cache set %s/%d: %v", kind, terminalID, err)
	}
	return rec, nil
}

// invalidatePolicies drops cached resolutions of the given kinds, or of every kind when none is given.
func (a *App) invalidatePolicies(ctx context.Context, kinds ...pricing.Kind) {
	if len(kinds) == 0 {
		kinds = []pricing.Kind{pricing.KindDelivery, pricing.KindOrderBonus, pricing.KindConstructedBonus}
	}
	seen := map[pricing.Kind]bool{}
	for _, k := range kinds {
		if seen[k] {
			continue
		}
		seen[k] = true
		if err := a.cache.InvalidateKind(ctx, k); err != nil {
			a.errorLog.Printf("policy cache invalidate %s: %v", k, err)
		}
	}
}
