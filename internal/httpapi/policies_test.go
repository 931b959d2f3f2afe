package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"courierops/api/internal/pricing"
)

// fakePolicies resolves each kind to one fixed record, whatever the terminal.
type fakePolicies struct {
	byKind     map[pricing.Kind]pricing.Record
	byID       map[int64]pricing.Record
	resolveErr error

	resolveCalls int
	created      []pricing.Record
	updated      []pricing.Record
}

func (f *fakePolicies) List(context.Context, pricing.Kind, *int64) ([]pricing.Record, error) {
	return nil, nil
}

func (f *fakePolicies) Get(_ context.Context, id int64) (pricing.Record, error) {
	rec, ok := f.byID[id]
	if !ok {
		return pricing.Record{}, pricing.ErrNotFound
	}
	return rec, nil
}

func (f *fakePolicies) Resolve(_ context.Context, kind pricing.Kind, _ int64) (pricing.Record, error) {
	f.resolveCalls++
	if f.resolveErr != nil {
		return pricing.Record{}, f.resolveErr
	}
	rec, ok := f.byKind[kind]
	if !ok {
		return pricing.Record{}, pricing.ErrNotFound
	}
	return rec, nil
}

func (f *fakePolicies) Create(_ context.Context, rec pricing.Record) (int64, error) {
	f.created = append(f.created, rec)
	return int64(100 + len(f.created)), nil
}

func (f *fakePolicies) Update(_ context.Context, rec pricing.Record) error {
	f.updated = append(f.updated, rec)
	return nil
}

func (f *fakePolicies) Delete(_ context.Context, id int64) (pricing.Kind, error) {
	rec, ok := f.byID[id]
	if !ok {
		return "", pricing.ErrNotFound
	}
	return rec.Kind, nil
}

type cacheKey struct {
	kind       pricing.Kind
	terminalID int64
}

type fakeCache struct {
	entries     map[cacheKey]pricing.Record
	invalidated []pricing.Kind
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[cacheKey]pricing.Record{}}
}

func (c *fakeCache) Get(_ context.Context, kind pricing.Kind, terminalID int64) (pricing.Record, bool, error) {
	rec, ok := c.entries[cacheKey{kind, terminalID}]
	return rec, ok, nil
}

func (c *fakeCache) Set(_ context.Context, terminalID int64, rec pricing.Record) error {
	c.entries[cacheKey{rec.Kind, terminalID}] = rec
	return nil
}

func (c *fakeCache) InvalidateKind(_ context.Context, kind pricing.Kind) error {
	c.invalidated = append(c.invalidated, kind)
	for k := range c.entries {
		if k.kind == kind {
			delete(c.entries, k)
		}
	}
	return nil
}

var (
	deliveryPolicy = pricing.Record{
		ID: 1, Kind: pricing.KindDelivery, Active: true,
		Policy: pricing.Policy{Rules: []pricing.Rule{{From: 0, To: 3, Price: 8000}}, PricePerKm: 1000},
	}
	orderBonusPolicy = pricing.Record{
		ID: 2, Kind: pricing.KindOrderBonus, Active: true,
		Policy: pricing.Policy{Rules: []pricing.Rule{{From: 0, To: 3, Price: 8000}}, PricePerKm: 1000},
	}
	constructedBonusPolicy = pricing.Record{
		ID: 3, Kind: pricing.KindConstructedBonus, Active: true,
		Policy: pricing.Policy{Rules: []pricing.Rule{{From: 0, To: 3, Price: 9000}}, PricePerKm: 2000},
	}
)

func allPolicies() *fakePolicies {
	return &fakePolicies{
		byKind: map[pricing.Kind]pricing.Record{
			pricing.KindDelivery:         deliveryPolicy,
			pricing.KindOrderBonus:       orderBonusPolicy,
			pricing.KindConstructedBonus: constructedBonusPolicy,
		},
		byID: map[int64]pricing.Record{1: deliveryPolicy, 2: orderBonusPolicy, 3: constructedBonusPolicy},
	}
}

func fakeApp(store *fakePolicies, c *fakeCache) *App {
	app := newApp(Deps{})
	app.policies = store
	app.cache = c
	return app
}

func TestQuoteOrder(t *testing.T) {
	tests := []struct {
		name        string
		store       *fakePolicies
		distance    float64
		constructed bool
		wantPrice   float64
		wantBonus   float64
		wantBonusID int64
	}{
		{name: "regular order", store: allPolicies(), distance: 5.3, wantPrice: 10500, wantBonus: 11000, wantBonusID: 2},
		{name: "constructed order", store: allPolicies(), distance: 5.3, constructed: true, wantPrice: 10500, wantBonus: 14000, wantBonusID: 3},
		{name: "inside first tier", store: allPolicies(), distance: 2, wantPrice: 8000, wantBonus: 8000, wantBonusID: 2},
		{name: "zero distance", store: allPolicies(), distance: 0, wantPrice: 0, wantBonus: 0, wantBonusID: 2},
		{
			name:      "no bonus policy",
			store:     &fakePolicies{byKind: map[pricing.Kind]pricing.Record{pricing.KindDelivery: deliveryPolicy}},
			distance:  4.3,
			wantPrice: 9500,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fakeApp(tt.store, newFakeCache())
			q, err := app.quoteOrder(context.Background(), 7, tt.distance, tt.constructed)
			if err != nil {
				t.Fatalf("quoteOrder() error = %v", err)
			}
			if q.DeliveryPrice != tt.wantPrice {
				t.Errorf("delivery = %v, want %v", q.DeliveryPrice, tt.wantPrice)
			}
			if q.CourierBonus != tt.wantBonus {
				t.Errorf("bonus = %v, want %v", q.CourierBonus, tt.wantBonus)
			}
			if q.DeliveryID != deliveryPolicy.ID {
				t.Errorf("delivery policy = %d, want %d", q.DeliveryID, deliveryPolicy.ID)
			}
			switch {
			case tt.wantBonusID == 0 && q.BonusID != nil:
				t.Errorf("bonus policy = %d, want none", *q.BonusID)
			case tt.wantBonusID != 0 && (q.BonusID == nil || *q.BonusID != tt.wantBonusID):
				t.Errorf("bonus policy = %s, want %d", fmtID(q.BonusID), tt.wantBonusID)
			}
		})
	}
}

func TestQuoteOrderErrors(t *testing.T) {
	tests := []struct {
		name  string
		store *fakePolicies
		want  error
	}{
		{
			name:  "no delivery policy",
			store: &fakePolicies{byKind: map[pricing.Kind]pricing.Record{pricing.KindOrderBonus: orderBonusPolicy}},
			want:  errNoDeliveryPolicy,
		},
		{name: "unknown terminal", store: &fakePolicies{resolveErr: pricing.ErrUnknownTerminal}, want: pricing.ErrUnknownTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fakeApp(tt.store, newFakeCache())
			_, err := app.quoteOrder(context.Background(), 7, 3, false)
			if !errors.Is(err, tt.want) {
				t.Fatalf("quoteOrder() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// These fail while pricing, before the order is inserted.
func TestHandleCreateOrderPricingFailures(t *testing.T) {
	tests := []struct {
		name       string
		store      *fakePolicies
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no delivery policy",
			store:      &fakePolicies{byKind: map[pricing.Kind]pricing.Record{}},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "NO_POLICY",
		},
		{
			name:       "unknown terminal",
			store:      &fakePolicies{resolveErr: pricing.ErrUnknownTerminal},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeCache()
			app := fakeApp(tt.store, c)
			req := httptest.NewRequest(http.MethodPost, "/api/ops/orders", strings.NewReader(`{"terminalId":999,"distanceKm":4}`))
			rec := httptest.NewRecorder()
			app.handleCreateOrder(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var got errorBody
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Error.Code, tt.wantCode)
			}
			if len(c.entries) != 0 {
				t.Errorf("cache holds %d entries after a failed lookup, want 0", len(c.entries))
			}
		})
	}
}

func TestResolvePolicyCaching(t *testing.T) {
	store := allPolicies()
	c := newFakeCache()
	app := fakeApp(store, c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, err := app.resolvePolicy(ctx, pricing.KindDelivery, 7)
		if err != nil {
			t.Fatalf("resolvePolicy() error = %v", err)
		}
		if rec.ID != deliveryPolicy.ID {
			t.Fatalf("resolvePolicy() id = %d, want %d", rec.ID, deliveryPolicy.ID)
		}
	}
	if store.resolveCalls != 1 {
		t.Errorf("store resolved %d times, want 1", store.resolveCalls)
	}
	if _, ok := c.entries[cacheKey{pricing.KindDelivery, 7}]; !ok {
		t.Errorf("delivery/7 not cached")
	}

	// Another terminal is a separate entry.
	if _, err := app.resolvePolicy(ctx, pricing.KindDelivery, 8); err != nil {
		t.Fatalf("resolvePolicy() error = %v", err)
	}
	if store.resolveCalls != 2 {
		t.Errorf("store resolved %d times, want 2", store.resolveCalls)
	}

	// A cached record wins over the store.
	c.entries[cacheKey{pricing.KindOrderBonus, 7}] = pricing.Record{ID: 55, Kind: pricing.KindOrderBonus}
	rec, err := app.resolvePolicy(ctx, pricing.KindOrderBonus, 7)
	if err != nil || rec.ID != 55 {
		t.Errorf("resolvePolicy() = %d, %v; want cached 55", rec.ID, err)
	}
	if store.resolveCalls != 2 {
		t.Errorf("store resolved %d times after a hit, want 2", store.resolveCalls)
	}
}

func TestResolvePolicyWithoutCache(t *testing.T) {
	store := allPolicies()
	app := newApp(Deps{})
	app.policies = store

	for i := 0; i < 2; i++ {
		if _, err := app.resolvePolicy(context.Background(), pricing.KindOrderBonus, 7); err != nil {
			t.Fatalf("resolvePolicy() error = %v", err)
		}
	}
	if store.resolveCalls != 2 {
		t.Errorf("store resolved %d times, want 2", store.resolveCalls)
	}
}

func TestHandlePricingQuoteStored(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantPrice  float64
		wantMode   string
		wantPolicy int64
	}{
		{name: "terminal delivery", body: `{"distance":4.3,"terminalId":7,"kind":"delivery"}`, wantStatus: http.StatusOK, wantPrice: 9500, wantMode: "delivery", wantPolicy: 1},
		{name: "terminal bonus", body: `{"distance":5.3,"terminalId":7,"kind":"order_bonus"}`, wantStatus: http.StatusOK, wantPrice: 11000, wantMode: "bonus", wantPolicy: 2},
		{name: "terminal without kind", body: `{"distance":1,"terminalId":7}`, wantStatus: http.StatusBadRequest},
		{name: "policy by id", body: `{"distance":5.3,"policyId":3}`, wantStatus: http.StatusOK, wantPrice: 14000, wantMode: "bonus", wantPolicy: 3},
		{name: "policy by id with mode override", body: `{"distance":5.3,"policyId":3,"mode":"delivery"}`, wantStatus: http.StatusOK, wantPrice: 13500, wantMode: "delivery", wantPolicy: 3},
		{name: "unknown policy id", body: `{"distance":1,"policyId":42}`, wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fakeApp(allPolicies(), newFakeCache())
			req := httptest.NewRequest(http.MethodPost, "/api/pricing/quote", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			app.handlePricingQuote(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got quoteResponse
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Price != tt.wantPrice {
				t.Errorf("price = %v, want %v", got.Price, tt.wantPrice)
			}
			if string(got.Mode) != tt.wantMode {
				t.Errorf("mode = %q, want %q", got.Mode, tt.wantMode)
			}
			if got.PolicyID == nil || *got.PolicyID != tt.wantPolicy {
				t.Errorf("policyId = %s, want %d", fmtID(got.PolicyID), tt.wantPolicy)
			}
		})
	}
}

func TestHandlePricingQuoteUnknownTerminal(t *testing.T) {
	c := newFakeCache()
	app := fakeApp(&fakePolicies{resolveErr: pricing.ErrUnknownTerminal}, c)
	req := httptest.NewRequest(http.MethodPost, "/api/pricing/quote", strings.NewReader(`{"distance":1,"terminalId":999}`))
	rec := httptest.NewRecorder()
	app.handlePricingQuote(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (body %s)", rec.Code, rec.Body.String())
	}
	var got errorBody
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Error.Message != "terminal not found" {
		t.Errorf("message = %q, want %q", got.Error.Message, "terminal not found")
	}
	if len(c.entries) != 0 {
		t.Errorf("cache holds %d entries, want 0", len(c.entries))
	}
}

func TestPolicyWritesInvalidateCache(t *testing.T) {
	tests := []struct {
		name       string
		handler    func(*App) http.HandlerFunc
		id         string
		body       string
		wantStatus int
		want       []pricing.Kind
	}{
		{
			name:       "create",
			handler:    func(a *App) http.HandlerFunc { return a.handleCreatePricing },
			body:       `{"kind":"delivery","name":"Chilanzar","organizationId":1,"terminalId":7,"rules":[{"from":0,"to":3,"price":7000}],"price_per_km":900}`,
			wantStatus: http.StatusCreated,
			want:       []pricing.Kind{pricing.KindDelivery},
		},
		{
			name:       "update that changes kind",
			handler:    func(a *App) http.HandlerFunc { return a.handleUpdatePricing },
			id:         "1",
			body:       `{"kind":"order_bonus","name":"moved","price_per_km":500}`,
			wantStatus: http.StatusOK,
			want:       []pricing.Kind{pricing.KindDelivery, pricing.KindOrderBonus},
		},
		{
			name:       "update of same kind",
			handler:    func(a *App) http.HandlerFunc { return a.handleUpdatePricing },
			id:         "2",
			body:       `{"kind":"order_bonus","name":"same","price_per_km":500}`,
			wantStatus: http.StatusOK,
			want:       []pricing.Kind{pricing.KindOrderBonus},
		},
		{
			name:       "delete",
			handler:    func(a *App) http.HandlerFunc { return a.handleDeletePricing },
			id:         "3",
			wantStatus: http.StatusOK,
			want:       []pricing.Kind{pricing.KindConstructedBonus},
		},
		{
			name:       "delete of missing policy",
			handler:    func(a *App) http.HandlerFunc { return a.handleDeletePricing },
			id:         "42",
			wantStatus: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeCache()
			app := fakeApp(allPolicies(), c)
			for _, kind := range []pricing.Kind{pricing.KindDelivery, pricing.KindOrderBonus, pricing.KindConstructedBonus} {
				c.entries[cacheKey{kind, 7}] = pricing.Record{Kind: kind}
			}

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.id != "" {
				req = withID(req, tt.id)
			}
			rec := httptest.NewRecorder()
			tt.handler(app)(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if !slices.Equal(c.invalidated, tt.want) {
				t.Errorf("invalidated = %v, want %v", c.invalidated, tt.want)
			}
			for _, kind := range tt.want {
				if _, ok := c.entries[cacheKey{kind, 7}]; ok {
					t.Errorf("%s/7 still cached", kind)
				}
			}
			if got := len(c.entries); got != 3-len(tt.want) {
				t.Errorf("cache holds %d entries, want %d", got, 3-len(tt.want))
			}
		})
	}
}
