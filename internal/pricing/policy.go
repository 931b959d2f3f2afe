package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValidationError reports which input field made a price impossible to compute.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Kind names what a stored policy prices.
type Kind string

const (
	KindDelivery         Kind = "delivery"
	KindOrderBonus       Kind = "order_bonus"
	KindConstructedBonus Kind = "constructed_bonus"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.TrimSpace(s)); k {
	case KindDelivery, KindOrderBonus, KindConstructedBonus:
		return k, nil
	}
	return "", &ValidationError{Field: "kind", Reason: "must be delivery|order_bonus|constructed_bonus"}
}

// Mode returns the calculation mode used for policies of this kind.
func (k Kind) Mode() Mode {
	if k == KindDelivery {
		return ModeDelivery
	}
	return ModeBonus
}

// CheckOrder reports tiers that are inverted, unordered or overlapping.
// Calculate does not call it; the ladder is priced as given.
func (p Policy) CheckOrder() error {
	for i, r := range p.Rules {
		if r.From > r.To {
			return &ValidationError{Field: ruleField(i, "to"), Reason: "must not be below from"}
		}
		if i > 0 && r.From < p.Rules[i-1].To {
			return &ValidationError{Field: ruleField(i, "from"), Reason: "overlaps or precedes the previous tier"}
		}
	}
	return nil
}

// Validate is the check applied before a policy is stored.
func (p Policy) Validate() error {
	if !finite(p.PricePerKm) || p.PricePerKm < 0 {
		return &ValidationError{Field: "price_per_km", Reason: "must be a non-negative number"}
	}
	for i, r := range p.Rules {
		if err := r.checkFinite(i); err != nil {
			return err
		}
		if r.From < 0 {
			return &ValidationError{Field: ruleField(i, "from"), Reason: "must not be negative"}
		}
		if r.Price < 0 {
			return &ValidationError{Field: ruleField(i, "price"), Reason: "must not be negative"}
		}
	}
	return p.CheckOrder()
}

// UnmarshalJSON accepts tier bounds and prices as JSON numbers or numeric strings,
// since older policies were saved straight from form inputs.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw struct {
		From  json.RawMessage `json:"from"`
		To    json.RawMessage `json:"to"`
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if r.From, err = parseNumber("from", raw.From); err != nil {
		return err
	}
	if r.To, err = parseNumber("to", raw.To); err != nil {
		return err
	}
	if r.Price, err = parseNumber("price", raw.Price); err != nil {
		return err
	}
	return nil
}

func parseNumber(field string, raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, &ValidationError{Field: field, Reason: "is required"}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || !finite(v) {
			return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a number", s)}
		}
		return v, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, &ValidationError{Field: field, Reason: "is not a number"}
	}
	return v, nil
}
