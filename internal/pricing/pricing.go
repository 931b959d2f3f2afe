// Package pricing computes delivery prices and courier bonuses from tiered
// distance ladders.
package pricing

import (
	"fmt"
	"math"
)

// Mode selects how the price left after the tier ladder is finished.
type Mode string

const (
	// ModeDelivery bills overage linearly and rounds the total to the nearest 500.
	ModeDelivery Mode = "delivery"
	// ModeBonus bills whole overage kilometers and buckets the remaining meters.
	ModeBonus Mode = "bonus"
)

const deliveryStep = 500

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDelivery, ModeBonus:
		return Mode(s), nil
	case "":
		return ModeDelivery, nil
	}
	return "", &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s)}
}

// Rule is one band of the ladder. From and To are kilometers, Price is in sums.
type Rule struct {
	From  float64 `json:"from" yaml:"from"`
	To    float64 `json:"to" yaml:"to"`
	Price float64 `json:"price" yaml:"price"`
}

// Policy is a tier ladder plus the per-kilometer rate used once the ladder is exhausted.
// Rules are applied in slice order and are never re-sorted.
type Policy struct {
	Rules      []Rule  `json:"rules" yaml:"rules"`
	PricePerKm float64 `json:"price_per_km" yaml:"price_per_km"`
}

// Calculate prices distance kilometers against the policy.
//
// Every rule entered while distance remains contributes its full flat price
// and debits its whole span, even when the span overshoots what is left.
// Callers must supply rules in ascending, non-overlapping order.
func Calculate(distance float64, policy Policy, mode Mode) (float64, error) {
	if err := checkInput(distance, policy); err != nil {
		return 0, err
	}
	price, remaining := ladder(distance, policy.Rules)

	switch mode {
	case ModeDelivery:
		if remaining > 0 {
			price += remaining * policy.PricePerKm
		}
		return roundToStep(price, deliveryStep), nil
	case ModeBonus:
		if remaining > 0 {
			price += math.Floor(remaining)*policy.PricePerKm + meterSurcharge(remaining)
		}
		return price, nil
	}
	return 0, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
}

// DeliveryPrice is Calculate in ModeDelivery.
func DeliveryPrice(distance float64, rules []Rule, pricePerKm float64) (float64, error) {
	return Calculate(distance, Policy{Rules: rules, PricePerKm: pricePerKm}, ModeDelivery)
}

// BonusPrice is Calculate in ModeBonus.
func BonusPrice(distance float64, rules []Rule, pricePerKm float64) (float64, error) {
	return Calculate(distance, Policy{Rules: rules, PricePerKm: pricePerKm}, ModeBonus)
}

func ladder(distance float64, rules []Rule) (price, remaining float64) {
	remaining = distance
	for _, r := range rules {
		if remaining > 0 {
			remaining -= r.To - r.From
			price += r.Price
		}
	}
	return price, remaining
}

// meterSurcharge buckets the fractional kilometer, in meters, into quarter steps.
func meterSurcharge(km float64) float64 {
	meters := math.Mod(km, 1) * 1000
	switch {
	case meters == 0:
		return 0
	case meters < 250:
		return 500
	case meters < 500:
		return 1000
	default:
		return 1500
	}
}

// roundToStep rounds half up, matching what the admin UI has always shown.
func roundToStep(v float64, step float64) float64 {
	return math.Floor(v/step+0.5) * step
}

func checkInput(distance float64, policy Policy) error {
	if !finite(distance) {
		return &ValidationError{Field: "distance", Reason: "must be a finite number"}
	}
	if distance < 0 {
		return &ValidationError{Field: "distance", Reason: "must not be negative"}
	}
	if !finite(policy.PricePerKm) {
		return &ValidationError{Field: "price_per_km", Reason: "must be a finite number"}
	}
	for i, r := range policy.Rules {
		if err := r.checkFinite(i); err != nil {
			return err
		}
	}
	return nil
}

func (r Rule) checkFinite(i int) error {
	switch {
	case !finite(r.From):
		return &ValidationError{Field: ruleField(i, "from"), Reason: "must be a finite number"}
	case !finite(r.To):
		return &ValidationError{Field: ruleField(i, "to"), Reason: "must be a finite number"}
	case !finite(r.Price):
		return &ValidationError{Field: ruleField(i, "price"), Reason: "must be a finite number"}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func ruleField(i int, name string) string {
	return fmt.Sprintf("rules[%d].%s", i, name)
}
