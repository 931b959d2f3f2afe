// Package reports turns raw per-courier aggregates into the operational
// reports shown in the back office. Money is carried as decimal so sums of
// many bonuses stay exact.
package reports

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Period is a half-open [From, To) range of whole days in UTC.
type Period struct {
	From time.Time
	To   time.Time
}

// Days is the number of calendar days the period covers.
func (p Period) Days() int {
	return int(p.To.Sub(p.From).Hours() / 24)
}

// ParsePeriod reads inclusive YYYY-MM-DD bounds. Missing bounds default to
// the month containing now.
func ParsePeriod(from, to string, now time.Time) (Period, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	p := Period{From: monthStart, To: monthStart.AddDate(0, 1, 0)}
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return Period{}, errors.New("from must be YYYY-MM-DD")
		}
		p.From = t
	}
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return Period{}, errors.New("to must be YYYY-MM-DD")
		}
		p.To = t.AddDate(0, 0, 1)
	}
	if !p.From.Before(p.To) {
		return Period{}, errors.New("from must not be after to")
	}
	return p, nil
}

// Attendance is one courier's presence and earned bonus over a period.
type Attendance struct {
	CourierID   int64
	CourierName string
	DaysPresent int
	Earned      decimal.Decimal
}

type GarantLine struct {
	CourierID   int64           `json:"courierId"`
	CourierName string          `json:"courierName"`
	DaysPresent int             `json:"daysPresent"`
	Guaranteed  decimal.Decimal `json:"guaranteed"`
	Earned      decimal.Decimal `json:"earned"`
	TopUp       decimal.Decimal `json:"topUp"`
}

type GarantReport struct {
	DailyGarant decimal.Decimal `json:"dailyGarant"`
	Items       []GarantLine    `json:"items"`
	TotalTopUp  decimal.Decimal `json:"totalTopUp"`
}

// Garant computes the guaranteed-pay top-up: every day a courier showed up
// is worth at least daily, and any shortfall of earned bonus is paid on top.
func Garant(rows []Attendance, daily decimal.Decimal) GarantReport {
	rep := GarantReport{DailyGarant: daily, Items: make([]GarantLine, 0, len(rows)), TotalTopUp: decimal.Zero}
	for _, r := range rows {
		guaranteed := daily.Mul(decimal.NewFromInt(int64(r.DaysPresent)))
		topUp := guaranteed.Sub(r.Earned)
		if topUp.IsNegative() {
			topUp = decimal.Zero
		}
		rep.Items = append(rep.Items, GarantLine{
			CourierID:   r.CourierID,
			CourierName: r.CourierName,
			DaysPresent: r.DaysPresent,
			Guaranteed:  guaranteed,
			Earned:      r.Earned,
			TopUp:       topUp,
		})
		rep.TotalTopUp = rep.TotalTopUp.Add(topUp)
	}
	return rep
}

type WalletLine struct {
	CourierID   int64           `json:"courierId"`
	CourierName string          `json:"courierName"`
	TerminalID  *int64          `json:"terminalId"`
	Balance     decimal.Decimal `json:"balance"`
}

type WalletSummary struct {
	Items    []WalletLine    `json:"items"`
	Total    decimal.Decimal `json:"total"`
	Debt     decimal.Decimal `json:"debt"`
	InDebt   int             `json:"inDebt"`
	Couriers int             `json:"couriers"`
}

// SummarizeWallets totals balances. Debt is the sum of negative balances, as a positive amount.
func SummarizeWallets(lines []WalletLine) WalletSummary {
	s := WalletSummary{Items: lines, Total: decimal.Zero, Debt: decimal.Zero, Couriers: len(lines)}
	if s.Items == nil {
		s.Items = []WalletLine{}
	}
	for _, l := range lines {
		s.Total = s.Total.Add(l.Balance)
		if l.Balance.IsNegative() {
			s.Debt = s.Debt.Sub(l.Balance)
			s.InDebt++
		}
	}
	return s
}

// Delivery aggregates are what the efficiency query returns per courier.
type Delivery struct {
	CourierID    int64
	CourierName  string
	Delivered    int
	DistanceKm   float64
	TotalMinutes float64
	Bonus        decimal.Decimal
}

type EfficiencyLine struct {
	CourierID     int64           `json:"courierId"`
	CourierName   string          `json:"courierName"`
	Delivered     int             `json:"delivered"`
	DistanceKm    float64         `json:"distanceKm"`
	AvgDistanceKm float64         `json:"avgDistanceKm"`
	AvgMinutes    float64         `json:"avgMinutes"`
	PerDay        float64         `json:"perDay"`
	Bonus         decimal.Decimal `json:"bonus"`
}

// Efficiency ranks couriers by deliveries, busiest first.
func Efficiency(rows []Delivery, p Period) []EfficiencyLine {
	days := p.Days()
	out := make([]EfficiencyLine, 0, len(rows))
	for _, r := range rows {
		l := EfficiencyLine{
			CourierID:   r.CourierID,
			CourierName: r.CourierName,
			Delivered:   r.Delivered,
			DistanceKm:  r.DistanceKm,
			Bonus:       r.Bonus,
		}
		if r.Delivered > 0 {
			l.AvgDistanceKm = r.DistanceKm / float64(r.Delivered)
			l.AvgMinutes = r.TotalMinutes / float64(r.Delivered)
		}
		if days > 0 {
			l.PerDay = float64(r.Delivered) / float64(days)
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Delivered != out[j].Delivered {
			return out[i].Delivered > out[j].Delivered
		}
		return out[i].CourierID < out[j].CourierID
	})
	return out
}
