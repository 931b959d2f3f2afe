package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"courierops/api/internal/reports"
)

func (a *App) reportPeriod(w http.ResponseWriter, r *http.Request) (reports.Period, bool) {
	p, err := reports.ParsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"), time.Now().UTC())
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return reports.Period{}, false
	}
	return p, true
}

func (a *App) handleReportEfficiency(w http.ResponseWriter, r *http.Request) {
	p, ok := a.reportPeriod(w, r)
	if !ok {
		return
	}
	terminalID, ok := queryID(w, r, "terminalId")
	if !ok {
		return
	}
	rows, err := a.db.Query(r.Context(), `
    SELECT c.id, TRIM(c.first_name || ' ' || c.last_name),
           COUNT(o.id),
           COALESCE(SUM(o.distance_km), 0),
           COALESCE(SUM(EXTRACT(EPOCH FROM (o.delivered_at - o.created_at)) / 60), 0)::float8,
           COALESCE(SUM(o.courier_bonus), 0)::text
    FROM orders o
    JOIN order_statuses s ON s.id = o.status_id
    JOIN couriers c ON c.id = o.courier_id
    WHERE s.code = 'DELIVERED'
      AND o.delivered_at >= $1 AND o.delivered_at < $2
      AND ($3::bigint IS NULL OR o.terminal_id = $3)
    GROUP BY c.id
  `, p.From, p.To, terminalID)
	if err != nil {
		a.writeDBError(w, err, "courier efficiency")
		return
	}
	defer rows.Close()

	var data []reports.Delivery
	for rows.Next() {
		var d reports.Delivery
		if err := rows.Scan(&d.CourierID, &d.CourierName, &d.Delivered, &d.DistanceKm, &d.TotalMinutes, &d.Bonus); err != nil {
			a.writeDBError(w, err, "courier efficiency")
			return
		}
		data = append(data, d)
	}
	if err := rows.Err(); err != nil {
		a.writeDBError(w, err, "courier efficiency")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":  p.From.Format("2006-01-02"),
		"to":    p.To.AddDate(0, 0, -1).Format("2006-01-02"),
		"items": reports.Efficiency(data, p),
	})
}

func (a *App) handleReportGarant(w http.ResponseWriter, r *http.Request) {
	p, ok := a.reportPeriod(w, r)
	if !ok {
		return
	}
	daily, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("dailyGarant")))
	if err != nil || !daily.IsPositive() {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "dailyGarant must be a positive amount")
		return
	}

	rows, err := a.db.Query(r.Context(), `
    SELECT c.id, TRIM(c.first_name || ' ' || c.last_name), COUNT(DISTINCT rc.day),
           COALESCE((
             SELECT SUM(o.courier_bonus)
             FROM orders o
             JOIN order_statuses s ON s.id = o.status_id
             WHERE o.courier_id = c.id AND s.code = 'DELIVERED'
               AND o.delivered_at >= $1 AND o.delivered_at < $2
           ), 0)::text
    FROM couriers c
    JOIN roll_calls rc ON rc.courier_id = c.id AND rc.day >= $3::date AND rc.day < $4::date
    GROUP BY c.id
    ORDER BY c.id
  `, p.From, p.To, p.From.Format("2006-01-02"), p.To.Format("2006-01-02"))
	if err != nil {
		a.writeDBError(w, err, "garant")
		return
	}
	defer rows.Close()

	var data []reports.Attendance
	for rows.Next() {
		var at reports.Attendance
		if err := rows.Scan(&at.CourierID, &at.CourierName, &at.DaysPresent, &at.Earned); err != nil {
			a.writeDBError(w, err, "garant")
			return
		}
		data = append(data, at)
	}
	if err := rows.Err(); err != nil {
		a.writeDBError(w, err, "garant")
		return
	}
	writeJSON(w, http.StatusOK, reports.Garant(data, daily))
}

func (a *App) handleReportWallets(w http.ResponseWriter, r *http.Request) {
	terminalID, ok := queryID(w, r, "terminalId")
	if !ok {
		return
	}
	rows, err := a.db.Query(r.Context(), `
    SELECT id, TRIM(first_name || ' ' || last_name), terminal_id, wallet_balance::text
    FROM couriers
    WHERE $1::bigint IS NULL OR terminal_id = $1
    ORDER BY wallet_balance, id
  `, terminalID)
	if err != nil {
		a.writeDBError(w, err, "wallet balances")
		return
	}
	defer rows.Close()

	var lines []reports.WalletLine
	for rows.Next() {
		var l reports.WalletLine
		if err := rows.Scan(&l.CourierID, &l.CourierName, &l.TerminalID, &l.Balance); err != nil {
			a.writeDBError(w, err, "wallet balances")
			return
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		a.writeDBError(w, err, "wallet balances")
		return
	}
	writeJSON(w, http.StatusOK, reports.SummarizeWallets(lines))
}

func (a *App) handleReportRollCall(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC().Format("2006-01-02")
	if v := strings.TrimSpace(r.URL.Query().Get("date")); v != "" {
		if _, err := time.Parse("2006-01-02", v); err != nil {
			writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "date must be YYYY-MM-DD")
			return
		}
		day = v
	}
	terminalID, ok := queryID(w, r, "terminalId")
	if !ok {
		return
	}

	rows, err := a.db.Query(r.Context(), `
    SELECT c.id, TRIM(c.first_name || ' ' || c.last_name), c.terminal_id, rc.checked_in_at
    FROM couriers c
    LEFT JOIN roll_calls rc ON rc.courier_id = c.id AND rc.day = $1::date
    WHERE c.status = 'ACTIVE' AND ($2::bigint IS NULL OR c.terminal_id = $2)
    ORDER BY rc.checked_in_at NULLS LAST, c.id
  `, day, terminalID)
	if err != nil {
		a.writeDBError(w, err, "roll call")
		return
	}
	defer rows.Close()

	items := []map[string]any{}
	present := 0
	for rows.Next() {
		var id int64
		var name string
		var tid *int64
		var at *time.Time
		if err := rows.Scan(&id, &name, &tid, &at); err != nil {
			a.writeDBError(w, err, "roll call")
			return
		}
		if at != nil {
			present++
		}
		items = append(items, map[string]any{
			"courierId": id, "courierName": name, "terminalId": tid,
			"present": at != nil, "checkedInAt": at,
		})
	}
	if err := rows.Err(); err != nil {
		a.writeDBError(w, err, "roll call")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":    day,
		"items":   items,
		"present": present,
		"absent":  len(items) - present,
	})
}
