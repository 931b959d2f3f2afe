package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"courierops/api/internal/geo"
	"courierops/api/internal/pricing"
)

type orderBody struct {
	TerminalID  int64      `json:"terminalId"`
	CourierID   *int64     `json:"courierId"`
	DistanceKm  *float64   `json:"distanceKm"`
	Destination *geo.Point `json:"destination"`
	Constructed bool       `json:"constructed"`
}

// validate requires a terminal and either distanceKm or a destination to measure from the terminal.
func (b orderBody) validate() error {
	if b.TerminalID <= 0 {
		return &pricing.ValidationError{Field: "terminalId", Reason: "is required"}
	}
	if b.DistanceKm != nil {
		return nil
	}
	if b.Destination == nil {
		return &pricing.ValidationError{Field: "distanceKm", Reason: "or destination is required"}
	}
	if err := b.Destination.Validate(); err != nil {
		return &pricing.ValidationError{Field: "destination", Reason: err.Error()}
	}
	return nil
}

// orderQuote is what an order is charged and what its courier earns.
type orderQuote struct {
	DeliveryPrice float64
	CourierBonus  float64
	DeliveryID    int64
	BonusID       *int64
}

var errNoDeliveryPolicy = errors.New("no delivery pricing policy applies to terminal")

// quoteOrder prices an order at creation time. A missing bonus policy means no bonus;
// a missing delivery policy means the order cannot be taken.
func (a *App) quoteOrder(ctx context.Context, terminalID int64, distance float64, constructed bool) (orderQuote, error) {
	var q orderQuote
	delivery, err := a.resolvePolicy(ctx, pricing.KindDelivery, terminalID)
	if errors.Is(err, pricing.ErrNotFound) {
		return q, errNoDeliveryPolicy
	}
	if err != nil {
		return q, err
	}
	q.DeliveryID = delivery.ID
	if q.DeliveryPrice, err = pricing.Calculate(distance, delivery.Policy, pricing.ModeDelivery); err != nil {
		return q, err
	}

	bonusKind := pricing.KindOrderBonus
	if constructed {
		bonusKind = pricing.KindConstructedBonus
	}
	bonus, err := a.resolvePolicy(ctx, bonusKind, terminalID)
	if errors.Is(err, pricing.ErrNotFound) {
		return q, nil
	}
	if err != nil {
		return q, err
	}
	q.BonusID = &bonus.ID
	if q.CourierBonus, err = pricing.Calculate(distance, bonus.Policy, pricing.ModeBonus); err != nil {
		return q, err
	}
	return q, nil
}

func (a *App) terminalLocation(ctx context.Context, terminalID int64) (geo.Point, error) {
	var p geo.Point
	err := a.db.QueryRow(ctx, `SELECT lat, lng FROM terminals WHERE id = $1`, terminalID).Scan(&p.Lat, &p.Lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, pricing.ErrUnknownTerminal
	}
	return p, err
}

func (a *App) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body orderBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := body.validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	var distance float64
	if body.DistanceKm != nil {
		distance = *body.DistanceKm
	} else {
		from, err := a.terminalLocation(r.Context(), body.TerminalID)
		if err != nil {
			a.writeDBError(w, err, "terminal")
			return
		}
		distance = geo.DistanceKm(from, *body.Destination)
	}

	q, err := a.quoteOrder(r.Context(), body.TerminalID, distance, body.Constructed)
	switch {
	case errors.Is(err, errNoDeliveryPolicy):
		writeAPIError(w, http.StatusUnprocessableEntity, "NO_POLICY", err.Error())
		return
	case pricing.IsValidation(err):
		writeValidationError(w, err)
		return
	case err != nil:
		a.writeDBError(w, err, "pricing policy")
		return
	}

	var id int64
	var createdAt time.Time
	err = a.db.QueryRow(r.Context(), `
    INSERT INTO orders (terminal_id, courier_id, status_id, distance_km, constructed, delivery_price, courier_bonus)
    VALUES ($1, $2, (SELECT id FROM order_statuses ORDER BY (code = 'NEW') DESC, sort, id LIMIT 1),
            $3, $4, $5::numeric, $6::numeric)
    RETURNING id, created_at
  `, body.TerminalID, body.CourierID, distance, body.Constructed,
		decimal.NewFromFloat(q.DeliveryPrice).String(), decimal.NewFromFloat(q.CourierBonus).String(),
	).Scan(&id, &createdAt)
	if err != nil {
		a.writeDBError(w, err, "order")
		return
	}
	a.infoLog.Printf("order %d terminal=%d km=%.3f price=%.0f bonus=%.0f (policies %d/%v)",
		id, body.TerminalID, distance, q.DeliveryPrice, q.CourierBonus, q.DeliveryID, fmtID(q.BonusID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":            id,
		"distanceKm":    distance,
		"deliveryPrice": q.DeliveryPrice,
		"courierBonus":  q.CourierBonus,
		"createdAt":     createdAt,
	})
}

func fmtID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprint(*id)
}

func (a *App) handleListOrders(w http.ResponseWriter, r *http.Request) {
	terminalID, ok := queryID(w, r, "terminalId")
	if !ok {
		return
	}
	courierID, ok := queryID(w, r, "courierId")
	if !ok {
		return
	}
	statusCode := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("statusCode")))
	page, pageSize, offset := paging(r)

	const where = `
    WHERE ($1::bigint IS NULL OR o.terminal_id = $1)
      AND ($2::bigint IS NULL OR o.courier_id = $2)
      AND ($3 = '' OR s.code = $3)`

	var total int64
	if err := a.db.QueryRow(r.Context(), `
    SELECT COUNT(*) FROM orders o JOIN order_statuses s ON s.id = o.status_id`+where,
		terminalID, courierID, statusCode).Scan(&total); err != nil {
		a.writeDBError(w, err, "orders")
		return
	}

	rows, err := a.db.Query(r.Context(), `
    SELECT o.id, o.terminal_id, t.name, o.courier_id, COALESCE(c.first_name || ' ' || c.last_name, ''),
           s.code, s.name, s.color, o.distance_km, o.constructed,
           o.delivery_price::text, o.courier_bonus::text, o.created_at, o.delivered_at
    FROM orders o
    JOIN order_statuses s ON s.id = o.status_id
    JOIN terminals t ON t.id = o.terminal_id
    LEFT JOIN couriers c ON c.id = o.courier_id`+where+`
    ORDER BY o.created_at DESC, o.id DESC
    LIMIT $4 OFFSET $5
  `, terminalID, courierID, statusCode, pageSize, offset)
	if err != nil {
		a.writeDBError(w, err, "orders")
		return
	}
	defer rows.Close()

	items := []map[string]any{}
	for rows.Next() {
		var (
			id, tid                           int64
			cid                               *int64
			tname, cname, code, sname, scolor string
			distance                          float64
			constructed                       bool
			price, bonus                      decimal.Decimal
			createdAt                         time.Time
			deliveredAt                       *time.Time
		)
		if err := rows.Scan(&id, &tid, &tname, &cid, &cname, &code, &sname, &scolor, &distance, &constructed,
			&price, &bonus, &createdAt, &deliveredAt); err != nil {
			a.writeDBError(w, err, "orders")
			return
		}
		items = append(items, map[string]any{
			"id":            id,
			"terminal":      map[string]any{"id": tid, "name": tname},
			"courierId":     cid,
			"courierName":   strings.TrimSpace(cname),
			"status":        map[string]any{"code": code, "name": sname, "color": scolor},
			"distanceKm":    distance,
			"constructed":   constructed,
			"deliveryPrice": price,
			"courierBonus":  bonus,
			"createdAt":     createdAt,
			"deliveredAt":   deliveredAt,
		})
	}
	if err := rows.Err(); err != nil {
		a.writeDBError(w, err, "orders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"page":     page,
		"pageSize": pageSize,
		"total":    total,
	})
}

// handleSetOrderStatus moves an order to another status. Entering a final
// status stamps delivered_at once; leaving it clears the stamp.
func (a *App) handleSetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	var body struct {
		StatusCode string `json:"statusCode"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	code := strings.ToUpper(strings.TrimSpace(body.StatusCode))
	if code == "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "statusCode required")
		return
	}

	var statusID int64
	var isFinal bool
	if err := a.db.QueryRow(r.Context(), `SELECT id, is_final FROM order_statuses WHERE code=$1`, code).
		Scan(&statusID, &isFinal); err != nil {
		a.writeDBError(w, err, "order status")
		return
	}

	var deliveredAt *time.Time
	err := a.db.QueryRow(r.Context(), `
    UPDATE orders
    SET status_id = $1,
        delivered_at = CASE WHEN $2 THEN COALESCE(delivered_at, NOW()) ELSE NULL END
    WHERE id = $3
    RETURNING delivered_at
  `, statusID, isFinal, id).Scan(&deliveredAt)
	if err != nil {
		a.writeDBError(w, err, "order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "statusCode": code, "deliveredAt": deliveredAt})
}
