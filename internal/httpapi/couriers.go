package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var courierStatuses = map[string]bool{"ACTIVE": true, "BLOCKED": true, "INACTIVE": true}

type courierBody struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Phone      string `json:"phone"`
	TerminalID *int64 `json:"terminalId"`
	Status     string `json:"status"`
}

func (b *courierBody) normalize() string {
	b.FirstName = strings.TrimSpace(b.FirstName)
	b.LastName = strings.TrimSpace(b.LastName)
	b.Phone = strings.TrimSpace(b.Phone)
	b.Status = strings.ToUpper(strings.TrimSpace(b.Status))
	if b.Status == "" {
		b.Status = "ACTIVE"
	}
	switch {
	case b.FirstName == "":
		return "firstName required"
	case len(b.Phone) < 7:
		return "phone required"
	case !courierStatuses[b.Status]:
		return "status must be ACTIVE|BLOCKED|INACTIVE"
	}
	return ""
}

func (a *App) handleListCouriers(w http.ResponseWriter, r *http.Request) {
	terminalID, ok := queryID(w, r, "terminalId")
	if !ok {
		return
	}
	status := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !courierStatuses[status] {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid status")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	page, pageSize, offset := paging(r)

	var total int64
	if err := a.db.QueryRow(r.Context(), `
    SELECT COUNT(*) FROM couriers c
    WHERE ($1::bigint IS NULL OR c.terminal_id = $1)
      AND ($2 = '' OR c.status = $2)
      AND ($3 = '' OR c.first_name ILIKE '%' || $3 || '%' OR c.last_name ILIKE '%' || $3 || '%' OR c.phone LIKE '%' || $3 || '%')
  `, terminalID, status, q).Scan(&total); err != nil {
		a.writeDBError(w, err, "couriers")
		return
	}

	rows, err := a.db.Query(r.Context(), `
    SELECT c.id, c.first_name, c.last_name, c.phone, c.terminal_id, t.name, c.status, c.wallet_balance::text,
           EXISTS (SELECT 1 FROM roll_calls rc WHERE rc.courier_id = c.id AND rc.day = CURRENT_DATE) AS checked_in
    FROM couriers c
    LEFT JOIN terminals t ON t.id = c.terminal_id
    WHERE ($1::bigint IS NULL OR c.terminal_id = $1)
      AND ($2 = '' OR c.status = $2)
      AND ($3 = '' OR c.first_name ILIKE '%' || $3 || '%' OR c.last_name ILIKE '%' || $3 || '%' OR c.phone LIKE '%' || $3 || '%')
    ORDER BY c.id
    LIMIT $4 OFFSET $5
  `, terminalID, status, q, pageSize, offset)
	if err != nil {
		a.writeDBError(w, err, "couriers")
		return
	}
	defer rows.Close()

	items := []map[string]any{}
	for rows.Next() {
		var id int64
		var first, last, phone, st string
		var tid *int64
		var tname *string
		var balance decimal.Decimal
		var checkedIn bool
		if err := rows.Scan(&id, &first, &last, &phone, &tid, &tname, &st, &balance, &checkedIn); err != nil {
			a.writeDBError(w, err, "couriers")
			return
		}
		items = append(items, map[string]any{
			"id": id, "firstName": first, "lastName": last, "phone": phone,
			"terminalId": tid, "terminalName": tname, "status": st,
			"walletBalance": balance, "checkedInToday": checkedIn,
		})
	}
	if err := rows.Err(); err != nil {
		a.writeDBError(w, err, "couriers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"page":     page,
		"pageSize": pageSize,
		"total":    total,
	})
}

func (a *App) handleCreateCourier(w http.ResponseWriter, r *http.Request) {
	var body courierBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if msg := body.normalize(); msg != "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", msg)
		return
	}
	var id int64
	err := a.db.QueryRow(r.Context(), `
    INSERT INTO couriers (first_name, last_name, phone, terminal_id, status)
    VALUES ($1,$2,$3,$4,$5) RETURNING id
  `, body.FirstName, body.LastName, body.Phone, body.TerminalID, body.Status).Scan(&id)
	if err != nil {
		a.writeDBError(w, err, "courier")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *App) handleUpdateCourier(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	var body courierBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if msg := body.normalize(); msg != "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", msg)
		return
	}
	tag, err := a.db.Exec(r.Context(), `
    UPDATE couriers SET first_name=$1, last_name=$2, phone=$3, terminal_id=$4, status=$5 WHERE id=$6
  `, body.FirstName, body.LastName, body.Phone, body.TerminalID, body.Status, id)
	if err != nil {
		a.writeDBError(w, err, "courier")
		return
	}
	if tag.RowsAffected() == 0 {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "courier not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *App) handleDeleteCourier(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	tag, err := a.db.Exec(r.Context(), `DELETE FROM couriers WHERE id=$1`, id)
	if err != nil {
		a.writeDBError(w, err, "courier")
		return
	}
	if tag.RowsAffected() == 0 {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "courier not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type walletBody struct {
	Amount  decimal.Decimal `json:"amount"`
	Comment string          `json:"comment"`
}

// walletAmountError reports why amount cannot be posted, or "" if it can.
// Trailing zeros are fine; only value below a cent is rejected.
func walletAmountError(amount decimal.Decimal) string {
	switch {
	case amount.IsZero():
		return "amount must be non-zero"
	case !amount.Equal(amount.Round(2)):
		return "amount has more than 2 decimals"
	}
	return ""
}

// handleCourierWallet posts a credit (positive) or debit (negative) to the
// courier's wallet and records it in the ledger.
func (a *App) handleCourierWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	var body walletBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if msg := walletAmountError(body.Amount); msg != "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", msg)
		return
	}
	u, _ := userFrom(r.Context())

	balance, err := a.postWalletTx(r.Context(), id, u.ID, body)
	if err != nil {
		a.writeDBError(w, err, "courier")
		return
	}
	a.infoLog.Printf("wallet courier=%d amount=%s by user=%d", id, body.Amount, u.ID)
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (a *App) postWalletTx(ctx context.Context, courierID, userID int64, body walletBody) (decimal.Decimal, error) {
	tx, err := a.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance decimal.Decimal
	if err := tx.QueryRow(ctx, `
    UPDATE couriers SET wallet_balance = wallet_balance + $1::numeric
    WHERE id = $2
    RETURNING wallet_balance::text
  `, body.Amount.String(), courierID).Scan(&balance); err != nil {
		return decimal.Decimal{}, err
	}
	var createdBy *int64
	if userID > 0 {
		createdBy = &userID
	}
	if _, err := tx.Exec(ctx, `
    INSERT INTO wallet_transactions (courier_id, amount, comment, created_by)
    VALUES ($1, $2::numeric, $3, $4)
  `, courierID, body.Amount.String(), strings.TrimSpace(body.Comment), createdBy); err != nil {
		return decimal.Decimal{}, err
	}
	return balance, tx.Commit(ctx)
}

// handleCourierRollCall checks the courier in for today. A second check-in
// on the same day is a 409 via the (courier_id, day) unique key.
func (a *App) handleCourierRollCall(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	var status string
	if err := a.db.QueryRow(r.Context(), `SELECT status FROM couriers WHERE id=$1`, id).Scan(&status); err != nil {
		a.writeDBError(w, err, "courier")
		return
	}
	if status != "ACTIVE" {
		writeAPIError(w, http.StatusConflict, "CONFLICT", "courier is "+strings.ToLower(status))
		return
	}
	var at time.Time
	err := a.db.QueryRow(r.Context(), `
    INSERT INTO roll_calls (courier_id, day) VALUES ($1, CURRENT_DATE)
    RETURNING checked_in_at
  `, id).Scan(&at)
	if err != nil {
		a.writeDBError(w, err, "roll call")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"courierId": id, "checkedInAt": at})
}
