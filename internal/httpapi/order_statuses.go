package httpapi

import (
	"net/http"
	"regexp"
	"strings"
)

var (
	statusCodeRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,31}$`)
	colorRe      = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

type statusBody struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	Sort    int    `json:"sort"`
	IsFinal bool   `json:"isFinal"`
}

func (b *statusBody) normalize() string {
	b.Code = strings.ToUpper(strings.TrimSpace(b.Code))
	b.Name = strings.TrimSpace(b.Name)
	b.Color = strings.TrimSpace(b.Color)
	if b.Color == "" {
		b.Color = "#999999"
	}
	switch {
	case !statusCodeRe.MatchString(b.Code):
		return "code must be 2-32 chars of A-Z, 0-9 and _"
	case b.Name == "":
		return "name required"
	case !colorRe.MatchString(b.Color):
		return "color must be #RRGGBB"
	}
	return ""
}

func (a *App) handleListStatuses(w http.ResponseWriter, r *http.Request) {
	rows, err := a.db.Query(r.Context(), `
    SELECT id, code, name, color, sort, is_final
    FROM order_statuses
    ORDER BY sort, id
  `)
	if err != nil {
		a.writeDBError(w, err, "order statuses")
		return
	}
	defer rows.Close()
	items := []map[string]any{}
	for rows.Next() {
		var id int64
		var b statusBody
		if err := rows.Scan(&id, &b.Code, &b.Name, &b.Color, &b.Sort, &b.IsFinal); err != nil {
			a.writeDBError(w, err, "order statuses")
			return
		}
		items = append(items, map[string]any{
			"id": id, "code": b.Code, "name": b.Name, "color": b.Color, "sort": b.Sort, "isFinal": b.IsFinal,
		})
	}
	if err := rows.Err(); err != nil {
		a.writeDBError(w, err, "order statuses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) handleCreateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if msg := body.normalize(); msg != "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", msg)
		return
	}
	var id int64
	err := a.db.QueryRow(r.Context(), `
    INSERT INTO order_statuses (code, name, color, sort, is_final)
    VALUES ($1,$2,$3,$4,$5) RETURNING id
  `, body.Code, body.Name, body.Color, body.Sort, body.IsFinal).Scan(&id)
	if err != nil {
		a.writeDBError(w, err, "order status")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *App) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	var body statusBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if msg := body.normalize(); msg != "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", msg)
		return
	}
	tag, err := a.db.Exec(r.Context(), `
    UPDATE order_statuses SET code=$1, name=$2, color=$3, sort=$4, is_final=$5 WHERE id=$6
  `, body.Code, body.Name, body.Color, body.Sort, body.IsFinal, id)
	if err != nil {
		a.writeDBError(w, err, "order status")
		return
	}
	if tag.RowsAffected() == 0 {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "order status not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleDeleteStatus refuses while orders still reference the status (FK 23503 -> 400).
func (a *App) handleDeleteStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	tag, err := a.db.Exec(r.Context(), `DELETE FROM order_statuses WHERE id=$1`, id)
	if err != nil {
		a.writeDBError(w, err, "order status")
		return
	}
	if tag.RowsAffected() == 0 {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "order status not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
