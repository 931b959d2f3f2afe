package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type organizationBody struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Active *bool  `json:"active"`
}

func (b *organizationBody) normalize() string {
	b.Name = strings.TrimSpace(b.Name)
	b.Phone = strings.TrimSpace(b.Phone)
	if b.Name == "" {
		return "name required"
	}
	if b.Active == nil {
		t := true
		b.Active = &t
	}
	return ""
}

func (a *App) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	rows, err := a.db.Query(r.Context(), `
    SELECT o.id, o.name, o.phone, o.active, o.created_at,
           (SELECT COUNT(*) FROM terminals t WHERE t.organization_id = o.id) AS terminals
    FROM organizations o
    WHERE $1 = '' OR o.name ILIKE '%' || $1 || '%'
    ORDER BY o.id
  `, q)
	if err != nil {
		a.writeDBError(w, err, "organizations")
		return
	}
	defer rows.Close()
	items := []map[string]any{}
	for rows.Next() {
		var id, terminals int64
		var name, phone string
		var active bool
		var created time.Time
		if err := rows.Scan(&id, &name, &phone, &active, &created, &terminals); err != nil {
			a.writeDBError(w, err, "organizations")
			return
		}
		items = append(items, map[string]any{
			"id": id, "name": name, "phone": phone, "active": active,
			"createdAt": created, "terminals": terminals,
		})
	}
	if err := rows.Err(); err != nil {
		a.writeDBError(w, err, "organizations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var body organizationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if msg := body.normalize(); msg != "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", msg)
		return
	}
	var id int64
	err := a.db.QueryRow(r.Context(),
		`INSERT INTO organizations (name, phone, active) VALUES ($1,$2,$3) RETURNING id`,
		body.Name, body.Phone, *body.Active).Scan(&id)
	if err != nil {
		a.writeDBError(w, err, "organization")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *App) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	var body organizationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if msg := body.normalize(); msg != "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", msg)
		return
	}
	tag, err := a.db.Exec(r.Context(),
		`UPDATE organizations SET name=$1, phone=$2, active=$3 WHERE id=$4`,
		body.Name, body.Phone, *body.Active, id)
	if err != nil {
		a.writeDBError(w, err, "organization")
		return
	}
	if tag.RowsAffected() == 0 {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "organization not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *App) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	tag, err := a.db.Exec(r.Context(), `DELETE FROM organizations WHERE id=$1`, id)
	if err != nil {
		a.writeDBError(w, err, "organization")
		return
	}
	if tag.RowsAffected() == 0 {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "organization not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
