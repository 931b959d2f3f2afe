package httpapi

import (
	"net/http"
	"strings"
)

type terminalBody struct {
	OrganizationID int64   `json:"organizationId"`
	Name           string  `json:"name"`
	Address        string  `json:"address"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	Active         *bool   `json:"active"`
}

func (b *terminalBody) normalize() string {
	b.Name = strings.TrimSpace(b.Name)
	b.Address = strings.TrimSpace(b.Address)
	switch {
	case b.Name == "":
		return "name required"
	case b.OrganizationID <= 0:
		return "organizationId required"
	case b.Lat < -90 || b.Lat > 90 || b.Lng < -180 || b.Lng > 180:
		return "lat/lng out of range"
	}
	if b.Active == nil {
		t := true
		b.Active = &t
	}
	return ""
}

func (a *App) handleListTerminals(w http.ResponseWriter, r *http.Request) {
	orgID, ok := queryID(w, r, "organizationId")
	if !ok {
		return
	}
	rows, err := a.db.Query(r.Context(), `
    SELECT t.id, t.organization_id, o.name, t.name, t.address, t.lat, t.lng, t.active
    FROM terminals t
    JOIN organizations o ON o.id = t.organization_id
    WHERE $1::bigint IS NULL OR t.organization_id = $1
    ORDER BY t.organization_id, t.id
  `, orgID)
	if err != nil {
		a.writeDBError(w, err, "terminals")
		return
	}
	defer rows.Close()
	items := []map[string]any{}
	for rows.Next() {
		var id, oid int64
		var orgName, name, address string
		var lat, lng float64
		var active bool
		if err := rows.Scan(&id, &oid, &orgName, &name, &address, &lat, &lng, &active); err != nil {
			a.writeDBError(w, err, "terminals")
			return
		}
		items = append(items, map[string]any{
			"id": id, "name": name, "address": address, "lat": lat, "lng": lng, "active": active,
			"organization": map[string]any{"id": oid, "name": orgName},
		})
	}
	if err := rows.Err(); err != nil {
		a.writeDBError(w, err, "terminals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) handleCreateTerminal(w http.ResponseWriter, r *http.Request) {
	var body terminalBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if msg := body.normalize(); msg != "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", msg)
		return
	}
	var id int64
	err := a.db.QueryRow(r.Context(), `
    INSERT INTO terminals (organization_id, name, address, lat, lng, active)
    VALUES ($1,$2,$3,$4,$5,$6) RETURNING id
  `, body.OrganizationID, body.Name, body.Address, body.Lat, body.Lng, *body.Active).Scan(&id)
	if err != nil {
		a.writeDBError(w, err, "terminal")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *App) handleUpdateTerminal(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	var body terminalBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if msg := body.normalize(); msg != "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", msg)
		return
	}
	tag, err := a.db.Exec(r.Context(), `
    UPDATE terminals SET organization_id=$1, name=$2, address=$3, lat=$4, lng=$5, active=$6 WHERE id=$7
  `, body.OrganizationID, body.Name, body.Address, body.Lat, body.Lng, *body.Active, id)
	if err != nil {
		a.writeDBError(w, err, "terminal")
		return
	}
	if tag.RowsAffected() == 0 {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "terminal not found")
		return
	}
	// The terminal may have moved to another organization, changing which policy it resolves to.
	a.invalidatePolicies(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *App) handleDeleteTerminal(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	tag, err := a.db.Exec(r.Context(), `DELETE FROM terminals WHERE id=$1`, id)
	if err != nil {
		a.writeDBError(w, err, "terminal")
		return
	}
	if tag.RowsAffected() == 0 {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "terminal not found")
		return
	}
	a.invalidatePolicies(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
