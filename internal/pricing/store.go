package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound        = errors.New("pricing policy not found")
	ErrUnknownTerminal = errors.New("terminal not found")
)

// Record is a stored policy. A nil TerminalID applies to the whole organization;
// nil OrganizationID as well makes it the platform default.
type Record struct {
	ID             int64     `json:"id"`
	Kind           Kind      `json:"kind"`
	OrganizationID *int64    `json:"organizationId"`
	TerminalID     *int64    `json:"terminalId"`
	Name           string    `json:"name"`
	Active         bool      `json:"active"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Policy
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const recordColumns = `id, kind, organization_id, terminal_id, name, active, updated_at, rules, price_per_km`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var rules []byte
	err := row.Scan(&rec.ID, &rec.Kind, &rec.OrganizationID, &rec.TerminalID, &rec.Name,
		&rec.Active, &rec.UpdatedAt, &rules, &rec.PricePerKm)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(rules, &rec.Rules); err != nil {
		return Record{}, fmt.Errorf("policy %d rules: %w", rec.ID, err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, kind Kind, organizationID *int64) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
    SELECT `+recordColumns+`
    FROM pricing_policies
    WHERE ($1 = '' OR kind = $1)
      AND ($2::bigint IS NULL OR organization_id = $2)
    ORDER BY kind, organization_id NULLS FIRST, terminal_id NULLS FIRST, id
  `, string(kind), organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id int64) (Record, error) {
	return scanRecord(s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM pricing_policies WHERE id = $1`, id))
}

// Resolve picks the active policy of kind for a terminal: the terminal's own,
// then its organization's, then the platform default. An unknown terminal is
// ErrUnknownTerminal; a terminal nothing applies to is ErrNotFound.
func (s *Store) Resolve(ctx context.Context, kind Kind, terminalID int64) (Record, error) {
	var orgID int64
	err := s.db.QueryRow(ctx, `SELECT organization_id FROM terminals WHERE id = $1`, terminalID).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrUnknownTerminal
	}
	if err != nil {
		return Record{}, err
	}

	rows, err := s.db.Query(ctx, `
    SELECT `+recordColumns+`
    FROM pricing_policies
    WHERE kind = $1 AND active
      AND (terminal_id = $2
        OR (terminal_id IS NULL AND organization_id = $3)
        OR (terminal_id IS NULL AND organization_id IS NULL))
  `, string(kind), terminalID, orgID)
	if err != nil {
		return Record{}, err
	}
	defer rows.Close()

	var candidates []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return Record{}, err
		}
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		return Record{}, err
	}
	rec, ok := pickPolicy(candidates, terminalID, orgID)
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// pickPolicy chooses the most specific active candidate for a terminal.
// Within one level the most recently created policy wins.
func pickPolicy(candidates []Record, terminalID, organizationID int64) (Record, bool) {
	level := func(r Record) int {
		switch {
		case r.TerminalID != nil && *r.TerminalID == terminalID:
			return 3
		case r.TerminalID == nil && r.OrganizationID != nil && *r.OrganizationID == organizationID:
			return 2
		case r.TerminalID == nil && r.OrganizationID == nil:
			return 1
		}
		return 0
	}
	var best Record
	bestLevel := 0
	for _, r := range candidates {
		if !r.Active {
			continue
		}
		l := level(r)
		if l == 0 {
			continue
		}
		if l > bestLevel || (l == bestLevel && r.ID > best.ID) {
			best, bestLevel = r, l
		}
	}
	return best, bestLevel > 0
}

func (s *Store) Create(ctx context.Context, rec Record) (int64, error) {
	rules, err := json.Marshal(rec.Rules)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(ctx, `
    INSERT INTO pricing_policies (kind, organization_id, terminal_id, name, active, rules, price_per_km)
    VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7)
    RETURNING id
  `, string(rec.Kind), rec.OrganizationID, rec.TerminalID, rec.Name, rec.Active, string(rules), rec.PricePerKm).Scan(&id)
	return id, err
}

func (s *Store) Update(ctx context.Context, rec Record) error {
	rules, err := json.Marshal(rec.Rules)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
    UPDATE pricing_policies
    SET kind=$1, organization_id=$2, terminal_id=$3, name=$4, active=$5, rules=$6::jsonb, price_per_km=$7, updated_at=NOW()
    WHERE id=$8
  `, string(rec.Kind), rec.OrganizationID, rec.TerminalID, rec.Name, rec.Active, string(rules), rec.PricePerKm, rec.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the policy and returns its kind so callers can drop cached lookups.
func (s *Store) Delete(ctx context.Context, id int64) (Kind, error) {
	var kind Kind
	err := s.db.QueryRow(ctx, `DELETE FROM pricing_policies WHERE id=$1 RETURNING kind`, id).Scan(&kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return kind, err
}
