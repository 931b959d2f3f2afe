package db

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"golang.org/x/crypto/bcrypt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courierops/api/internal/pricing"
)

// Seed inserts staff accounts and the order status catalogue. With demo set it
// also adds an organization, terminals, couriers and default pricing so the
// back office is usable on an empty database. Fixed ids + ON CONFLICT keep it idempotent.
func Seed(ctx context.Context, pool *pgxpool.Pool, demo bool) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := seedUsers(ctx, tx); err != nil {
		return err
	}
	if err := seedStatuses(ctx, tx); err != nil {
		return err
	}
	if demo {
		if err := seedDemo(ctx, tx); err != nil {
			return err
		}
	}

	for _, table := range []string{"users", "order_statuses", "organizations", "terminals", "couriers", "pricing_policies"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), GREATEST((SELECT COALESCE(MAX(id), 0) FROM %[1]s), 1))`, table)); err != nil {
			return fmt.Errorf("reset %s sequence: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}

func seedUsers(ctx context.Context, tx pgx.Tx) error {
	users := []struct {
		id       int
		name     string
		email    string
		password string
		role     string
	}{
		{1, "Admin", "admin@courierops.local", "admin123", "ADMIN"},
		{2, "Operator", "operator@courierops.local", "operator123", "OPERATOR"},
		{3, "Analyst", "analyst@courierops.local", "analyst123", "ANALYST"},
	}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
      INSERT INTO users (id, name, email, password_hash, role)
      VALUES ($1,$2,$3,$4,$5)
      ON CONFLICT (id) DO NOTHING
    `, u.id, u.name, u.email, string(hash), u.role); err != nil {
			return fmt.Errorf("seed users: %w", err)
		}
	}
	return nil
}

func seedStatuses(ctx context.Context, tx pgx.Tx) error {
	statuses := []struct {
		id      int
		code    string
		name    string
		color   string
		isFinal bool
	}{
		{1, "NEW", "New", "#1677ff", false},
		{2, "ASSIGNED", "Courier assigned", "#722ed1", false},
		{3, "PICKED_UP", "Picked up", "#fa8c16", false},
		{4, "DELIVERED", "Delivered", "#52c41a", true},
		{5, "CANCELLED", "Cancelled", "#f5222d", true},
	}
	for i, s := range statuses {
		if _, err := tx.Exec(ctx, `
      INSERT INTO order_statuses (id, code, name, color, sort, is_final)
      VALUES ($1,$2,$3,$4,$5,$6)
      ON CONFLICT (id) DO NOTHING
    `, s.id, s.code, s.name, s.color, (i+1)*10, s.isFinal); err != nil {
			return fmt.Errorf("seed order_statuses: %w", err)
		}
	}
	return nil
}

func seedDemo(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `
    INSERT INTO organizations (id, name, phone)
    VALUES (1, 'Les Ailes', '+998712000000')
    ON CONFLICT (id) DO NOTHING
  `); err != nil {
		return fmt.Errorf("seed organizations: %w", err)
	}

	terminals := []struct {
		id       int
		name     string
		lat, lng float64
	}{
		{1, "Chilanzar", 41.2756, 69.2034},
		{2, "Yunusabad", 41.3650, 69.2880},
		{3, "Sergeli", 41.2270, 69.2190},
	}
	for _, t := range terminals {
		if _, err := tx.Exec(ctx, `
      INSERT INTO terminals (id, organization_id, name, lat, lng)
      VALUES ($1, 1, $2, $3, $4)
      ON CONFLICT (id) DO NOTHING
    `, t.id, t.name, t.lat, t.lng); err != nil {
			return fmt.Errorf("seed terminals: %w", err)
		}
	}

	rng := rand.New(rand.NewSource(42))
	names := []string{"Aziz", "Bekzod", "Dilshod", "Jasur", "Otabek", "Sardor", "Timur", "Ulugbek", "Farrux"}
	for i, n := range names {
		if _, err := tx.Exec(ctx, `
      INSERT INTO couriers (id, first_name, phone, terminal_id, wallet_balance)
      VALUES ($1,$2,$3,$4,$5)
      ON CONFLICT (id) DO NOTHING
    `, i+1, n, fmt.Sprintf("+99890%07d", 1000000+i), i%len(terminals)+1, (rng.Intn(40)-10)*1000); err != nil {
			return fmt.Errorf("seed couriers: %w", err)
		}
	}

	policies := []struct {
		id    int
		kind  pricing.Kind
		orgID *int64
		name  string
		p     pricing.Policy
	}{
		{1, pricing.KindDelivery, nil, "Default delivery", pricing.Policy{
			Rules:      []pricing.Rule{{From: 0, To: 3, Price: 8000}, {From: 3, To: 5, Price: 4000}},
			PricePerKm: 2000,
		}},
		{2, pricing.KindOrderBonus, nil, "Default courier bonus", pricing.Policy{
			Rules:      []pricing.Rule{{From: 0, To: 2, Price: 5000}},
			PricePerKm: 1000,
		}},
		{3, pricing.KindConstructedBonus, nil, "Constructed order bonus", pricing.Policy{
			Rules:      []pricing.Rule{{From: 0, To: 2, Price: 7000}},
			PricePerKm: 1200,
		}},
	}
	for _, p := range policies {
		rules, err := json.Marshal(p.p.Rules)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
      INSERT INTO pricing_policies (id, kind, organization_id, name, rules, price_per_km)
      VALUES ($1,$2,$3,$4,$5::jsonb,$6)
      ON CONFLICT (id) DO NOTHING
    `, p.id, string(p.kind), p.orgID, p.name, string(rules), p.p.PricePerKm); err != nil {
			return fmt.Errorf("seed pricing_policies: %w", err)
		}
	}
	return nil
}
