// Package cache keeps resolved pricing policies in Redis so quotes do not hit
// Postgres on every keystroke of the pricing screens.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courierops/api/internal/pricing"
)

const keyPrefix = "pricing:policy:"

// PolicyCache is safe to use as a nil pointer; every call is then a miss or a no-op.
type PolicyCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPolicyCache(rdb *redis.Client, ttl time.Duration) *PolicyCache {
	if rdb == nil {
		return nil
	}
	return &PolicyCache{rdb: rdb, ttl: ttl}
}

func policyKey(kind pricing.Kind, terminalID int64) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, kind, terminalID)
}

func (c *PolicyCache) Get(ctx context.Context, kind pricing.Kind, terminalID int64) (pricing.Record, bool, error) {
	if c == nil {
		return pricing.Record{}, false, nil
	}
	raw, err := c.rdb.Get(ctx, policyKey(kind, terminalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return pricing.Record{}, false, nil
	}
	if err != nil {
		return pricing.Record{}, false, err
	}
	var rec pricing.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return pricing.Record{}, false, err
	}
	return rec, true, nil
}

func (c *PolicyCache) Set(ctx context.Context, terminalID int64, rec pricing.Record) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, policyKey(rec.Kind, terminalID), raw, c.ttl).Err()
}

// InvalidateKind drops every cached lookup of kind. A policy change can move
// the resolution of any terminal, so per-terminal eviction is not enough.
func (c *PolicyCache) InvalidateKind(ctx context.Context, kind pricing.Kind) error {
	if c == nil {
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, keyPrefix+string(kind)+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
