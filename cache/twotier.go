package cache

import (
	"context"
	"time"
)

// TwoTierCache composes an in-process Tier 1 with a filesystem-backed
// Tier 2, per SPEC_FULL.md §4.3: a Tier 1 miss falls through to Tier 2
// and promotes on hit; writes go to both tiers.
//
// This is the "strategy object behind the single interface" the design
// notes call for (simple vs two-tier cache.mode): TwoTierCache and
// MemoryCache alone both satisfy Cache, and StageCache never branches on
// which one it holds.
type TwoTierCache struct {
	tier1 *MemoryCache
	tier2 Cache // nil in cache.mode=simple
}

// NewTwoTierCache composes tier1 with an optional tier2. Pass a nil tier2
// to get "simple" mode (Tier 1 only) while keeping the same interface.
func NewTwoTierCache(tier1 *MemoryCache, tier2 Cache) *TwoTierCache {
	return &TwoTierCache{tier1: tier1, tier2: tier2}
}

// Get checks Tier 1 first, then Tier 2, promoting a Tier 2 hit into Tier 1.
func (t *TwoTierCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := t.tier1.Get(ctx, key); ok {
		return v, true
	}
	if t.tier2 == nil {
		return nil, false
	}
	v, ok := t.tier2.Get(ctx, key)
	if !ok {
		return nil, false
	}
	// Promote; TTL is unknown here so reuse the policy default rather
	// than inventing a lifetime longer than what Tier 2 itself enforces.
	_ = t.tier1.Set(ctx, key, v, t.tier1.policy.DefaultTTL)
	return v, true
}

// Set writes to both tiers.
func (t *TwoTierCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.tier1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if t.tier2 != nil {
		return t.tier2.Set(ctx, key, value, ttl)
	}
	return nil
}

// Delete removes key from both tiers.
func (t *TwoTierCache) Delete(ctx context.Context, key string) error {
	if err := t.tier1.Delete(ctx, key); err != nil {
		return err
	}
	if t.tier2 != nil {
		return t.tier2.Delete(ctx, key)
	}
	return nil
}

// Clear removes every entry from both tiers.
func (t *TwoTierCache) Clear(ctx context.Context) error {
	if err := t.tier1.Clear(ctx); err != nil {
		return err
	}
	if clr, ok := t.tier2.(interface{ Clear(context.Context) error }); ok {
		return clr.Clear(ctx)
	}
	return nil
}

// Ensure TwoTierCache implements Cache
var _ Cache = (*TwoTierCache)(nil)
