package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestTwoTierCache_PromotesTier2HitIntoTier1(t *testing.T) {
	policy := DefaultPolicy()
	tier1 := NewMemoryCache(policy)
	tier2, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}
	two := NewTwoTierCache(tier1, tier2)
	ctx := context.Background()

	value := []byte("value")
	if err := tier2.Set(ctx, "key", value, time.Hour); err != nil {
		t.Fatalf("tier2.Set failed: %v", err)
	}

	// Not yet in tier1.
	if _, ok := tier1.Get(ctx, "key"); ok {
		t.Fatal("key should not be in tier1 yet")
	}

	got, ok := two.Get(ctx, "key")
	if !ok {
		t.Fatal("Get should hit via tier2")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	// Now promoted into tier1.
	if _, ok := tier1.Get(ctx, "key"); !ok {
		t.Error("expected tier2 hit to be promoted into tier1")
	}
}

func TestTwoTierCache_SetWritesBothTiers(t *testing.T) {
	policy := DefaultPolicy()
	tier1 := NewMemoryCache(policy)
	tier2, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}
	two := NewTwoTierCache(tier1, tier2)
	ctx := context.Background()

	if err := two.Set(ctx, "key", []byte("value"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, ok := tier1.Get(ctx, "key"); !ok {
		t.Error("expected key present in tier1")
	}
	if _, ok := tier2.Get(ctx, "key"); !ok {
		t.Error("expected key present in tier2")
	}
}

func TestTwoTierCache_DeleteRemovesFromBothTiers(t *testing.T) {
	policy := DefaultPolicy()
	tier1 := NewMemoryCache(policy)
	tier2, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}
	two := NewTwoTierCache(tier1, tier2)
	ctx := context.Background()

	_ = two.Set(ctx, "key", []byte("value"), time.Hour)
	if err := two.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, ok := tier1.Get(ctx, "key"); ok {
		t.Error("expected key gone from tier1")
	}
	if _, ok := tier2.Get(ctx, "key"); ok {
		t.Error("expected key gone from tier2")
	}
}

func TestTwoTierCache_SimpleModeWithNilTier2(t *testing.T) {
	policy := DefaultPolicy()
	tier1 := NewMemoryCache(policy)
	two := NewTwoTierCache(tier1, nil)
	ctx := context.Background()

	if err := two.Set(ctx, "key", []byte("value"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok := two.Get(ctx, "key"); !ok {
		t.Error("expected hit in tier1-only mode")
	}
	if err := two.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := two.Get(ctx, "key"); ok {
		t.Error("expected key gone after Clear in tier1-only mode")
	}
}

func TestTwoTierCache_Clear(t *testing.T) {
	policy := DefaultPolicy()
	tier1 := NewMemoryCache(policy)
	tier2, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}
	two := NewTwoTierCache(tier1, tier2)
	ctx := context.Background()

	_ = two.Set(ctx, "key", []byte("value"), time.Hour)
	if err := two.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := two.Get(ctx, "key"); ok {
		t.Error("expected key gone after Clear")
	}
}

// Verify TwoTierCache implements Cache interface at compile time
var _ Cache = (*TwoTierCache)(nil)
