package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Stats reports cache statistics (SPEC_FULL.md §4.3 "Statistics").
type Stats struct {
	Stage1Hits   int64
	Stage1Misses int64
	Stage2Hits   int64
	Stage2Misses int64
	TokensSaved  int64
	Errors       int64
}

// HitRate returns the combined hit rate across both stages, or 0 if
// nothing has been looked up yet.
func (s Stats) HitRate() float64 {
	hits := s.Stage1Hits + s.Stage2Hits
	total := hits + s.Stage1Misses + s.Stage2Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// StageCache is the two-stage content-addressed memoization layer (C3)
// described in SPEC_FULL.md §4.3. It is generic over the Stage 1 and
// Stage 2 result types so callers get typed Get/Save methods without the
// cache package depending on the llm package's concrete types.
//
// Concurrent identical lookups are coalesced with golang.org/x/sync/
// singleflight (grounded on auth/jwks.go's sfGroup usage in the teacher
// repo), which is what makes Invariant 2 ("at most one outstanding
// Stage 1/Stage 2 request" per term) hold even when many workers in the
// same batch race on the same term.
type StageCache[S1 any, S2 any] struct {
	backend Cache
	keyer   StageKeyer
	policy  Policy

	sf1, sf2 singleflight.Group

	mu    sync.Mutex
	stats Stats
}

// NewStageCache wraps backend (typically a *TwoTierCache or *MemoryCache)
// with stage-specific keying and statistics.
func NewStageCache[S1 any, S2 any](backend Cache, policy Policy) *StageCache[S1, S2] {
	return &StageCache[S1, S2]{
		backend: backend,
		keyer:   NewStageKeyer(),
		policy:  policy,
	}
}

// GetStage1 looks up a cached Stage 1 result by term and type.
func (c *StageCache[S1, S2]) GetStage1(ctx context.Context, term, typ string) (S1, bool) {
	var zero S1
	key := c.keyer.Stage1Key(term, typ)
	raw, ok := c.backend.Get(ctx, key)
	if !ok {
		c.recordMiss1()
		return zero, false
	}
	var entry stored[S1]
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.recordMiss1()
		c.recordError()
		return zero, false
	}
	c.recordHit1()
	if entry.Tokens > 0 {
		c.mu.Lock()
		c.stats.TokensSaved += int64(entry.Tokens)
		c.mu.Unlock()
	}
	return entry.Value, true
}

// SaveStage1 stores a Stage 1 result, recording tokensUsed for the
// tokens-saved statistic the next time it is served from cache.
func (c *StageCache[S1, S2]) SaveStage1(ctx context.Context, term, typ string, result S1, tokensUsed int) error {
	key := c.keyer.Stage1Key(term, typ)
	entry := stored[S1]{Value: result, Tokens: tokensUsed}

	raw, err := json.Marshal(entry)
	if err != nil {
		c.recordError()
		return fmt.Errorf("cache: marshal stage1 result: %w", err)
	}
	if err := c.backend.Set(ctx, key, raw, c.policy.EffectiveTTL(0)); err != nil {
		c.recordError()
		return err
	}
	return nil
}

// LoadStage1 returns the cached Stage 1 result, or calls loader exactly
// once across all goroutines concurrently requesting the same
// (term, type) within this process, caching and returning its result.
func (c *StageCache[S1, S2]) LoadStage1(ctx context.Context, term, typ string, loader func(context.Context) (S1, int, error)) (result S1, fromCache bool, err error) {
	if result, ok := c.GetStage1(ctx, term, typ); ok {
		return result, true, nil
	}

	key := c.keyer.Stage1Key(term, typ)
	v, err, _ := c.sf1.Do(key, func() (any, error) {
		// Re-check without touching the stats: the lookup above already
		// counted this call's miss.
		if raw, ok := c.backend.Get(ctx, key); ok {
			var entry stored[S1]
			if json.Unmarshal(raw, &entry) == nil {
				return entry.Value, nil
			}
		}
		result, tokens, err := loader(ctx)
		if err != nil {
			return result, err
		}
		if saveErr := c.SaveStage1(ctx, term, typ, result, tokens); saveErr != nil {
			c.recordError()
		}
		return result, nil
	})
	if err != nil {
		var zero S1
		return zero, false, err
	}
	return v.(S1), false, nil
}

// Stage2Key computes the Stage 2 cache key from a term and its Stage 1
// result, exposed so a worker can compute the key once and pass it to
// both GetStage2/SaveStage2.
func (c *StageCache[S1, S2]) Stage2Key(term string, stage1 S1) (string, error) {
	return c.keyer.Stage2Key(term, stage1)
}

// GetStage2 looks up a cached Stage 2 result by its precomputed key.
func (c *StageCache[S1, S2]) GetStage2(ctx context.Context, flashcardHash string) (S2, bool) {
	var zero S2
	raw, ok := c.backend.Get(ctx, flashcardHash)
	if !ok {
		c.recordMiss2()
		return zero, false
	}
	var entry stored[S2]
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.recordMiss2()
		c.recordError()
		return zero, false
	}
	c.recordHit2()
	return entry.Value, true
}

// SaveStage2 stores a Stage 2 result under its precomputed key.
func (c *StageCache[S1, S2]) SaveStage2(ctx context.Context, flashcardHash string, result S2) error {
	entry := stored[S2]{Value: result}

	raw, err := json.Marshal(entry)
	if err != nil {
		c.recordError()
		return fmt.Errorf("cache: marshal stage2 result: %w", err)
	}
	if err := c.backend.Set(ctx, flashcardHash, raw, c.policy.EffectiveTTL(0)); err != nil {
		c.recordError()
		return err
	}
	return nil
}

// LoadStage2 mirrors LoadStage1 for the Stage 2 call.
func (c *StageCache[S1, S2]) LoadStage2(ctx context.Context, flashcardHash string, loader func(context.Context) (S2, error)) (result S2, fromCache bool, err error) {
	if result, ok := c.GetStage2(ctx, flashcardHash); ok {
		return result, true, nil
	}

	v, err, _ := c.sf2.Do(flashcardHash, func() (any, error) {
		// Re-check without touching the stats: the lookup above already
		// counted this call's miss.
		if raw, ok := c.backend.Get(ctx, flashcardHash); ok {
			var entry stored[S2]
			if json.Unmarshal(raw, &entry) == nil {
				return entry.Value, nil
			}
		}
		result, err := loader(ctx)
		if err != nil {
			return result, err
		}
		if saveErr := c.SaveStage2(ctx, flashcardHash, result); saveErr != nil {
			c.recordError()
		}
		return result, nil
	})
	if err != nil {
		var zero S2
		return zero, false, err
	}
	return v.(S2), false, nil
}

// Clear empties the backend, if it supports clearing.
func (c *StageCache[S1, S2]) Clear(ctx context.Context) error {
	if clr, ok := c.backend.(interface{ Clear(context.Context) error }); ok {
		return clr.Clear(ctx)
	}
	return nil
}

// Stats returns a snapshot of cache statistics.
func (c *StageCache[S1, S2]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

type stored[T any] struct {
	Value  T   `json:"value"`
	Tokens int `json:"tokens,omitempty"`
}

func (c *StageCache[S1, S2]) recordHit1()  { c.bump(&c.stats.Stage1Hits) }
func (c *StageCache[S1, S2]) recordMiss1() { c.bump(&c.stats.Stage1Misses) }
func (c *StageCache[S1, S2]) recordHit2()  { c.bump(&c.stats.Stage2Hits) }
func (c *StageCache[S1, S2]) recordMiss2() { c.bump(&c.stats.Stage2Misses) }
func (c *StageCache[S1, S2]) recordError() { c.bump(&c.stats.Errors) }

func (c *StageCache[S1, S2]) bump(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}
