package resilience

import (
	"context"
	"time"
)

// Stage identifies which LLM call a rate-limiter acquisition is for.
// Stage 1 and Stage 2 have independent token buckets (SPEC_FULL.md §4.1,
// §9 "nuance-creator" resolution): the caller states the stage directly
// rather than the limiter inferring it from a model string.
type Stage int

const (
	// Stage1 is the semantic-analysis call.
	Stage1 Stage = 1
	// Stage2 is the flashcard-generation call.
	Stage2 Stage = 2
)

// StageLimiter composes one RateLimiter per stage so Stage 1 and Stage 2
// admission control never contend with each other.
type StageLimiter struct {
	limiters map[Stage]*RateLimiter
}

// StageLimiterConfig carries one RateLimiterConfig per stage.
type StageLimiterConfig struct {
	Stage1 RateLimiterConfig
	Stage2 RateLimiterConfig
}

// NewStageLimiter builds a StageLimiter from per-stage configs.
func NewStageLimiter(cfg StageLimiterConfig) *StageLimiter {
	return &StageLimiter{
		limiters: map[Stage]*RateLimiter{
			Stage1: NewRateLimiter(cfg.Stage1),
			Stage2: NewRateLimiter(cfg.Stage2),
		},
	}
}

// Acquire blocks until a token is available for the given stage.
func (s *StageLimiter) Acquire(ctx context.Context, stage Stage) error {
	rl, ok := s.limiters[stage]
	if !ok {
		return ErrRateLimitExceeded
	}
	return rl.Acquire(ctx)
}

// OnRateLimit forwards an upstream rate-limit signal to the named stage's
// bucket only; the other stage's admission rate is unaffected.
func (s *StageLimiter) OnRateLimit(stage Stage, retryAfter time.Duration) {
	if rl, ok := s.limiters[stage]; ok {
		rl.OnRateLimit(retryAfter)
	}
}

// OnSuccess is advisory, forwarded to the stage's limiter.
func (s *StageLimiter) OnSuccess(stage Stage) {
	if rl, ok := s.limiters[stage]; ok {
		rl.OnSuccess()
	}
}

// Limiter returns the underlying per-stage limiter, primarily for tests
// and for wiring a distributed slot source around it.
func (s *StageLimiter) Limiter(stage Stage) *RateLimiter {
	return s.limiters[stage]
}
