package resilience

import "context"

// DistributedSlotSource is the optional remote-slot variant of the rate
// limiter described in SPEC_FULL.md §4.1: an atomic decrement keyed by
// stage, shared across processes. This module specifies the interface
// and a local fallback only; a real remote backend (Redis INCR+EXPIRE or
// similar) is an external collaborator, consistent with the Non-goal
// "not a cross-process coordinator".
type DistributedSlotSource interface {
	// TryAcquire attempts to consume one remote slot for key. It returns
	// ok=false (not an error) when the remote budget is exhausted.
	TryAcquire(ctx context.Context, key string) (ok bool, err error)
}

// localSlotSource is the fallback used when no DistributedSlotSource is
// configured, or when the configured one errors: it always grants the
// slot, deferring entirely to the in-process token bucket.
type localSlotSource struct{}

// NewLocalSlotSource returns a DistributedSlotSource that always grants,
// used as the default and as the fallback on remote failure.
func NewLocalSlotSource() DistributedSlotSource { return localSlotSource{} }

func (localSlotSource) TryAcquire(ctx context.Context, key string) (bool, error) {
	return true, nil
}

// DistributedRateLimiter wraps a RateLimiter with an optional remote slot
// check. Required behavior is identical to the local-only limiter: a
// failing or absent remote source simply falls back to the local bucket.
type DistributedRateLimiter struct {
	local  *RateLimiter
	remote DistributedSlotSource
	key    string
}

// NewDistributedRateLimiter composes a local token bucket with a remote
// slot source. Pass NewLocalSlotSource() to disable the remote check.
func NewDistributedRateLimiter(local *RateLimiter, remote DistributedSlotSource, key string) *DistributedRateLimiter {
	if remote == nil {
		remote = NewLocalSlotSource()
	}
	return &DistributedRateLimiter{local: local, remote: remote, key: key}
}

// Acquire consumes a local token, then consults the remote slot source;
// on remote failure it falls back to the local decision alone.
func (d *DistributedRateLimiter) Acquire(ctx context.Context) error {
	if err := d.local.Acquire(ctx); err != nil {
		return err
	}
	ok, err := d.remote.TryAcquire(ctx, d.key)
	if err != nil {
		return nil // remote failure: local bucket already admitted, honor it
	}
	if !ok {
		return ErrRateLimitExceeded
	}
	return nil
}
