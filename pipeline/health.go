package pipeline

import (
	"context"
	"fmt"

	"github.com/kflash/flashpipe/cache"
	"github.com/kflash/flashpipe/health"
	"github.com/kflash/flashpipe/resilience"
)

// BreakerChecker reports a health.Aggregator result for every circuit
// breaker created so far in a BreakerRegistry: healthy while every
// breaker is closed, degraded while any is half-open (recovering),
// unhealthy once any breaker is open.
func BreakerChecker(name string, registry *resilience.BreakerRegistry) health.Checker {
	return health.NewCheckerFunc(name, func(ctx context.Context) health.Result {
		details := make(map[string]any)
		status := health.StatusHealthy
		for _, svc := range registry.Services() {
			state := registry.Breaker(svc).State()
			details[svc] = state.String()
			switch state {
			case resilience.StateOpen:
				status = health.StatusUnhealthy
			case resilience.StateHalfOpen:
				if status == health.StatusHealthy {
					status = health.StatusDegraded
				}
			}
		}
		msg := "all circuits closed"
		if status == health.StatusDegraded {
			msg = "one or more circuits recovering"
		} else if status == health.StatusUnhealthy {
			msg = "one or more circuits open"
		}
		return health.Result{Status: status, Message: msg, Details: details}
	})
}

// CacheChecker reports a health.Aggregator result for the stage cache's
// backend: degraded once its error count starts climbing relative to
// lookups, since a cache that only errors still lets the pipeline run
// (every lookup falls through to the LLM call) but is no longer earning
// its keep.
func CacheChecker[S1, S2 any](name string, c *cache.StageCache[S1, S2]) health.Checker {
	return health.NewCheckerFunc(name, func(ctx context.Context) health.Result {
		stats := c.Stats()
		total := stats.Stage1Hits + stats.Stage1Misses + stats.Stage2Hits + stats.Stage2Misses
		details := map[string]any{
			"hit_rate":     stats.HitRate(),
			"errors":       stats.Errors,
			"tokens_saved": stats.TokensSaved,
		}
		if total > 0 && stats.Errors > total/10 {
			return health.Result{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("cache backend erroring on %d of %d lookups", stats.Errors, total),
				Details: details,
			}
		}
		return health.Result{Status: health.StatusHealthy, Message: "cache backend responsive", Details: details}
	})
}
