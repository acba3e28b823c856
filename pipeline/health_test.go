package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/kflash/flashpipe/cache"
	"github.com/kflash/flashpipe/health"
	"github.com/kflash/flashpipe/llm"
	"github.com/kflash/flashpipe/resilience"
)

func TestBreakerChecker_HealthyWhenNoBreakersOpen(t *testing.T) {
	registry := resilience.NewBreakerRegistry(func(service string) resilience.CircuitBreakerConfig {
		return resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute}
	})
	_ = registry.Breaker("stage1")

	checker := BreakerChecker("breakers", registry)
	result := checker.Check(context.Background())
	if result.Status != health.StatusHealthy {
		t.Errorf("Status = %v, want StatusHealthy", result.Status)
	}
}

func TestBreakerChecker_UnhealthyWhenBreakerOpen(t *testing.T) {
	registry := resilience.NewBreakerRegistry(func(service string) resilience.CircuitBreakerConfig {
		return resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute}
	})
	_ = registry.Call(context.Background(), "stage1", func(context.Context) error {
		return errGiveUp
	})

	checker := BreakerChecker("breakers", registry)
	result := checker.Check(context.Background())
	if result.Status != health.StatusUnhealthy {
		t.Errorf("Status = %v, want StatusUnhealthy", result.Status)
	}
}

func TestCacheChecker_HealthyOnFreshCache(t *testing.T) {
	c := cache.NewStageCache[llm.Stage1Result, llm.Stage2Result](cache.NewMemoryCache(cache.DefaultPolicy()), cache.DefaultPolicy())
	checker := CacheChecker("stage-cache", c)
	result := checker.Check(context.Background())
	if result.Status != health.StatusHealthy {
		t.Errorf("Status = %v, want StatusHealthy", result.Status)
	}
}
