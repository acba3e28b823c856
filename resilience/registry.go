package resilience

import (
	"context"
	"sync"
)

// BreakerRegistry maps service names to circuit breakers, each with its
// own configuration, lazily created on first use. Grounded on
// health/aggregator.go's named-registry idiom used elsewhere in this
// module.
type BreakerRegistry struct {
	mu       sync.Mutex
	factory  func(service string) CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry. factory supplies the config for
// a service the first time it is seen; it may return the same config for
// every service or vary by name.
func NewBreakerRegistry(factory func(service string) CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		factory:  factory,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the breaker for service, creating it on first access.
func (r *BreakerRegistry) Breaker(service string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[service]; ok {
		return cb
	}
	cb := NewCircuitBreaker(r.factory(service))
	r.breakers[service] = cb
	return cb
}

// Call looks up (or lazily creates) the breaker for service and delegates
// execution to it.
func (r *BreakerRegistry) Call(ctx context.Context, service string, op func(context.Context) error) error {
	return r.Breaker(service).Execute(ctx, op)
}

// Services returns the names of all breakers created so far.
func (r *BreakerRegistry) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}
