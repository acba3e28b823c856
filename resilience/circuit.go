package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of failures before opening the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long to wait before attempting recovery.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the max requests allowed in half-open state.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// Adaptive enables the adaptive-threshold mode (SPEC_FULL.md §4.2): the
	// effective trip threshold shrinks under error bursts and grows back
	// after a run of successes. Nil means fixed-threshold mode.
	Adaptive *AdaptiveConfig
}

// AdaptiveConfig tunes the adaptive-threshold circuit breaker mode.
// Grounded on 1mb-dev-autobreaker's Settings.AdaptiveThreshold shape;
// the growth/shrink constants below are the reasonable defaults
// SPEC_FULL.md §9 flags as unconfirmed with a domain owner.
type AdaptiveConfig struct {
	// BurstRate is the error rate (errors per second over Window) above
	// which the threshold shrinks. Default: 1.0.
	BurstRate float64

	// Window is the sliding window over which the error rate is measured.
	// Default: 10s.
	Window time.Duration

	// MinThreshold is the floor the threshold shrinks to. Default: 2.
	MinThreshold int

	// MaxThreshold is the ceiling the threshold grows back to. Default:
	// CircuitBreakerConfig.MaxFailures.
	MaxThreshold int

	// ShrinkFactor multiplies the current threshold on a burst. Default: 0.5.
	ShrinkFactor float64

	// SuccessStreak is the number of consecutive CLOSED-state successes
	// required before the threshold grows one step. Default: 5.
	SuccessStreak int
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	lastFailure      time.Time
	halfOpenCount    int
	currentThreshold int
	errWindow        []time.Time
	closedStreak     int
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Adaptive != nil {
		a := config.Adaptive
		if a.BurstRate <= 0 {
			a.BurstRate = 1.0
		}
		if a.Window <= 0 {
			a.Window = 10 * time.Second
		}
		if a.MinThreshold <= 0 {
			a.MinThreshold = 2
		}
		if a.MaxThreshold <= 0 {
			a.MaxThreshold = config.MaxFailures
		}
		if a.ShrinkFactor <= 0 {
			a.ShrinkFactor = 0.5
		}
		if a.SuccessStreak <= 0 {
			a.SuccessStreak = 5
		}
	}

	return &CircuitBreaker{
		config:           config,
		state:            StateClosed,
		currentThreshold: config.MaxFailures,
	}
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := op(ctx)
	cb.afterRequest(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCount = 0
	cb.closedStreak = 0
	cb.errWindow = nil
	cb.currentThreshold = cb.config.MaxFailures

	if oldState != StateClosed && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, StateClosed)
	}
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentStateLocked()

	switch state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenCount++
	}

	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isFailure := cb.config.IsFailure(err)
	oldState := cb.state

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.failures++
			cb.lastFailure = time.Now()
			cb.closedStreak = 0
			cb.recordAdaptiveErrorLocked(cb.lastFailure)
			if cb.failures >= cb.thresholdLocked() {
				cb.setState(StateOpen)
			}
		} else {
			// Reset failure count on success
			cb.failures = 0
			cb.closedStreak++
			cb.growAdaptiveThresholdLocked()
		}

	case StateHalfOpen:
		if isFailure {
			// Failed during probe, go back to open
			cb.lastFailure = time.Now() // Reset timeout for open state
			cb.setState(StateOpen)
		} else {
			cb.successes++
			// Successful probe, close the circuit
			cb.setState(StateClosed)
			cb.failures = 0
			cb.successes = 0
		}
	}

	if oldState != cb.state && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, cb.state)
	}
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.state = StateHalfOpen
		cb.halfOpenCount = 0
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(StateOpen, StateHalfOpen)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	if state == StateHalfOpen {
		cb.halfOpenCount = 0
	}
}

// thresholdLocked returns the trip threshold in effect: the configured
// fixed MaxFailures, or the adaptive currentThreshold in adaptive mode.
func (cb *CircuitBreaker) thresholdLocked() int {
	if cb.config.Adaptive == nil {
		return cb.config.MaxFailures
	}
	return cb.currentThreshold
}

// recordAdaptiveErrorLocked appends to the sliding error window and
// shrinks currentThreshold geometrically if the burst rate is exceeded.
func (cb *CircuitBreaker) recordAdaptiveErrorLocked(at time.Time) {
	a := cb.config.Adaptive
	if a == nil {
		return
	}
	cb.errWindow = append(cb.errWindow, at)
	cutoff := at.Add(-a.Window)
	i := 0
	for ; i < len(cb.errWindow); i++ {
		if cb.errWindow[i].After(cutoff) {
			break
		}
	}
	cb.errWindow = cb.errWindow[i:]

	rate := float64(len(cb.errWindow)) / a.Window.Seconds()
	if rate > a.BurstRate {
		shrunk := int(float64(cb.currentThreshold) * a.ShrinkFactor)
		if shrunk < a.MinThreshold {
			shrunk = a.MinThreshold
		}
		cb.currentThreshold = shrunk
	}
}

// growAdaptiveThresholdLocked restores one step of threshold after a
// sustained run of CLOSED-state successes.
func (cb *CircuitBreaker) growAdaptiveThresholdLocked() {
	a := cb.config.Adaptive
	if a == nil {
		return
	}
	if cb.closedStreak > 0 && cb.closedStreak%a.SuccessStreak == 0 && cb.currentThreshold < a.MaxThreshold {
		cb.currentThreshold++
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:            cb.currentStateLocked(),
		Failures:         cb.failures,
		Successes:        cb.successes,
		LastFailure:      cb.lastFailure,
		CurrentThreshold: cb.thresholdLocked(),
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State            State
	Failures         int
	Successes        int
	LastFailure      time.Time
	CurrentThreshold int
}
