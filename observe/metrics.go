package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records execution metrics for tools.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExecution records a tool execution with duration and error status.
	RecordExecution(ctx context.Context, meta ToolMeta, duration time.Duration, err error)

	// RecordCacheLookup records a cache lookup for the named stage
	// ("stage1"/"stage2"), tagging it as a hit or a miss.
	RecordCacheLookup(ctx context.Context, stage string, hit bool)

	// RecordRateLimitWait records how long a call waited at the rate
	// limiter before being admitted for the named stage.
	RecordRateLimitWait(ctx context.Context, stage string, waited time.Duration)

	// RecordBreakerTrip records a circuit breaker transitioning to open
	// for the named service.
	RecordBreakerTrip(ctx context.Context, service string)

	// RecordRetry records one retry attempt for the named stage.
	RecordRetry(ctx context.Context, stage string)

	// RecordTokenUsage records tokens consumed by a call for the named
	// stage.
	RecordTokenUsage(ctx context.Context, stage string, tokens int)

	// RecordConcurrency records the number of in-flight workers at a
	// point in time, for a concurrency high-water-mark gauge.
	RecordConcurrency(ctx context.Context, active int)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram

	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	rateLimitWaitMs metric.Float64Histogram
	breakerTrips    metric.Int64Counter
	retries         metric.Int64Counter
	tokensUsed      metric.Int64Counter
	concurrency     metric.Int64Histogram
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"tool.exec.total",
		metric.WithDescription("Total number of tool executions"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"tool.exec.errors",
		metric.WithDescription("Total number of tool execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"tool.exec.duration_ms",
		metric.WithDescription("Tool execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"pipeline.cache.hits",
		metric.WithDescription("Cache hits, by stage"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"pipeline.cache.misses",
		metric.WithDescription("Cache misses, by stage"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	rateLimitWaitMs, err := meter.Float64Histogram(
		"pipeline.ratelimit.wait_ms",
		metric.WithDescription("Time spent waiting for rate limiter admission, by stage"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	breakerTrips, err := meter.Int64Counter(
		"pipeline.breaker.trips",
		metric.WithDescription("Circuit breaker open transitions, by service"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"pipeline.retries",
		metric.WithDescription("Retry attempts, by stage"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter(
		"pipeline.tokens.used",
		metric.WithDescription("LLM tokens consumed, by stage"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	concurrency, err := meter.Int64Histogram(
		"pipeline.concurrency.active",
		metric.WithDescription("Number of workers active concurrently within a batch"),
		metric.WithUnit("{worker}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:           meter,
		totalCount:      totalCount,
		errorCount:      errorCount,
		durationHist:    durationHist,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		rateLimitWaitMs: rateLimitWaitMs,
		breakerTrips:    breakerTrips,
		retries:         retries,
		tokensUsed:      tokensUsed,
		concurrency:     concurrency,
	}, nil
}

// RecordExecution records metrics for a tool execution.
func (m *metricsImpl) RecordExecution(ctx context.Context, meta ToolMeta, duration time.Duration, err error) {
	// Build common attributes
	attrs := []attribute.KeyValue{
		attribute.String("tool.id", meta.ToolID()),
		attribute.String("tool.name", meta.Name),
	}

	// Add namespace if present
	if meta.Namespace != "" {
		attrs = append(attrs, attribute.String("tool.namespace", meta.Namespace))
	}

	opt := metric.WithAttributes(attrs...)

	// Always increment total counter
	m.totalCount.Add(ctx, 1, opt)

	// Increment error counter on failure
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}

	// Record duration in milliseconds
	durationMs := float64(duration.Milliseconds())
	m.durationHist.Record(ctx, durationMs, opt)
}

// RecordCacheLookup records a stage cache lookup outcome.
func (m *metricsImpl) RecordCacheLookup(ctx context.Context, stage string, hit bool) {
	opt := metric.WithAttributes(attribute.String("stage", stage))
	if hit {
		m.cacheHits.Add(ctx, 1, opt)
		return
	}
	m.cacheMisses.Add(ctx, 1, opt)
}

// RecordRateLimitWait records rate-limiter admission wait time.
func (m *metricsImpl) RecordRateLimitWait(ctx context.Context, stage string, waited time.Duration) {
	opt := metric.WithAttributes(attribute.String("stage", stage))
	m.rateLimitWaitMs.Record(ctx, float64(waited.Milliseconds()), opt)
}

// RecordBreakerTrip records a circuit breaker opening.
func (m *metricsImpl) RecordBreakerTrip(ctx context.Context, service string) {
	opt := metric.WithAttributes(attribute.String("service", service))
	m.breakerTrips.Add(ctx, 1, opt)
}

// RecordRetry records one retry attempt.
func (m *metricsImpl) RecordRetry(ctx context.Context, stage string) {
	opt := metric.WithAttributes(attribute.String("stage", stage))
	m.retries.Add(ctx, 1, opt)
}

// RecordTokenUsage records tokens consumed by a call.
func (m *metricsImpl) RecordTokenUsage(ctx context.Context, stage string, tokens int) {
	if tokens <= 0 {
		return
	}
	opt := metric.WithAttributes(attribute.String("stage", stage))
	m.tokensUsed.Add(ctx, int64(tokens), opt)
}

// RecordConcurrency records the current number of active workers.
func (m *metricsImpl) RecordConcurrency(ctx context.Context, active int) {
	m.concurrency.Record(ctx, int64(active))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordExecution(ctx context.Context, meta ToolMeta, duration time.Duration, err error) {
}

func (m *noopMetrics) RecordCacheLookup(ctx context.Context, stage string, hit bool)                {}
func (m *noopMetrics) RecordRateLimitWait(ctx context.Context, stage string, waited time.Duration)  {}
func (m *noopMetrics) RecordBreakerTrip(ctx context.Context, service string)                        {}
func (m *noopMetrics) RecordRetry(ctx context.Context, stage string)                                {}
func (m *noopMetrics) RecordTokenUsage(ctx context.Context, stage string, tokens int)                {}
func (m *noopMetrics) RecordConcurrency(ctx context.Context, active int)                             {}
