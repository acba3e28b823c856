package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kflash/flashpipe/observe"
	"github.com/kflash/flashpipe/store"
)

// Monitor is the batch observability collaborator (C9): it turns batch
// and per-item lifecycle events into OTel spans/metrics via the kept
// observe.Tracer/observe.Metrics/observe.Logger, and into durable
// bookkeeping via store.Store, per spec.md §4.9. Store errors are
// logged, never propagated — a broken external store must not fail a
// batch.
type Monitor struct {
	tracer  observe.Tracer
	metrics observe.Metrics
	logger  observe.Logger
	store   store.Store

	mu         sync.Mutex
	batchSpans map[string]batchSpanState
}

type batchSpanState struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
}

// NewMonitor builds a Monitor. Any collaborator may be nil: a nil
// tracer/metrics/logger silently skips that signal, a nil store skips
// persistence.
func NewMonitor(tracer observe.Tracer, metrics observe.Metrics, logger observe.Logger, st store.Store) *Monitor {
	return &Monitor{
		tracer:     tracer,
		metrics:    metrics,
		logger:     logger,
		store:      st,
		batchSpans: make(map[string]batchSpanState),
	}
}

func (m *Monitor) pipelineMeta(name string) observe.ToolMeta {
	return observe.ToolMeta{Namespace: "pipeline", Name: name, SpanPrefix: "pipeline."}
}

// RecordBatchStart is called once, synchronously, before workers launch.
func (m *Monitor) RecordBatchStart(ctx context.Context, batchID string, expectedCount int) {
	if m.logger != nil {
		m.logger.Info(ctx, "batch started", observe.Field{Key: "batch_id", Value: batchID}, observe.Field{Key: "expected", Value: expectedCount})
	}
	if m.store != nil {
		if err := m.store.RecordBatchStart(ctx, batchID, expectedCount, time.Now()); err != nil && m.logger != nil {
			m.logger.Warn(ctx, "store.RecordBatchStart failed", observe.Field{Key: "batch_id", Value: batchID}, observe.Field{Key: "error", Value: err.Error()})
		}
	}
	state := batchSpanState{ctx: ctx, start: time.Now()}
	if m.tracer != nil {
		state.ctx, state.span = m.tracer.StartSpan(ctx, m.pipelineMeta("batch"))
	}
	m.mu.Lock()
	m.batchSpans[batchID] = state
	m.mu.Unlock()
}

// RecordItem is called once per completed item, from the worker
// goroutine that produced it.
func (m *Monitor) RecordItem(ctx context.Context, batchID string, result ProcessingResult) {
	stage := "stage2"
	if m.tracer != nil {
		_, s1 := m.tracer.StartSpan(ctx, m.pipelineMeta("stage1"))
		m.tracer.EndSpan(s1, nil)
		_, s2 := m.tracer.StartSpan(ctx, m.pipelineMeta("stage2"))
		m.tracer.EndSpan(s2, result.Err)
	}
	if m.metrics != nil {
		m.metrics.RecordCacheLookup(ctx, "stage1", result.FromCacheStage1)
		m.metrics.RecordCacheLookup(ctx, stage, result.FromCacheStage2)
		if result.Retries > 0 {
			m.metrics.RecordRetry(ctx, stage)
		}
		m.metrics.RecordTokenUsage(ctx, stage, result.Usage.TotalTokens)
		m.metrics.RecordExecution(ctx, m.pipelineMeta("item"), result.ProcessingTime, result.Err)
	}
	if m.store != nil {
		outcome := store.ItemOutcome{
			BatchID:  batchID,
			Position: result.Position,
			Term:     result.Term,
			Success:  result.IsSuccess(),
			Cached:   result.FromCache(),
			Duration: result.ProcessingTime,
		}
		if result.Err != nil {
			outcome.Error = result.Err.Error()
		}
		if err := m.store.RecordItemResult(ctx, outcome); err != nil && m.logger != nil {
			m.logger.Warn(ctx, "store.RecordItemResult failed", observe.Field{Key: "batch_id", Value: batchID}, observe.Field{Key: "error", Value: err.Error()})
		}
	}
}

// RecordBatchEnd is called once, synchronously, after every worker has
// finished (or the batch's context expired).
func (m *Monitor) RecordBatchEnd(ctx context.Context, batchID string, metrics BatchMetrics) {
	if m.logger != nil {
		m.logger.Info(ctx, "batch completed",
			observe.Field{Key: "batch_id", Value: batchID},
			observe.Field{Key: "successful", Value: metrics.Successful},
			observe.Field{Key: "failed", Value: metrics.Failed},
			observe.Field{Key: "cache_hit_rate", Value: metrics.CacheHitRate},
		)
	}
	if m.store != nil {
		summary := store.BatchSummary{
			BatchID:        batchID,
			TotalExpected:  metrics.TotalExpected,
			TotalCollected: metrics.TotalCollected,
			Successful:     metrics.Successful,
			Failed:         metrics.Failed,
			FromCache:      metrics.FromCache,
			TotalTime:      metrics.TotalTime,
			EndedAt:        time.Now(),
			CancelReason:   metrics.CancelReason,
		}
		m.mu.Lock()
		if state, ok := m.batchSpans[batchID]; ok {
			summary.StartedAt = state.start
		}
		m.mu.Unlock()
		if err := m.store.RecordBatchEnd(ctx, summary); err != nil && m.logger != nil {
			m.logger.Warn(ctx, "store.RecordBatchEnd failed", observe.Field{Key: "batch_id", Value: batchID}, observe.Field{Key: "error", Value: err.Error()})
		}
	}
	m.mu.Lock()
	state, ok := m.batchSpans[batchID]
	delete(m.batchSpans, batchID)
	m.mu.Unlock()
	if ok && state.span != nil {
		var endErr error
		if metrics.Failed > 0 {
			endErr = ErrBatchHadFailures
		}
		m.tracer.EndSpan(state.span, endErr)
	}
}

// RecordConcurrency reports the number of currently-active workers for
// the concurrency high-water-mark instrument.
func (m *Monitor) RecordConcurrency(ctx context.Context, active int) {
	if m.metrics != nil {
		m.metrics.RecordConcurrency(ctx, active)
	}
}

// RecordBreakerTrip reports a circuit breaker opening for service.
func (m *Monitor) RecordBreakerTrip(ctx context.Context, service string) {
	if m.metrics != nil {
		m.metrics.RecordBreakerTrip(ctx, service)
	}
}

// RecordRateLimitWait reports time spent waiting for rate-limiter
// admission for stage.
func (m *Monitor) RecordRateLimitWait(ctx context.Context, stage string, waited time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordRateLimitWait(ctx, stage, waited)
	}
}
