package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kflash/flashpipe/cache"
	"github.com/kflash/flashpipe/llm"
	"github.com/kflash/flashpipe/resilience"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxConcurrent  = 20
	minMaxConcurrent      = 1
	maxMaxConcurrent      = 50
	defaultBatchTimeout   = 30 * time.Minute
	defaultCollectTimeout = 5 * time.Minute
)

// OrchestratorConfig bundles the collaborators shared across every batch
// an Orchestrator runs: the LLM client, its cache, the per-stage rate
// limiter and circuit-breaker registry guarding it, and the retry policy
// each StageWorker applies around a call.
type OrchestratorConfig struct {
	Client      llm.Client
	Cache       *cache.StageCache[llm.Stage1Result, llm.Stage2Result]
	Limiter     *resilience.StageLimiter
	Breakers    *resilience.BreakerRegistry
	RetryConfig resilience.RetryConfig
	Monitor     *Monitor
}

// Orchestrator runs batches of terms through a bounded worker pool (C8),
// grounded on spec.md §4.8: min(maxConcurrent, len(terms)) workers pull
// from an in-memory queue ordered by position, completion order is
// unconstrained, and results are reassembled into position order by
// OrderedCollector. Implemented with golang.org/x/sync/errgroup, a
// natural fit given the teacher's existing golang.org/x/sync dependency
// (also used for cache.StageCache's singleflight coalescing).
type Orchestrator struct {
	cfg OrchestratorConfig
}

// NewOrchestrator creates an Orchestrator from cfg.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

// BatchOptions configures a single ProcessBatch call, mirroring spec.md
// §4.8's options (maxConcurrent, batchId, cancellation, progress
// callback), plus a supplemented ResultCallback and BatchTimeout.
type BatchOptions struct {
	MaxConcurrent  int
	BatchID        string
	Cancellation   CancellationSource
	OnProgress     ProgressCallback
	OnComplete     ResultCallback
	BatchTimeout   time.Duration
	CollectTimeout time.Duration
}

func (o BatchOptions) clamp(termCount int) BatchOptions {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = defaultMaxConcurrent
	}
	if o.MaxConcurrent < minMaxConcurrent {
		o.MaxConcurrent = minMaxConcurrent
	}
	if o.MaxConcurrent > maxMaxConcurrent {
		o.MaxConcurrent = maxMaxConcurrent
	}
	if o.MaxConcurrent > termCount {
		o.MaxConcurrent = termCount
	}
	if o.BatchID == "" {
		o.BatchID = uuid.NewString()
	}
	if o.Cancellation == nil {
		o.Cancellation = noopCancellation{}
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = defaultBatchTimeout
	}
	if o.CollectTimeout <= 0 {
		o.CollectTimeout = defaultCollectTimeout
	}
	return o
}

// ProcessBatch runs every term in terms through the pipeline and returns
// results ordered by Term.Position, alongside batch-level metrics.
// Workers pull from an in-memory index-ordered queue; spec.md guarantees
// only the final result ordering, not per-worker processing order.
func (o *Orchestrator) ProcessBatch(ctx context.Context, terms []Term, opts BatchOptions) ([]ProcessingResult, BatchMetrics, error) {
	if len(terms) == 0 {
		return nil, BatchMetrics{}, ErrEmptyBatch
	}
	opts = opts.clamp(len(terms))

	ctx, cancel := context.WithTimeout(ctx, opts.BatchTimeout)
	defer cancel()

	collector := NewOrderedCollector()
	collector.SetExpected(len(terms))
	if opts.OnComplete != nil {
		collector.OnComplete(opts.OnComplete)
	}

	progress := NewProgressTracker(len(terms))
	if opts.OnProgress != nil {
		progress.AddCallback(opts.OnProgress)
	}

	worker := NewStageWorker(WorkerConfig{
		Client:      o.cfg.Client,
		Cache:       o.cfg.Cache,
		Limiter:     o.cfg.Limiter,
		Breakers:    o.cfg.Breakers,
		RetryConfig: o.cfg.RetryConfig,
		Progress:    progress,
		Collector:   collector,
	})

	if o.cfg.Monitor != nil {
		o.cfg.Monitor.RecordBatchStart(ctx, opts.BatchID, len(terms))
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrent)

	for _, term := range terms {
		term := term
		g.Go(func() error {
			if err := checkCancelled(gCtx, opts.Cancellation); err != nil {
				_ = collector.Add(term.Position, ProcessingResult{Position: term.Position, Term: term.Text, Err: err})
				progress.CompleteItem(term.Position, false, err.Error(), false)
				return nil
			}
			result := worker.Process(gCtx, opts.Cancellation, term)
			if o.cfg.Monitor != nil {
				o.cfg.Monitor.RecordItem(gCtx, opts.BatchID, result)
			}
			return nil
		})
	}

	cancelReason := ""
	if err := g.Wait(); err != nil {
		cancelReason = err.Error()
	} else if err := checkCancelled(ctx, opts.Cancellation); err != nil {
		cancelReason = ErrBatchCancelled.Error() + ": " + err.Error()
	}

	collector.WaitForAll(ctx, opts.CollectTimeout)

	results := collector.OrderedResults()
	stats := collector.Stats()
	metrics := BatchMetrics{
		TotalExpected:    stats.TotalExpected,
		TotalCollected:   stats.TotalCollected,
		Successful:       stats.Successful,
		Failed:           stats.Failed,
		FromCache:        stats.FromCache,
		CacheHitRate:     stats.CacheHitRate,
		TotalTime:        stats.TotalTime,
		AverageTime:      stats.AverageTime,
		MissingPositions: stats.MissingPositions,
		CancelReason:     cancelReason,
	}

	if o.cfg.Monitor != nil {
		o.cfg.Monitor.RecordBatchEnd(ctx, opts.BatchID, metrics)
	}

	return results, metrics, nil
}
