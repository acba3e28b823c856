package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/kflash/flashpipe/cache"
	"github.com/kflash/flashpipe/llm"
	"github.com/kflash/flashpipe/resilience"
)

// WorkerConfig bundles the shared collaborators a StageWorker needs: the
// rate limiter and breaker registry guarding calls to llm.Client, the
// cache in front of it, and the retry policy applied around each call.
// One WorkerConfig (and its embedded collaborators) is shared by every
// worker goroutine in a batch.
type WorkerConfig struct {
	Client      llm.Client
	Cache       *cache.StageCache[llm.Stage1Result, llm.Stage2Result]
	Limiter     *resilience.StageLimiter
	Breakers    *resilience.BreakerRegistry
	RetryConfig resilience.RetryConfig
	Progress    *ProgressTracker
	Collector   *OrderedCollector
}

// StageWorker runs one Term through both LLM stages (C7), following
// spec.md §4.7's sequence: notify progress start, Stage 1 cache-or-call,
// Stage 2 cache-or-call keyed off the Stage 1 result, assemble a
// ProcessingResult (or a failed one on give-up), then hand off to the
// collector and progress tracker. Grounded on
// resilience/executor.go's composition order (RateLimiter acquisition,
// then CircuitBreaker, wrapped by an outer Retry) since Executor itself
// only calls RateLimiter.Allow/Wait and can't honor StageLimiter's
// adaptive pauseUntil.
type StageWorker struct {
	cfg   WorkerConfig
	retry *resilience.Retry
}

// NewStageWorker builds a StageWorker from cfg, applying retry
// classification defaults if cfg.RetryConfig.RetryIf is unset.
func NewStageWorker(cfg WorkerConfig) *StageWorker {
	retryCfg := cfg.RetryConfig
	if retryCfg.RetryIf == nil {
		retryCfg.RetryIf = isRetryableForWorker
	}
	return &StageWorker{cfg: cfg, retry: resilience.NewRetry(retryCfg)}
}

// isRetryableForWorker implements spec.md §4.4's classification at the
// worker level: breaker-open always gives up immediately (retrying
// against an open breaker just burns attempts), everything else defers
// to llm.Error's per-kind classification.
func isRetryableForWorker(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}
	return false
}

// isCountedFailure implements spec.md §4.2's default expectedErrorTypes
// classification for the circuit breaker: only server-API and
// rate-limit errors count toward tripping it. Network errors and
// validation failures surface through the breaker but never count
// against it by default, so a run of Stage 2 parse failures can't trip
// a breaker that exists to protect the LLM transport, not the parser.
// A non-llm.Error is treated as a counted failure since it signals a
// problem outside the classified taxonomy (e.g. an internal bug).
func isCountedFailure(err error) bool {
	if err == nil {
		return false
	}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind == llm.KindServerAPI || llmErr.Kind == llm.KindRateLimit
	}
	return true
}

// DefaultBreakerFactory builds the BreakerRegistry factory used in
// production wiring: every service gets base's tuning plus the
// spec.md §4.2-compliant IsFailure classification above, instead of the
// resilience package's all-errors-count default.
func DefaultBreakerFactory(base resilience.CircuitBreakerConfig) func(service string) resilience.CircuitBreakerConfig {
	return func(service string) resilience.CircuitBreakerConfig {
		cfg := base
		if cfg.IsFailure == nil {
			cfg.IsFailure = isCountedFailure
		}
		return cfg
	}
}

// Process runs term through Stage 1 and Stage 2, records the outcome
// into the collector and progress tracker, and returns it. Process never
// returns an error itself: a give-up produces a failed ProcessingResult
// instead, per spec.md §4.7's "on give-up produce failed result and
// continue".
func (w *StageWorker) Process(ctx context.Context, cancel CancellationSource, term Term) ProcessingResult {
	start := time.Now()
	w.cfg.Progress.StartItem(term.Position)

	result := ProcessingResult{Position: term.Position, Term: term.Text}

	if err := checkCancelled(ctx, cancel); err != nil {
		result.Err = err
		w.finish(term.Position, result, start)
		return result
	}

	stage1, fromCache1, usage1, retries1, err := w.processStage1(ctx, cancel, term)
	result.Retries += retries1
	if err != nil {
		result.Err = err
		w.finish(term.Position, result, start)
		return result
	}
	result.Stage1 = stage1
	result.FromCacheStage1 = fromCache1
	result.Usage = result.Usage.Add(usage1)

	if err := checkCancelled(ctx, cancel); err != nil {
		result.Err = err
		w.finish(term.Position, result, start)
		return result
	}

	stage2, fromCache2, usage2, retries2, err := w.processStage2(ctx, cancel, term, stage1)
	result.Retries += retries2
	if err != nil {
		result.Err = err
		w.finish(term.Position, result, start)
		return result
	}
	result.Stage2 = stage2
	result.FromCacheStage2 = fromCache2
	result.Usage = result.Usage.Add(usage2)

	w.finish(term.Position, result, start)
	return result
}

func (w *StageWorker) finish(position int, result ProcessingResult, start time.Time) {
	result.ProcessingTime = time.Since(start)
	success := result.Err == nil
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	w.cfg.Progress.CompleteItem(position, success, errMsg, result.FromCache())
	_ = w.cfg.Collector.Add(position, result)
}

// processStage1 returns the Stage 1 result for term, served from cache
// when possible and coalesced across concurrent workers racing on the
// same (term, type) via cache.StageCache's singleflight groups.
func (w *StageWorker) processStage1(ctx context.Context, cancel CancellationSource, term Term) (result llm.Stage1Result, fromCache bool, usage llm.Usage, retries int, err error) {
	loader := func(ctx context.Context) (llm.Stage1Result, int, error) {
		r, u, attempts, callErr := w.callStage1(ctx, cancel, term)
		usage = u
		retries = attempts
		return r, u.TotalTokens, callErr
	}
	result, fromCache, err = w.cfg.Cache.LoadStage1(ctx, term.Text, term.Type, loader)
	return result, fromCache, usage, retries, err
}

// processStage2 mirrors processStage1 for the Stage 2 call, keying the
// cache off the canonical JSON of stage1 per spec.md §4.3.
func (w *StageWorker) processStage2(ctx context.Context, cancel CancellationSource, term Term, stage1 llm.Stage1Result) (result llm.Stage2Result, fromCache bool, usage llm.Usage, retries int, err error) {
	key, keyErr := w.cfg.Cache.Stage2Key(term.Text, stage1)
	if keyErr != nil {
		return llm.Stage2Result{}, false, llm.Usage{}, 0, &llm.Error{Kind: llm.KindInternal, Message: "failed to compute stage 2 cache key", Err: keyErr}
	}

	loader := func(ctx context.Context) (llm.Stage2Result, error) {
		r, u, attempts, callErr := w.callStage2(ctx, cancel, term, stage1)
		usage = u
		retries = attempts
		return r, callErr
	}
	result, fromCache, err = w.cfg.Cache.LoadStage2(ctx, key, loader)
	if err != nil {
		return result, fromCache, usage, retries, err
	}
	return stampPositions(result, term.Position), fromCache, usage, retries, nil
}

// stampPositions returns result with every row's Position overwritten to
// position, without mutating result.Rows in place: the cache's Stage 2
// entry is content-addressed on (term, stage1) and may be shared by
// several terms, so Position must never be trusted from a cached or
// freshly-parsed row — it belongs to the originating Term, not to the
// LLM response.
func stampPositions(result llm.Stage2Result, position int) llm.Stage2Result {
	if len(result.Rows) == 0 {
		return result
	}
	rows := make([]llm.FlashcardRow, len(result.Rows))
	for i, row := range result.Rows {
		row.Position = position
		rows[i] = row
	}
	result.Rows = rows
	return result
}

// callStage1 acquires a Stage 1 rate-limit slot, calls llm.Client through
// the shared "llm" circuit breaker, and retries per spec.md §4.4,
// reporting how many retry attempts were taken.
func (w *StageWorker) callStage1(ctx context.Context, cancel CancellationSource, term Term) (llm.Stage1Result, llm.Usage, int, error) {
	var result llm.Stage1Result
	var usage llm.Usage
	attempts := 0

	retryCfg := w.retry.Config()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) { attempts = attempt }
	retrier := resilience.NewRetry(retryCfg)

	err := retrier.Execute(ctx, func(ctx context.Context) error {
		if err := checkCancelled(ctx, cancel); err != nil {
			return err
		}
		if err := w.cfg.Limiter.Acquire(ctx, resilience.Stage1); err != nil {
			return err
		}
		err := w.cfg.Breakers.Call(ctx, "llm", func(ctx context.Context) error {
			r, u, callErr := w.cfg.Client.ProcessStage1(ctx, term.Text, term.Type)
			if callErr == nil {
				result, usage = r, u
			}
			return callErr
		})
		w.reportOutcome(resilience.Stage1, err)
		return err
	})
	return result, usage, attempts, err
}

// callStage2 mirrors callStage1 for the Stage 2 call, routed through the
// same "llm" breaker: Stage 1 and Stage 2 are two calls to one
// downstream LLM service, so failures on either stage count against the
// same breaker (spec.md §4.7, Invariant 3's per-service isolation).
func (w *StageWorker) callStage2(ctx context.Context, cancel CancellationSource, term Term, stage1 llm.Stage1Result) (llm.Stage2Result, llm.Usage, int, error) {
	var result llm.Stage2Result
	var usage llm.Usage
	attempts := 0

	retryCfg := w.retry.Config()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) { attempts = attempt }
	retrier := resilience.NewRetry(retryCfg)

	err := retrier.Execute(ctx, func(ctx context.Context) error {
		if err := checkCancelled(ctx, cancel); err != nil {
			return err
		}
		if err := w.cfg.Limiter.Acquire(ctx, resilience.Stage2); err != nil {
			return err
		}
		err := w.cfg.Breakers.Call(ctx, "llm", func(ctx context.Context) error {
			r, u, callErr := w.cfg.Client.ProcessStage2(ctx, term.Text, stage1)
			if callErr == nil {
				result, usage = r, u
			}
			return callErr
		})
		w.reportOutcome(resilience.Stage2, err)
		return err
	})
	return result, usage, attempts, err
}

// reportOutcome forwards the call's outcome to the stage's rate limiter:
// a rate-limit error decays its effective rate and pauses admission for
// RetryAfter, or for a flat 60s when RetryAfter is 0 (the pause does not
// grow with repeated rate-limit errors); any other outcome is reported as a success signal so the
// limiter's recovery window can grow the rate back.
func (w *StageWorker) reportOutcome(stage resilience.Stage, err error) {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) && llmErr.Kind == llm.KindRateLimit {
		retryAfter := time.Duration(llmErr.RetryAfter) * time.Second
		if retryAfter <= 0 {
			retryAfter = 60 * time.Second
		}
		w.cfg.Limiter.OnRateLimit(stage, retryAfter)
		return
	}
	w.cfg.Limiter.OnSuccess(stage)
}
