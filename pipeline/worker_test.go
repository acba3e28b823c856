package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kflash/flashpipe/cache"
	"github.com/kflash/flashpipe/llm"
	"github.com/kflash/flashpipe/resilience"
)

// fakeClient is a scripted llm.Client for worker tests.
type fakeClient struct {
	stage1Calls int32
	stage2Calls int32

	stage1Err   error
	stage1ErrN  int32 // fail the first N calls, then succeed
	stage2Err   error
}

func (f *fakeClient) ProcessStage1(ctx context.Context, term, typ string) (llm.Stage1Result, llm.Usage, error) {
	n := atomic.AddInt32(&f.stage1Calls, 1)
	if f.stage1Err != nil && n <= f.stage1ErrN {
		return llm.Stage1Result{}, llm.Usage{}, f.stage1Err
	}
	return llm.Stage1Result{Term: term, Type: typ, PrimaryMeaning: "def-" + term}, llm.Usage{TotalTokens: 10}, nil
}

func (f *fakeClient) ProcessStage2(ctx context.Context, term string, stage1 llm.Stage1Result) (llm.Stage2Result, llm.Usage, error) {
	atomic.AddInt32(&f.stage2Calls, 1)
	if f.stage2Err != nil {
		return llm.Stage2Result{}, llm.Usage{}, f.stage2Err
	}
	return llm.Stage2Result{Term: term, Rows: []llm.FlashcardRow{{Front: term, Back: stage1.PrimaryMeaning}}}, llm.Usage{TotalTokens: 5}, nil
}

var _ llm.Client = (*fakeClient)(nil)

func testLimiter() *resilience.StageLimiter {
	cfg := resilience.RateLimiterConfig{Rate: 1000, Burst: 1000, WaitOnLimit: true, MaxWait: time.Second}
	return resilience.NewStageLimiter(resilience.StageLimiterConfig{Stage1: cfg, Stage2: cfg})
}

func testBreakers() *resilience.BreakerRegistry {
	return resilience.NewBreakerRegistry(DefaultBreakerFactory(resilience.CircuitBreakerConfig{
		MaxFailures: 100, ResetTimeout: time.Second,
	}))
}

func newTestWorker(t *testing.T, client llm.Client) (*StageWorker, *OrderedCollector, *ProgressTracker) {
	t.Helper()
	stageCache := cache.NewStageCache[llm.Stage1Result, llm.Stage2Result](cache.NewMemoryCache(cache.DefaultPolicy()), cache.DefaultPolicy())
	collector := NewOrderedCollector()
	collector.SetExpected(1)
	progress := NewProgressTracker(1)

	w := NewStageWorker(WorkerConfig{
		Client:      client,
		Cache:       stageCache,
		Limiter:     testLimiter(),
		Breakers:    testBreakers(),
		RetryConfig: resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Progress:    progress,
		Collector:   collector,
	})
	return w, collector, progress
}

func TestStageWorker_Process_Success(t *testing.T) {
	client := &fakeClient{}
	w, collector, _ := newTestWorker(t, client)

	result := w.Process(context.Background(), nil, Term{Position: 1, Text: "mitosis", Type: "noun"})
	if result.Err != nil {
		t.Fatalf("Process() error = %v", result.Err)
	}
	if !result.IsSuccess() {
		t.Fatal("expected IsSuccess() to be true")
	}
	if len(result.Stage2.Rows) != 1 {
		t.Fatalf("len(Stage2.Rows) = %d, want 1", len(result.Stage2.Rows))
	}
	if result.Usage.TotalTokens != 15 {
		t.Errorf("Usage.TotalTokens = %d, want 15", result.Usage.TotalTokens)
	}

	stats := collector.Stats()
	if stats.Successful != 1 {
		t.Errorf("collector Successful = %d, want 1", stats.Successful)
	}
}

func TestStageWorker_Process_RetriesThenSucceeds(t *testing.T) {
	client := &fakeClient{
		stage1Err:  &llm.Error{Kind: llm.KindServerAPI, Message: "server hiccup"},
		stage1ErrN: 2,
	}
	w, _, _ := newTestWorker(t, client)

	result := w.Process(context.Background(), nil, Term{Position: 1, Text: "osmosis", Type: "noun"})
	if result.Err != nil {
		t.Fatalf("Process() error = %v", result.Err)
	}
	if result.Retries == 0 {
		t.Error("expected at least one retry to have been recorded")
	}
}

func TestStageWorker_Process_GivesUpOnValidationError(t *testing.T) {
	client := &fakeClient{
		stage1Err:  &llm.Error{Kind: llm.KindValidation, Message: "bad json"},
		stage1ErrN: 100,
	}
	w, collector, _ := newTestWorker(t, client)

	result := w.Process(context.Background(), nil, Term{Position: 1, Text: "entropy", Type: "noun"})
	if result.Err == nil {
		t.Fatal("expected Process() to surface the validation error")
	}
	if result.IsSuccess() {
		t.Error("IsSuccess() should be false on a give-up")
	}
	if atomic.LoadInt32(&client.stage1Calls) != 1 {
		t.Errorf("stage1Calls = %d, want 1 (validation errors are not retryable)", client.stage1Calls)
	}

	stats := collector.Stats()
	if stats.Failed != 1 {
		t.Errorf("collector Failed = %d, want 1", stats.Failed)
	}
}

func TestStageWorker_Process_CancelledBeforeStart(t *testing.T) {
	client := &fakeClient{}
	w, _, _ := newTestWorker(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := w.Process(ctx, nil, Term{Position: 1, Text: "stasis", Type: "noun"})
	if result.Err == nil {
		t.Fatal("expected Process() to report cancellation")
	}
	if client.stage1Calls != 0 {
		t.Errorf("stage1Calls = %d, want 0 after pre-cancelled context", client.stage1Calls)
	}
}

func TestStageWorker_Process_CachesStage1AcrossCalls(t *testing.T) {
	client := &fakeClient{}
	stageCache := cache.NewStageCache[llm.Stage1Result, llm.Stage2Result](cache.NewMemoryCache(cache.DefaultPolicy()), cache.DefaultPolicy())

	build := func() *StageWorker {
		collector := NewOrderedCollector()
		collector.SetExpected(1)
		progress := NewProgressTracker(1)
		return NewStageWorker(WorkerConfig{
			Client:      client,
			Cache:       stageCache,
			Limiter:     testLimiter(),
			Breakers:    testBreakers(),
			RetryConfig: resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond},
			Progress:    progress,
			Collector:   collector,
		})
	}

	term := Term{Position: 1, Text: "synapse", Type: "noun"}
	r1 := build().Process(context.Background(), nil, term)
	if r1.FromCacheStage1 {
		t.Fatal("first call should not be served from cache")
	}

	r2 := build().Process(context.Background(), nil, term)
	if !r2.FromCacheStage1 {
		t.Error("second call with the same term should hit the stage1 cache")
	}
	if atomic.LoadInt32(&client.stage1Calls) != 1 {
		t.Errorf("stage1Calls = %d, want 1 (second lookup should be cached)", client.stage1Calls)
	}
}

func TestStageWorker_Process_StampsPositionFromTerm(t *testing.T) {
	client := &fakeClient{}
	stageCache := cache.NewStageCache[llm.Stage1Result, llm.Stage2Result](cache.NewMemoryCache(cache.DefaultPolicy()), cache.DefaultPolicy())

	build := func(expected int) *StageWorker {
		collector := NewOrderedCollector()
		collector.SetExpected(expected)
		progress := NewProgressTracker(expected)
		return NewStageWorker(WorkerConfig{
			Client:      client,
			Cache:       stageCache,
			Limiter:     testLimiter(),
			Breakers:    testBreakers(),
			RetryConfig: resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond},
			Progress:    progress,
			Collector:   collector,
		})
	}

	// Two distinct terms whose Stage 1 output happens to be identical
	// (same fakeClient seed keyed off term text only affects Stage1, but
	// here we reuse the exact same term text/type at two different
	// positions so Stage 2's cache key collides) must each get their own
	// position stamped onto the returned rows, not whatever the cache
	// entry happened to store first.
	term1 := Term{Position: 1, Text: "synapse", Type: "noun"}
	term2 := Term{Position: 7, Text: "synapse", Type: "noun"}

	r1 := build(1).Process(context.Background(), nil, term1)
	if r1.Err != nil {
		t.Fatalf("Process() error = %v", r1.Err)
	}
	r2 := build(1).Process(context.Background(), nil, term2)
	if r2.Err != nil {
		t.Fatalf("Process() error = %v", r2.Err)
	}
	if !r2.FromCacheStage2 {
		t.Fatal("expected the second call to hit the shared Stage 2 cache entry")
	}
	for _, row := range r1.Stage2.Rows {
		if row.Position != 1 {
			t.Errorf("r1 row.Position = %d, want 1", row.Position)
		}
	}
	for _, row := range r2.Stage2.Rows {
		if row.Position != 7 {
			t.Errorf("r2 row.Position = %d, want 7 (cache hit must not leak position 1)", row.Position)
		}
	}
}
