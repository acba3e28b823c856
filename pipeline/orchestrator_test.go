package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/kflash/flashpipe/cache"
	"github.com/kflash/flashpipe/llm"
	"github.com/kflash/flashpipe/resilience"
)

func newTestOrchestrator(client llm.Client) *Orchestrator {
	stageCache := cache.NewStageCache[llm.Stage1Result, llm.Stage2Result](cache.NewMemoryCache(cache.DefaultPolicy()), cache.DefaultPolicy())
	return NewOrchestrator(OrchestratorConfig{
		Client:      client,
		Cache:       stageCache,
		Limiter:     testLimiter(),
		Breakers:    testBreakers(),
		RetryConfig: resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond},
	})
}

func TestOrchestrator_ProcessBatch_OrdersResults(t *testing.T) {
	o := newTestOrchestrator(&fakeClient{})

	terms := []Term{
		{Position: 1, Text: "alpha", Type: "noun"},
		{Position: 2, Text: "beta", Type: "noun"},
		{Position: 3, Text: "gamma", Type: "noun"},
	}

	results, metrics, err := o.ProcessBatch(context.Background(), terms, BatchOptions{MaxConcurrent: 2})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if results[i].Term != want {
			t.Errorf("results[%d].Term = %q, want %q", i, results[i].Term, want)
		}
	}
	if metrics.Successful != 3 {
		t.Errorf("metrics.Successful = %d, want 3", metrics.Successful)
	}
	if metrics.TotalExpected != 3 || metrics.TotalCollected != 3 {
		t.Errorf("metrics = %+v, want TotalExpected=3 TotalCollected=3", metrics)
	}
}

func TestOrchestrator_ProcessBatch_EmptyTerms(t *testing.T) {
	o := newTestOrchestrator(&fakeClient{})

	results, metrics, err := o.ProcessBatch(context.Background(), nil, BatchOptions{})
	if err != ErrEmptyBatch {
		t.Fatalf("err = %v, want ErrEmptyBatch", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
	if metrics.TotalExpected != 0 || metrics.TotalCollected != 0 || metrics.MissingPositions != nil {
		t.Errorf("metrics = %+v, want zero value", metrics)
	}
}

func TestBatchOptions_Clamp(t *testing.T) {
	opts := BatchOptions{}.clamp(3)
	if opts.BatchID == "" {
		t.Error("clamp() should generate a BatchID when none is given")
	}
	if opts.MaxConcurrent != 3 {
		t.Errorf("clamp(3) MaxConcurrent = %d, want 3 (clamped to term count)", opts.MaxConcurrent)
	}
	if opts.Cancellation == nil {
		t.Error("clamp() should default Cancellation to a non-nil no-op")
	}

	big := BatchOptions{MaxConcurrent: 1000}.clamp(1000)
	if big.MaxConcurrent != maxMaxConcurrent {
		t.Errorf("clamp(1000) with MaxConcurrent=1000 got %d, want %d", big.MaxConcurrent, maxMaxConcurrent)
	}
}

func TestOrchestrator_ProcessBatch_PartialFailureStillReturnsAllPositions(t *testing.T) {
	client := &fakeClient{
		stage1Err:  &llm.Error{Kind: llm.KindValidation, Message: "bad json"},
		stage1ErrN: 1,
	}
	o := newTestOrchestrator(client)

	terms := []Term{{Position: 1, Text: "delta", Type: "noun"}}
	results, metrics, err := o.ProcessBatch(context.Background(), terms, BatchOptions{MaxConcurrent: 1})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("results = %+v, want one failed result", results)
	}
	if metrics.Failed != 1 {
		t.Errorf("metrics.Failed = %d, want 1", metrics.Failed)
	}
}

func TestOrchestrator_ProcessBatch_ProgressAndCompleteCallbacks(t *testing.T) {
	o := newTestOrchestrator(&fakeClient{})

	progressCalls := 0
	var completeStats CollectorStats
	completeCalled := make(chan struct{})

	opts := BatchOptions{
		MaxConcurrent: 2,
		OnProgress:    func(ProgressStats) { progressCalls++ },
		OnComplete: func(stats CollectorStats) {
			completeStats = stats
			close(completeCalled)
		},
	}

	terms := []Term{
		{Position: 1, Text: "epsilon", Type: "noun"},
		{Position: 2, Text: "zeta", Type: "noun"},
	}
	_, _, err := o.ProcessBatch(context.Background(), terms, opts)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	select {
	case <-completeCalled:
	case <-time.After(time.Second):
		t.Fatal("OnComplete callback was never invoked")
	}
	if completeStats.TotalCollected != 2 {
		t.Errorf("completeStats.TotalCollected = %d, want 2", completeStats.TotalCollected)
	}
}
