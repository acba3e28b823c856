package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/kflash/flashpipe/llm"
	"github.com/kflash/flashpipe/store"
)

func TestMonitor_RecordBatchLifecycle_WritesToStore(t *testing.T) {
	st := store.NewMemStore()
	m := NewMonitor(nil, nil, nil, st)
	ctx := context.Background()

	m.RecordBatchStart(ctx, "batch-1", 2)
	m.RecordItem(ctx, "batch-1", ProcessingResult{
		Position: 1, Term: "foo",
		Stage2:         llm.Stage2Result{Term: "foo", Rows: []llm.FlashcardRow{{Front: "foo", Back: "def"}}},
		ProcessingTime: 5 * time.Millisecond,
	})
	m.RecordItem(ctx, "batch-1", ProcessingResult{
		Position: 2, Term: "bar",
		Err: errGiveUp,
	})
	m.RecordBatchEnd(ctx, "batch-1", BatchMetrics{TotalExpected: 2, TotalCollected: 2, Successful: 1, Failed: 1})

	summary, ok := st.Summary("batch-1")
	if !ok {
		t.Fatal("expected a batch summary after RecordBatchEnd")
	}
	if summary.Successful != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want Successful=1 Failed=1", summary)
	}
	if summary.StartedAt.IsZero() {
		t.Error("summary.StartedAt should be populated from RecordBatchStart")
	}

	items := st.Items("batch-1")
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if !items[0].Success {
		t.Error("items[0].Success should be true")
	}
	if items[1].Success {
		t.Error("items[1].Success should be false")
	}
	if items[1].Error == "" {
		t.Error("items[1].Error should be populated")
	}
}

func TestMonitor_BatchSpanStateClearedAfterEnd(t *testing.T) {
	st := store.NewMemStore()
	m := NewMonitor(nil, nil, nil, st)
	ctx := context.Background()

	m.RecordBatchStart(ctx, "batch-2", 1)
	m.RecordBatchEnd(ctx, "batch-2", BatchMetrics{TotalExpected: 1, TotalCollected: 1, Successful: 1})

	m.mu.Lock()
	_, ok := m.batchSpans["batch-2"]
	m.mu.Unlock()
	if ok {
		t.Error("batchSpans entry should be removed after RecordBatchEnd")
	}
}

func TestMonitor_NilCollaboratorsDoNotPanic(t *testing.T) {
	m := NewMonitor(nil, nil, nil, nil)
	ctx := context.Background()

	m.RecordBatchStart(ctx, "batch-3", 1)
	m.RecordItem(ctx, "batch-3", ProcessingResult{Position: 1, Term: "baz"})
	m.RecordBatchEnd(ctx, "batch-3", BatchMetrics{})
	m.RecordConcurrency(ctx, 3)
	m.RecordBreakerTrip(ctx, "stage1")
	m.RecordRateLimitWait(ctx, "stage1", time.Millisecond)
}

var errGiveUp = &giveUpError{}

type giveUpError struct{}

func (*giveUpError) Error() string { return "monitor test: give up" }
