package store

import (
	"context"
	"testing"
	"time"
)

func TestMemStore_BatchLifecycle(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if err := s.RecordBatchStart(ctx, "batch-1", 5, time.Now()); err != nil {
		t.Fatalf("RecordBatchStart() error = %v", err)
	}

	if _, ok := s.Summary("batch-1"); ok {
		t.Error("Summary should not be present before RecordBatchEnd")
	}

	summary := BatchSummary{BatchID: "batch-1", TotalExpected: 5, TotalCollected: 5, Successful: 4, Failed: 1}
	if err := s.RecordBatchEnd(ctx, summary); err != nil {
		t.Fatalf("RecordBatchEnd() error = %v", err)
	}

	got, ok := s.Summary("batch-1")
	if !ok {
		t.Fatal("expected Summary to be present after RecordBatchEnd")
	}
	if got.Successful != 4 || got.Failed != 1 {
		t.Errorf("Summary = %+v, want Successful=4 Failed=1", got)
	}
}

func TestMemStore_RecordItemResult(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.RecordItemResult(ctx, ItemOutcome{BatchID: "batch-1", Position: 1, Term: "mitosis", Success: true})
	_ = s.RecordItemResult(ctx, ItemOutcome{BatchID: "batch-1", Position: 2, Term: "meiosis", Success: false, Error: "boom"})

	items := s.Items("batch-1")
	if len(items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(items))
	}
	if items[1].Error != "boom" {
		t.Errorf("items[1].Error = %q, want boom", items[1].Error)
	}
}

func TestMemStore_UnknownBatchReturnsNoSummary(t *testing.T) {
	s := NewMemStore()
	if _, ok := s.Summary("never-seen"); ok {
		t.Error("expected no summary for unknown batch")
	}
	if items := s.Items("never-seen"); items != nil {
		t.Errorf("Items() = %v, want nil for unknown batch", items)
	}
}
