package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOrderedCollector_OrderedResults(t *testing.T) {
	c := NewOrderedCollector()
	c.SetExpected(3)

	if err := c.Add(2, ProcessingResult{Position: 2, Term: "b"}); err != nil {
		t.Fatalf("Add(2) error = %v", err)
	}
	if err := c.Add(1, ProcessingResult{Position: 1, Term: "a"}); err != nil {
		t.Fatalf("Add(1) error = %v", err)
	}
	if err := c.Add(3, ProcessingResult{Position: 3, Term: "c"}); err != nil {
		t.Fatalf("Add(3) error = %v", err)
	}

	results := c.OrderedResults()
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	want := []string{"a", "b", "c"}
	for i, r := range results {
		if r.Term != want[i] {
			t.Errorf("results[%d].Term = %q, want %q", i, r.Term, want[i])
		}
	}
}

func TestOrderedCollector_DuplicatePosition(t *testing.T) {
	c := NewOrderedCollector()
	c.SetExpected(2)

	if err := c.Add(1, ProcessingResult{Position: 1}); err != nil {
		t.Fatalf("first Add error = %v", err)
	}
	err := c.Add(1, ProcessingResult{Position: 1})
	if !errors.Is(err, ErrDuplicatePosition) {
		t.Fatalf("Add(duplicate) error = %v, want ErrDuplicatePosition", err)
	}
}

func TestOrderedCollector_MissingPositionSynthesized(t *testing.T) {
	c := NewOrderedCollector()
	c.SetExpected(3)
	_ = c.Add(1, ProcessingResult{Position: 1, Term: "a"})
	_ = c.Add(3, ProcessingResult{Position: 3, Term: "c"})

	results := c.OrderedResults()
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[1].Err == nil {
		t.Error("missing position 2 should have a synthesized error")
	}

	stats := c.Stats()
	if len(stats.MissingPositions) != 1 || stats.MissingPositions[0] != 2 {
		t.Errorf("MissingPositions = %v, want [2]", stats.MissingPositions)
	}
}

func TestOrderedCollector_WaitForAll(t *testing.T) {
	c := NewOrderedCollector()
	c.SetExpected(2)

	var fired CollectorStats
	done := make(chan struct{})
	c.OnComplete(func(stats CollectorStats) {
		fired = stats
		close(done)
	})

	_ = c.Add(1, ProcessingResult{Position: 1})
	if c.WaitForAll(context.Background(), 50*time.Millisecond) {
		t.Fatal("WaitForAll should not return true before all results arrive")
	}

	_ = c.Add(2, ProcessingResult{Position: 2})
	if !c.WaitForAll(context.Background(), time.Second) {
		t.Fatal("WaitForAll should return true once all results arrive")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnComplete callback was not invoked")
	}
	if fired.TotalCollected != 2 {
		t.Errorf("fired.TotalCollected = %d, want 2", fired.TotalCollected)
	}
}

func TestOrderedCollector_Reset(t *testing.T) {
	c := NewOrderedCollector()
	c.SetExpected(1)
	_ = c.Add(1, ProcessingResult{Position: 1})

	c.Reset()
	stats := c.Stats()
	if stats.TotalExpected != 0 || stats.TotalCollected != 0 {
		t.Errorf("Stats() after Reset = %+v, want zeroed", stats)
	}
	if c.OrderedResults() != nil {
		t.Error("OrderedResults() after Reset should be nil")
	}
}
