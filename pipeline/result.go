package pipeline

import (
	"time"

	"github.com/kflash/flashpipe/llm"
)

// ProcessingResult is the outcome of running one Term through both
// stages, grounded on original_source's ProcessingResult dataclass
// (position/term/flashcard_data/error/from_cache/processing_time_ms),
// extended with the Stage1/Stage2 structured results, per-term token
// usage, and a supplemented Retries count so the batch summary can
// report how much retry work a batch actually needed.
type ProcessingResult struct {
	Position        int
	Term            string
	Stage1          llm.Stage1Result
	Stage2          llm.Stage2Result
	Usage           llm.Usage
	Err             error
	FromCacheStage1 bool
	FromCacheStage2 bool
	ProcessingTime  time.Duration
	Retries         int
}

// IsSuccess mirrors ProcessingResult.is_success: a result counts as
// successful only if no error occurred and Stage 2 actually produced
// rows.
func (r ProcessingResult) IsSuccess() bool {
	return r.Err == nil && len(r.Stage2.Rows) > 0
}

// FromCache reports whether both stages were served from cache: a term
// whose Stage 1 hit but whose Stage 2 required a fresh LLM call is not
// a cache hit overall.
func (r ProcessingResult) FromCache() bool {
	return r.FromCacheStage1 && r.FromCacheStage2
}

// BatchMetrics summarizes a completed batch, grounded on
// OrderedResultsCollector.get_statistics and
// ConcurrentProgressTracker.get_stats, flattened into one struct for
// Monitor to export. CancelReason is a supplemented field recording why
// a batch ended early (empty string for a batch that ran to
// completion).
type BatchMetrics struct {
	TotalExpected    int
	TotalCollected   int
	Successful       int
	Failed           int
	FromCache        int
	CacheHitRate     float64
	TotalTime        time.Duration
	AverageTime      time.Duration
	MissingPositions []int
	CancelReason     string
}
