package pipeline

import "errors"

// Sentinel errors surfaced at orchestrator scope, distinct from
// llm.Error's per-call taxonomy.
var (
	// ErrBatchCancelled's message prefixes BatchMetrics.CancelReason when
	// a batch was stopped by its CancellationSource or ctx; ProcessBatch
	// does not return it as an error.
	ErrBatchCancelled = errors.New("pipeline: batch was cancelled before completion")

	// ErrDuplicatePosition is returned by OrderedCollector.Add when two
	// results are submitted for the same position within a batch.
	ErrDuplicatePosition = errors.New("pipeline: duplicate result position")

	// ErrEmptyBatch is returned when ProcessBatch is called with no terms.
	ErrEmptyBatch = errors.New("pipeline: batch has no terms")

	// ErrBatchHadFailures marks a batch span as errored when at least one
	// item in the batch failed, without failing the batch itself.
	ErrBatchHadFailures = errors.New("pipeline: batch completed with item failures")
)
