package llm

import "context"

// Client is the external LLM collaborator contract (spec.md §6): two
// stage-specific calls rather than one method branching on a model
// string, so that Stage 1 and Stage 2 keep independent rate-limit
// buckets and independent retry/cache treatment throughout
// pipeline.StageWorker.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use; the
//     orchestrator calls both methods from many goroutines at once.
//   - Context: both methods must honor ctx cancellation/deadlines and
//     return a *Error with KindCancelled or KindTimeout rather than a
//     bare context error.
//   - Errors: every returned error must be a *Error so callers can
//     classify it without string matching.
type Client interface {
	// ProcessStage1 runs the semantic-analysis call for term.
	ProcessStage1(ctx context.Context, term, typ string) (Stage1Result, Usage, error)

	// ProcessStage2 runs the flashcard-generation call for term, using
	// stage1 as the grounding context for the prompt.
	ProcessStage2(ctx context.Context, term string, stage1 Stage1Result) (Stage2Result, Usage, error)
}
