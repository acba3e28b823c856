// Package llm provides the two-stage vocabulary processing contract: a
// Client that turns a vocabulary term into a semantic analysis (Stage 1)
// and then a set of flashcard rows (Stage 2), plus the HTTP
// implementation, parsers, and error taxonomy that back it.
package llm

// Comparison is the "vs"/"nuance" comparison object spec.md §3 requires
// on Stage1Result: how the term differs from a closely related one.
type Comparison struct {
	Vs     string `json:"vs,omitempty"`
	Nuance string `json:"nuance,omitempty"`
}

// Mnemonic is the metaphor + location + anchor memory aid spec.md §3
// requires on Stage1Result, grounded on original_source's
// pipeline_orchestrator.py nuance_data columns (metaphor, metaphor_noun,
// metaphor_action, suggested_location, anchor_object, anchor_sensory).
type Mnemonic struct {
	Metaphor       string `json:"metaphor,omitempty"`
	MetaphorNoun   string `json:"metaphor_noun,omitempty"`
	MetaphorAction string `json:"metaphor_action,omitempty"`
	Location       string `json:"suggested_location,omitempty"`
	AnchorObject   string `json:"anchor_object,omitempty"`
	AnchorSensory  string `json:"anchor_sensory,omitempty"`
}

// Stage1Result is the semantic-analysis output of the first LLM call for
// a term: phonetic form, part of speech, primary and secondary meanings,
// a mnemonic structure, a comparison against a related term, optional
// homonyms, and a keyword list (spec.md §3), grounded on the same
// original_source nuance_data columns as Mnemonic above.
type Stage1Result struct {
	Term           string     `json:"term"`
	Type           string     `json:"type"`
	Phonetic       string     `json:"phonetic,omitempty"`
	PartOfSpeech   string     `json:"part_of_speech,omitempty"`
	PrimaryMeaning string     `json:"primary_meaning"`
	OtherMeanings  string     `json:"other_meanings,omitempty"`
	Mnemonic       Mnemonic   `json:"mnemonic"`
	Explanation    string     `json:"explanation,omitempty"`
	UsageContext   string     `json:"usage_context,omitempty"`
	Comparison     Comparison `json:"comparison"`
	Homonyms       []string   `json:"homonyms,omitempty"`
	Keywords       []string   `json:"keywords,omitempty"`

	// RawJSON is the fenced block that produced this result, kept for
	// cache-key stability debugging.
	RawJSON string `json:"-"`
}

// FlashcardRow is one row of the Stage 2 output, grounded on
// original_source's flashcards table columns (position, tab_name,
// primer, honorific_level) and pipeline_cli.py's TSV header
// ("position\tterm\tterm_number\ttab_name\tprimer\tfront\tback\ttags\t
// honorific_level"). Position is stamped by the pipeline layer from the
// originating Term, not trusted from the cached/LLM-produced value, so
// that a Stage 2 cache hit shared across terms with identical Stage 1
// content never leaks another term's position.
type FlashcardRow struct {
	Position       int      `json:"position"`
	Term           string   `json:"term"`
	RowOrdinal     int      `json:"term_number"`
	TabName        string   `json:"tab_name,omitempty"`
	Primer         string   `json:"primer,omitempty"`
	Front          string   `json:"front"`
	Back           string   `json:"back"`
	Tags           []string `json:"tags,omitempty"`
	HonorificLevel string   `json:"honorific_level,omitempty"`
}

// Stage2Result is the flashcard-generation output of the second LLM
// call: the ordered set of rows parsed from the Stage 2 response.
type Stage2Result struct {
	Term string         `json:"term"`
	Rows []FlashcardRow `json:"rows"`
}

// Usage reports token accounting for a single LLM call, as returned in
// the response body's "usage" object.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of two Usage values, used to total
// token accounting across Stage 1 and Stage 2 calls for one term.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}
