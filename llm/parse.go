package llm

import (
	"bufio"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// extractStage1JSON pulls the JSON payload out of content, preferring a
// fenced ```json code block (the common case) and falling back to
// treating the whole trimmed content as JSON, mirroring the fence
// stripping in the archived OpenRouter client's process_stage1.
func extractStage1JSON(content string) string {
	if m := fencedJSONPattern.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

// comparisonWire is the wire shape of Stage1Result.Comparison.
type comparisonWire struct {
	Vs     string `json:"vs"`
	Nuance string `json:"nuance"`
}

// stage1Wire is the JSON shape the model is prompted to produce for
// Stage 1, grounded on original_source's nuance_data columns; parseStage1
// decodes into this then copies fields into the public Stage1Result.
type stage1Wire struct {
	Phonetic          string         `json:"phonetic"`
	PartOfSpeech      string         `json:"part_of_speech"`
	PrimaryMeaning    string         `json:"primary_meaning"`
	OtherMeanings     string         `json:"other_meanings"`
	Metaphor          string         `json:"metaphor"`
	MetaphorNoun      string         `json:"metaphor_noun"`
	MetaphorAction    string         `json:"metaphor_action"`
	SuggestedLocation string         `json:"suggested_location"`
	AnchorObject      string         `json:"anchor_object"`
	AnchorSensory     string         `json:"anchor_sensory"`
	Explanation       string         `json:"explanation"`
	UsageContext      string         `json:"usage_context"`
	Comparison        comparisonWire `json:"comparison"`
	Homonyms          []string       `json:"homonyms"`
	Keywords          []string       `json:"keywords"`
}

// parseStage1 parses an LLM response body's content into a Stage1Result
// for term/typ. A parse failure is a *Error with KindValidation, per
// spec.md §4.7's parsing contract.
func parseStage1(term, typ, content string) (Stage1Result, error) {
	jsonContent := extractStage1JSON(content)

	var wire stage1Wire
	if err := json.Unmarshal([]byte(jsonContent), &wire); err != nil {
		return Stage1Result{}, &Error{
			Kind:    KindValidation,
			Message: "stage 1 response is not valid JSON",
			Field:   "response",
			Err:     err,
		}
	}
	if strings.TrimSpace(wire.PrimaryMeaning) == "" {
		return Stage1Result{}, &Error{
			Kind:    KindValidation,
			Message: "stage 1 response missing required field \"primary_meaning\"",
			Field:   "primary_meaning",
		}
	}

	return Stage1Result{
		Term:           term,
		Type:           typ,
		Phonetic:       wire.Phonetic,
		PartOfSpeech:   wire.PartOfSpeech,
		PrimaryMeaning: wire.PrimaryMeaning,
		OtherMeanings:  wire.OtherMeanings,
		Mnemonic: Mnemonic{
			Metaphor:       wire.Metaphor,
			MetaphorNoun:   wire.MetaphorNoun,
			MetaphorAction: wire.MetaphorAction,
			Location:       wire.SuggestedLocation,
			AnchorObject:   wire.AnchorObject,
			AnchorSensory:  wire.AnchorSensory,
		},
		Explanation:  wire.Explanation,
		UsageContext: wire.UsageContext,
		Comparison:   Comparison{Vs: wire.Comparison.Vs, Nuance: wire.Comparison.Nuance},
		Homonyms:     wire.Homonyms,
		Keywords:     wire.Keywords,
		RawJSON:      jsonContent,
	}, nil
}

// stage2HeaderNames are the literal first-column header names that mark
// the first TSV line as a header row to be skipped, rather than data,
// per spec.md §4.7 ("detected by literal first-column name") and
// original_source's `rows[0].startswith('position\tterm')` check.
var stage2HeaderNames = map[string]bool{
	"position": true,
}

// stripFence removes a leading/trailing ``` fence from content, if
// present, mirroring the archived client's line-based fence stripping
// for the Stage 2 (TSV) response, which does not tag the fence with a
// language hint the way Stage 1's JSON fence does.
func stripFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// splitTags turns a comma-separated tags column into a tag list, per
// spec.md §3's "tag list" (the original TSV stores tags as a single
// comma-joined column, e.g. "noun,beginner").
func splitTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// parseStage2 parses an LLM response body's content into a Stage2Result
// for term. Rows are tab-separated position/term/term_number/tab_name/
// primer/front/back/tags/honorific_level, matching original_source's TSV
// header; a header row is detected and skipped, not required. A parse
// failure is a *Error with KindValidation. Position and RowOrdinal are
// parsed from the response for fidelity to the wire format, but callers
// must treat Position as advisory only: pipeline.StageWorker overwrites
// it with the originating Term's authoritative position before handing
// results to a caller.
func parseStage2(term, content string) (Stage2Result, error) {
	body := stripFence(content)

	scanner := bufio.NewScanner(strings.NewReader(body))
	var rows []FlashcardRow
	first := true
	ordinal := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if first {
			first = false
			if stage2HeaderNames[strings.ToLower(strings.TrimSpace(cols[0]))] {
				continue
			}
		}
		if len(cols) < 7 {
			return Stage2Result{}, &Error{
				Kind:    KindValidation,
				Message: "stage 2 row has fewer than 7 tab-separated columns",
				Field:   "response",
			}
		}

		ordinal++
		position, _ := strconv.Atoi(strings.TrimSpace(cols[0]))
		rowOrdinal, err := strconv.Atoi(strings.TrimSpace(cols[2]))
		if err != nil {
			rowOrdinal = ordinal
		}

		row := FlashcardRow{
			Position:   position,
			Term:       strings.TrimSpace(cols[1]),
			RowOrdinal: rowOrdinal,
			TabName:    strings.TrimSpace(cols[3]),
			Primer:     strings.TrimSpace(cols[4]),
			Front:      strings.TrimSpace(cols[5]),
			Back:       strings.TrimSpace(cols[6]),
		}
		if len(cols) > 7 {
			row.Tags = splitTags(cols[7])
		}
		if len(cols) > 8 {
			row.HonorificLevel = strings.TrimSpace(cols[8])
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return Stage2Result{}, &Error{Kind: KindValidation, Message: "failed scanning stage 2 response", Err: err}
	}
	if len(rows) == 0 {
		return Stage2Result{}, &Error{
			Kind:    KindValidation,
			Message: "stage 2 response produced no flashcard rows",
			Field:   "response",
		}
	}

	return Stage2Result{Term: term, Rows: rows}, nil
}
