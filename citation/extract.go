// Package citation implements the citation extractor (C5) and the
// citation verifier & batch orchestrator (C6).
//
// Extraction is grounded on the teacher's regex-prepass + LLM-pass
// pattern used throughout retrieval.go's identifier detection; batch
// orchestration is grounded on original_source's verification task
// control flow, re-homed onto a single goroutine per spec §4.6's
// "single cooperative scheduling context" requirement and
// github.com/cenkalti/backoff/v4 for the fixed retry sequence.
package citation

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/brunobiangulo/ldip/storage"
)

// regexConfidence is the fixed confidence assigned to pattern-matched
// citations per spec §4.5.
const regexConfidence = 75

var citationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Section\s+(\d+[A-Za-z]?)(?:\((\w+)\))?(?:\((\w+)\))?\s+of\s+(?:the\s+)?([A-Za-z ,.'&-]+?Act(?:,?\s*\d{4})?)`),
	regexp.MustCompile(`(?i)S\.\s*(\d+[A-Za-z]?)(?:\((\w+)\))?(?:\((\w+)\))?\s+of\s+(?:the\s+)?([A-Za-z ,.'&-]+?Act(?:,?\s*\d{4})?)`),
	regexp.MustCompile(`(?i)u/s\s*(\d+[A-Za-z]?)(?:\((\w+)\))?(?:\((\w+)\))?\s+(?:of\s+(?:the\s+)?)?([A-Za-z ,.'&-]+?Act(?:,?\s*\d{4})?)`),
}

// acronymTable collapses common Indian-statute abbreviations to their
// canonical display form; unknown names pass through verbatim.
var acronymTable = map[string]string{
	"ipc":  "Indian Penal Code",
	"crpc": "Code of Criminal Procedure",
	"cpc":  "Code of Civil Procedure",
	"it act": "Information Technology Act",
	"noi act": "Negotiable Instruments Act",
}

// Canonicalize resolves a display act name to its canonical form via the
// acronym table; unknown names are returned unchanged.
func Canonicalize(actName string) string {
	key := strings.ToLower(strings.TrimSpace(actName))
	if canon, ok := acronymTable[key]; ok {
		return canon
	}
	return strings.TrimSpace(actName)
}

// ExtractRegex runs the regex prepass over text, returning citations at
// confidence 75 as required by spec §4.5.
func ExtractRegex(text string, sourceDocumentID, sourceChunkID string, pageNumber *int) []storage.ExtractedCitation {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []storage.ExtractedCitation
	for _, p := range citationPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			actName := m[4]
			c := storage.ExtractedCitation{
				ActName:          strings.TrimSpace(actName),
				CanonicalActName: Canonicalize(actName),
				Section:          m[1],
				Subsection:       m[2],
				Clause:           m[3],
				RawText:          m[0],
				Confidence:       regexConfidence,
				Status:           storage.CitationPending,
				SourceDocumentID: sourceDocumentID,
				SourceChunkID:    sourceChunkID,
				PageNumber:       pageNumber,
			}
			out = append(out, c)
		}
	}
	return out
}

// ExtractLLM invokes the LLM pass and parses its structured JSON reply.
// A parse failure returns an empty slice (never an error) — citation
// extraction degrades to whatever the regex prepass already found.
func ExtractLLM(ctx context.Context, llm storage.LLM, text, sourceDocumentID, sourceChunkID string, pageNumber *int) []storage.ExtractedCitation {
	prompt := "Extract all statutory citations from the following legal text as JSON " +
		`{"citations": [{"act_name","canonical_name","section","subsection","clause","raw_text","quoted_text","confidence"}]}` +
		":\n\n" + text
	resp, err := llm.Generate(ctx, prompt, "")
	if err != nil || !gjson.Valid(resp) {
		return nil
	}
	arr := gjson.Get(resp, "citations")
	if !arr.IsArray() {
		return nil
	}
	var out []storage.ExtractedCitation
	for _, item := range arr.Array() {
		actName := item.Get("act_name").String()
		conf := item.Get("confidence").Num
		if conf == 0 {
			if s := item.Get("confidence").String(); s != "" {
				if v, err := strconv.ParseFloat(s, 64); err == nil {
					conf = v
				}
			}
		}
		out = append(out, storage.ExtractedCitation{
			ActName:          actName,
			CanonicalActName: firstNonEmpty(item.Get("canonical_name").String(), Canonicalize(actName)),
			Section:          item.Get("section").String(),
			Subsection:       item.Get("subsection").String(),
			Clause:           item.Get("clause").String(),
			RawText:          item.Get("raw_text").String(),
			QuotedText:       item.Get("quoted_text").String(),
			Confidence:       conf,
			Status:           storage.CitationPending,
			SourceDocumentID: sourceDocumentID,
			SourceChunkID:    sourceChunkID,
			PageNumber:       pageNumber,
		})
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// dedupeKey identifies a citation by its normalized (act, section) pair.
func dedupeKey(c storage.ExtractedCitation) string {
	return strings.ToLower(c.CanonicalActName) + "|" + c.Section
}

// Merge combines regex and LLM citation lists: duplicates (same
// normalized act+section) prefer the LLM record, since its quoted text
// is richer.
func Merge(regexCitations, llmCitations []storage.ExtractedCitation) []storage.ExtractedCitation {
	byKey := make(map[string]storage.ExtractedCitation, len(regexCitations)+len(llmCitations))
	var order []string
	for _, c := range regexCitations {
		k := dedupeKey(c)
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = c
	}
	for _, c := range llmCitations {
		k := dedupeKey(c)
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = c // LLM wins on conflict, including when it overwrites a regex hit
	}
	out := make([]storage.ExtractedCitation, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}
