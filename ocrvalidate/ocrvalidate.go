// Package ocrvalidate implements the tiered OCR correction pipeline (C4):
// static pattern rules, then batched LLM validation, then a human review
// queue, each tier picking up only what the previous tier left below
// threshold.
//
// Grounded on original_source/backend/app/services/ocr/gemini_validator.py
// for the batching (<=20/batch), JSON prompt shape, and tolerant-parse
// fallback, and on the teacher's preference for small ordered rule
// tables (retrieval.go's identifierPatterns) for Tier 1.
package ocrvalidate

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/storage"
)

// Thresholds configures the tier boundaries.
type Thresholds struct {
	GeminiThreshold float64 // default 0.85 — below this, send to Tier 2
	HumanThreshold  float64 // default 0.50 — below this, send to Tier 3
}

func DefaultThresholds() Thresholds {
	return Thresholds{GeminiThreshold: 0.85, HumanThreshold: 0.50}
}

// Word is one low-confidence OCR token under review.
type Word struct {
	BBoxID     string
	Text       string
	Confidence float64
	PageNumber int
	Context    string
}

// Correction is one successful Tier 1 pattern rewrite.
type Correction struct {
	BBoxID     string
	Original   string
	Corrected  string
	PatternID  string
	Confidence float64
}

type patternRule struct {
	id      string
	pattern *regexp.Regexp
	rewrite func(string) string
}

// patternRules is the static, ordered Tier-1 rule set. Each rule is tried
// greedily against the word text; the first rule that changes the text
// wins and the loop moves to the next word.
var patternRules = []patternRule{
	{"zero_for_o", regexp.MustCompile(`\d*O\d+|\d+O\d*`), func(s string) string { return strings.ReplaceAll(s, "O", "0") }},
	{"one_for_l_or_I", regexp.MustCompile(`\d*[lI]\d+|\d+[lI]\d*`), func(s string) string {
		s = strings.ReplaceAll(s, "l", "1")
		return strings.ReplaceAll(s, "I", "1")
	}},
	{"five_for_s_currency", regexp.MustCompile(`(?i)(rs\.?|\$)\s*\d*[sS]\d*`), func(s string) string {
		return strings.ReplaceAll(strings.ReplaceAll(s, "S", "5"), "s", "5")
	}},
	{"eight_for_b", regexp.MustCompile(`\d*B\d+|\d+B\d*`), func(s string) string { return strings.ReplaceAll(s, "B", "8") }},
}

// ApplyPatternTier runs Tier 1 over words, returning the successfully
// rewritten ones; words with no matching rule are left for Tier 2.
func ApplyPatternTier(words []Word) (corrections []Correction, remaining []Word) {
	for _, w := range words {
		corrected := ""
		patternID := ""
		for _, rule := range patternRules {
			if rule.pattern.MatchString(w.Text) {
				c := rule.rewrite(w.Text)
				if c != w.Text {
					corrected = c
					patternID = rule.id
					break
				}
			}
		}
		if corrected != "" {
			corrections = append(corrections, Correction{
				BBoxID: w.BBoxID, Original: w.Text, Corrected: corrected,
				PatternID: patternID, Confidence: 0.95,
			})
		} else {
			remaining = append(remaining, w)
		}
	}
	return corrections, remaining
}

// batchSize bounds each structured-JSON LLM validation call.
const batchSize = 20

// LLMTier runs Tier 2: words between HumanThreshold and GeminiThreshold,
// batched to <=20 per call, validated in parallel. A batch whose LLM call
// errors, or whose response cannot be parsed even tolerantly, degrades to
// returning its words unchanged — it never fails the document.
func LLMTier(ctx context.Context, llm storage.LLM, words []Word, th Thresholds) []Correction {
	var batch []Word
	var batches [][]Word
	for _, w := range words {
		if w.Confidence >= th.GeminiThreshold || w.Confidence < th.HumanThreshold {
			continue
		}
		batch = append(batch, w)
		if len(batch) == batchSize {
			batches = append(batches, batch)
			batch = nil
		}
	}
	if len(batch) > 0 {
		batches = append(batches, batch)
	}

	results := make([][]Correction, len(batches))
	var wg sync.WaitGroup
	for i, b := range batches {
		wg.Add(1)
		go func(idx int, words []Word) {
			defer wg.Done()
			results[idx] = validateBatch(ctx, llm, words)
		}(i, b)
	}
	wg.Wait()

	var all []Correction
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

func validateBatch(ctx context.Context, llm storage.LLM, words []Word) []Correction {
	prompt := buildValidationPrompt(words)
	resp, err := llm.Generate(ctx, prompt, `{"corrections": [{"bbox_id": string, "corrected_text": string}]}`)
	if err != nil {
		return unchanged(words)
	}
	return parseValidationResponse(resp, words)
}

func buildValidationPrompt(words []Word) string {
	var b strings.Builder
	b.WriteString("Validate and correct OCR text for the following words. Return JSON {\"corrections\": [{\"bbox_id\", \"corrected_text\"}]}.\n")
	for _, w := range words {
		b.WriteString("- ")
		b.WriteString(w.BBoxID)
		b.WriteString(": \"")
		b.WriteString(w.Text)
		b.WriteString("\" (context: ")
		b.WriteString(w.Context)
		b.WriteString(")\n")
	}
	return b.String()
}

// parseValidationResponse tolerantly extracts the corrections array,
// stripping markdown code fences first. Any parse failure — malformed
// JSON, missing field — returns every word unchanged rather than an error.
func parseValidationResponse(resp string, words []Word) []Correction {
	cleaned := stripMarkdownFence(resp)
	if !gjson.Valid(cleaned) {
		return unchanged(words)
	}
	arr := gjson.Get(cleaned, "corrections")
	if !arr.Exists() || !arr.IsArray() {
		return unchanged(words)
	}

	byID := make(map[string]Word, len(words))
	for _, w := range words {
		byID[w.BBoxID] = w
	}

	var out []Correction
	seen := map[string]bool{}
	for _, item := range arr.Array() {
		id := item.Get("bbox_id").String()
		corrected := item.Get("corrected_text").String()
		w, ok := byID[id]
		if !ok || corrected == "" {
			continue
		}
		out = append(out, Correction{
			BBoxID: id, Original: w.Text, Corrected: corrected,
			PatternID: "llm_validation", Confidence: w.Confidence,
		})
		seen[id] = true
	}
	// Any word the model didn't address comes back unchanged.
	for _, w := range words {
		if !seen[w.BBoxID] {
			out = append(out, Correction{BBoxID: w.BBoxID, Original: w.Text, Corrected: w.Text, PatternID: "unchanged", Confidence: w.Confidence})
		}
	}
	return out
}

func unchanged(words []Word) []Correction {
	out := make([]Correction, len(words))
	for i, w := range words {
		out[i] = Correction{BBoxID: w.BBoxID, Original: w.Text, Corrected: w.Text, PatternID: "unchanged", Confidence: w.Confidence}
	}
	return out
}

func stripMarkdownFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// ReviewItem is a Tier-3 pending human-review entry.
type ReviewItem struct {
	ID         string
	MatterID   string
	DocumentID string
	BBoxID     string
	Text       string
	Confidence float64
}

// HumanQueue holds pending review items, scoped by matter and document.
// A real deployment backs this by MetaStore; this in-process
// implementation is the reference used by tests and by small
// deployments that don't need durability across restarts.
type HumanQueue struct {
	mu    sync.Mutex
	items map[string]ReviewItem
}

func NewHumanQueue() *HumanQueue {
	return &HumanQueue{items: map[string]ReviewItem{}}
}

// Enqueue files words still below HumanThreshold for manual review.
func (q *HumanQueue) Enqueue(matterID, documentID string, words []Word, th Thresholds) []ReviewItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var items []ReviewItem
	for _, w := range words {
		if w.Confidence >= th.HumanThreshold {
			continue
		}
		item := ReviewItem{
			ID: w.BBoxID, MatterID: matterID, DocumentID: documentID,
			BBoxID: w.BBoxID, Text: w.Text, Confidence: w.Confidence,
		}
		q.items[item.ID] = item
		items = append(items, item)
	}
	return items
}

// Approve records a human correction. The caller's authorized matterID
// must match the item's matter, or the error is ItemNotFound — never a
// distinguishable "forbidden", so an IDOR probe cannot learn whether the
// item exists in a matter the caller cannot see.
func (q *HumanQueue) Approve(matterID, itemID, correctedText string) (*ReviewItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[itemID]
	if !ok || item.MatterID != matterID {
		return nil, apperr.New(apperr.ItemNotFound, "review item not found")
	}
	item.Text = correctedText
	item.Confidence = 1.0
	q.items[itemID] = item
	return &item, nil
}
