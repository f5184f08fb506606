package ocrvalidate

import (
	"context"
	"errors"
	"testing"
)

func TestApplyPatternTierZeroForO(t *testing.T) {
	words := []Word{{BBoxID: "b1", Text: "1O0", Confidence: 0.6}}
	corrections, remaining := ApplyPatternTier(words)
	if len(remaining) != 0 {
		t.Fatalf("expected word consumed by pattern tier, got %d remaining", len(remaining))
	}
	if len(corrections) != 1 || corrections[0].Corrected != "100" {
		t.Fatalf("expected correction to 100, got %+v", corrections)
	}
	if corrections[0].Confidence != 0.95 {
		t.Fatalf("pattern-tier confidence must be 0.95, got %v", corrections[0].Confidence)
	}
}

func TestApplyPatternTierLeavesUnmatchedWords(t *testing.T) {
	words := []Word{{BBoxID: "b1", Text: "hello", Confidence: 0.6}}
	_, remaining := ApplyPatternTier(words)
	if len(remaining) != 1 {
		t.Fatalf("expected word to pass through to next tier, got %d remaining", len(remaining))
	}
}

type fakeLLM struct {
	resp string
	err  error
}

func (f fakeLLM) Generate(ctx context.Context, prompt, schemaHint string) (string, error) {
	return f.resp, f.err
}

func TestLLMTierFailsOpenOnGenerateError(t *testing.T) {
	words := []Word{{BBoxID: "b1", Text: "foo", Confidence: 0.6}}
	out := LLMTier(context.Background(), fakeLLM{err: errors.New("boom")}, words, DefaultThresholds())
	if len(out) != 1 || out[0].Corrected != "foo" {
		t.Fatalf("expected unchanged correction on LLM error, got %+v", out)
	}
}

func TestLLMTierFailsOpenOnMalformedJSON(t *testing.T) {
	words := []Word{{BBoxID: "b1", Text: "foo", Confidence: 0.6}}
	out := LLMTier(context.Background(), fakeLLM{resp: "not json at all"}, words, DefaultThresholds())
	if len(out) != 1 || out[0].Corrected != "foo" {
		t.Fatalf("expected unchanged correction on malformed JSON, got %+v", out)
	}
}

func TestLLMTierParsesFencedJSON(t *testing.T) {
	words := []Word{{BBoxID: "b1", Text: "foo", Confidence: 0.6}}
	resp := "```json\n{\"corrections\": [{\"bbox_id\": \"b1\", \"corrected_text\": \"bar\"}]}\n```"
	out := LLMTier(context.Background(), fakeLLM{resp: resp}, words, DefaultThresholds())
	if len(out) != 1 || out[0].Corrected != "bar" {
		t.Fatalf("expected corrected text bar, got %+v", out)
	}
}

func TestLLMTierSkipsWordsOutsideRange(t *testing.T) {
	words := []Word{
		{BBoxID: "high", Text: "x", Confidence: 0.9},
		{BBoxID: "low", Text: "y", Confidence: 0.1},
	}
	out := LLMTier(context.Background(), fakeLLM{resp: `{"corrections":[]}`}, words, DefaultThresholds())
	if len(out) != 0 {
		t.Fatalf("expected no tier-2 output for words outside [human,gemini) range, got %+v", out)
	}
}

func TestHumanQueueApproveIDORSafe(t *testing.T) {
	q := NewHumanQueue()
	q.Enqueue("matter-a", "doc-1", []Word{{BBoxID: "b1", Text: "x", Confidence: 0.1}}, DefaultThresholds())

	if _, err := q.Approve("matter-b", "b1", "y"); err == nil {
		t.Fatal("expected ItemNotFound for cross-matter approval attempt")
	}

	item, err := q.Approve("matter-a", "b1", "y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Confidence != 1.0 || item.Text != "y" {
		t.Fatalf("expected approved item updated, got %+v", item)
	}
}
