// Package timeline implements the timeline extractor (C8): LLM extraction
// of dated events from a chunk, ambiguity tagging via a description prefix
// convention, and a bounded-concurrency entity-linking pass.
//
// Grounded on the teacher's graph/builder.go two-stage extraction idiom
// (prompt constant + gjson-style parse), generalized from entity/relation
// extraction to dated-event extraction, with its semaphore-based fan-out
// replaced by golang.org/x/sync/errgroup.SetLimit per this repository's
// fan-out library choice for bounded pools (see globalsearch for the
// unbounded variant used elsewhere).
package timeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/ldip/storage"
)

const extractionPrompt = `Extract dated events from the following legal document chunk.
For each event return: event_date (YYYY-MM-DD best guess), event_date_precision
(one of "day","month","year","unknown"), event_date_text (verbatim date text
as written), event_type, description, confidence (0-100), is_ambiguous,
ambiguity_reason (optional, e.g. "DD/MM vs MM/DD unclear").

Return JSON: {"events": [{"event_date","event_date_precision","event_date_text",
"event_type","description","confidence","is_ambiguous","ambiguity_reason"}]}

Text:
`

// ExtractedDate is one LLM-reported dated event before ambiguity encoding.
type ExtractedDate struct {
	EventDate         string
	EventDatePrecision storage.DatePrecision
	EventDateText     string
	EventType         string
	Description       string
	Confidence        float64
	IsAmbiguous       bool
	AmbiguityReason   string
}

// ExtractDates runs the timeline-extraction LLM pass over one chunk.
func ExtractDates(ctx context.Context, llm storage.LLM, chunkText string) ([]ExtractedDate, error) {
	resp, err := llm.Generate(ctx, extractionPrompt+chunkText, "")
	if err != nil {
		return nil, err
	}
	resp = strings.TrimSpace(resp)
	if strings.HasPrefix(resp, "```") {
		resp = strings.TrimPrefix(resp, "```json")
		resp = strings.TrimPrefix(resp, "```")
		resp = strings.TrimSuffix(resp, "```")
		resp = strings.TrimSpace(resp)
	}
	if !gjson.Valid(resp) {
		return nil, nil
	}
	arr := gjson.Get(resp, "events")
	if !arr.IsArray() {
		return nil, nil
	}
	var out []ExtractedDate
	for _, item := range arr.Array() {
		out = append(out, ExtractedDate{
			EventDate:          item.Get("event_date").String(),
			EventDatePrecision: storage.DatePrecision(item.Get("event_date_precision").String()),
			EventDateText:      item.Get("event_date_text").String(),
			EventType:          item.Get("event_type").String(),
			Description:        item.Get("description").String(),
			Confidence:         item.Get("confidence").Num,
			IsAmbiguous:        item.Get("is_ambiguous").Bool(),
			AmbiguityReason:    item.Get("ambiguity_reason").String(),
		})
	}
	return out, nil
}

// ambiguityPrefix marks an ambiguous event's persisted description so the
// flag and reason survive a plain string round trip through storage.
const ambiguityPrefix = "[AMBIGUOUS"

// EncodeDescription prefixes an ambiguous event's description with
// "[AMBIGUOUS: <reason>]" (or "[AMBIGUOUS]" when no reason is given) so the
// flag survives storage as plain text. Non-ambiguous descriptions pass
// through unchanged.
func EncodeDescription(description string, isAmbiguous bool, reason string) string {
	if !isAmbiguous {
		return description
	}
	if reason == "" {
		return fmt.Sprintf("[AMBIGUOUS] %s", description)
	}
	return fmt.Sprintf("[AMBIGUOUS: %s] %s", reason, description)
}

// DecodeDescription recovers the original description, ambiguity flag, and
// reason from a persisted description, inverting EncodeDescription.
func DecodeDescription(stored string) (description string, isAmbiguous bool, reason string) {
	if !strings.HasPrefix(stored, ambiguityPrefix) {
		return stored, false, ""
	}
	end := strings.Index(stored, "]")
	if end == -1 {
		return stored, false, ""
	}
	tag := stored[1:end]
	rest := strings.TrimPrefix(stored[end+1:], " ")
	if idx := strings.Index(tag, ":"); idx != -1 {
		reason = strings.TrimSpace(tag[idx+1:])
	}
	return rest, true, reason
}

// SortAscending orders events by EventDate ascending, matching the
// persistence order required of the timeline cache.
func SortAscending(events []storage.TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].EventDate.Before(events[j].EventDate)
	})
}

// defaultLinkConcurrency is the bounded worker-pool size for the
// entity-linking pass over extracted events.
const defaultLinkConcurrency = 10

// LinkEntities resolves each event's mentioned entity names against the
// matter's known entities, in parallel over a bounded pool. resolve is
// called once per event and must be safe for concurrent use.
func LinkEntities(ctx context.Context, events []storage.TimelineEvent, resolve func(ctx context.Context, ev *storage.TimelineEvent) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultLinkConcurrency)

	for i := range events {
		ev := &events[i]
		g.Go(func() error {
			return resolve(gctx, ev)
		})
	}
	return g.Wait()
}
