package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/brunobiangulo/ldip/storage"
)

type fakeLLM struct{ resp string }

func (f fakeLLM) Generate(ctx context.Context, prompt, schemaHint string) (string, error) {
	return f.resp, nil
}

func TestExtractDatesParsesJSON(t *testing.T) {
	resp := `{"events":[{"event_date":"2020-05-01","event_date_precision":"day","event_date_text":"May 1, 2020","event_type":"filing","description":"Complaint filed","confidence":88,"is_ambiguous":false}]}`
	out, err := ExtractDates(context.Background(), fakeLLM{resp: resp}, "some text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].EventDatePrecision != storage.PrecisionDay {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestEncodeDecodeDescriptionRoundTrip(t *testing.T) {
	cases := []struct {
		desc       string
		ambiguous  bool
		reason     string
	}{
		{"Lease signed", false, ""},
		{"Payment due", true, "DD/MM vs MM/DD unclear"},
		{"Hearing date", true, ""},
	}
	for _, c := range cases {
		encoded := EncodeDescription(c.desc, c.ambiguous, c.reason)
		gotDesc, gotAmbiguous, gotReason := DecodeDescription(encoded)
		if gotDesc != c.desc || gotAmbiguous != c.ambiguous || gotReason != c.reason {
			t.Fatalf("round trip mismatch: got (%q,%v,%q) want (%q,%v,%q)", gotDesc, gotAmbiguous, gotReason, c.desc, c.ambiguous, c.reason)
		}
	}
}

func TestSortAscendingOrdersByDate(t *testing.T) {
	d := func(s string) time.Time {
		tm, _ := time.Parse("2006-01-02", s)
		return tm
	}
	events := []storage.TimelineEvent{
		{ID: "c", EventDate: d("2021-03-01")},
		{ID: "a", EventDate: d("2019-01-01")},
		{ID: "b", EventDate: d("2020-01-01")},
	}
	SortAscending(events)
	if events[0].ID != "a" || events[1].ID != "b" || events[2].ID != "c" {
		t.Fatalf("expected ascending order a,b,c, got %s,%s,%s", events[0].ID, events[1].ID, events[2].ID)
	}
}

func TestLinkEntitiesResolvesAllConcurrently(t *testing.T) {
	events := make([]storage.TimelineEvent, 25)
	for i := range events {
		events[i] = storage.TimelineEvent{ID: "e"}
	}
	err := LinkEntities(context.Background(), events, func(ctx context.Context, ev *storage.TimelineEvent) error {
		ev.EntitiesInvolved = append(ev.EntitiesInvolved, "resolved")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, ev := range events {
		if len(ev.EntitiesInvolved) != 1 {
			t.Fatalf("event %d not resolved: %+v", i, ev)
		}
	}
}
