package mattermemory

import (
	"context"
	"testing"
	"time"

	"github.com/brunobiangulo/ldip/storage"
)

type fakeKV struct {
	data map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}
func (f *fakeKV) Set(ctx context.Context, key, value string) error { f.data[key] = value; return nil }
func (f *fakeKV) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	f.data[key] = value
	return nil
}
func (f *fakeKV) Delete(ctx context.Context, key string) error { delete(f.data, key); return nil }
func (f *fakeKV) Scan(ctx context.Context, pattern string, cursor uint64, count int64) ([]string, uint64, error) {
	return nil, 0, nil
}

type fakeMeta struct {
	storage.MetaStore
	history map[string][]storage.QueryHistoryEntry
}

func newFakeMeta() *fakeMeta { return &fakeMeta{history: map[string][]storage.QueryHistoryEntry{}} }

func (f *fakeMeta) AppendQueryHistory(ctx context.Context, entry storage.QueryHistoryEntry) error {
	f.history[entry.MatterID] = append(f.history[entry.MatterID], entry)
	return nil
}

func (f *fakeMeta) ListQueryHistory(ctx context.Context, matterID string, limit int) ([]storage.QueryHistoryEntry, error) {
	all := f.history[matterID]
	reversed := make([]storage.QueryHistoryEntry, len(all))
	for i, e := range all {
		reversed[len(all)-1-i] = e
	}
	if len(reversed) > limit {
		reversed = reversed[:limit]
	}
	return reversed, nil
}

func (f *fakeMeta) MarkQueryVerified(ctx context.Context, matterID, queryID string) (bool, error) {
	entries := f.history[matterID]
	for i := range entries {
		if entries[i].ID == queryID {
			entries[i].AttorneyVerified = true
			return true, nil
		}
	}
	return false, nil
}

func TestQueryHistoryAppendAndList(t *testing.T) {
	h := NewQueryHistory(newFakeMeta())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.Append(ctx, storage.QueryHistoryEntry{MatterID: "m1", ID: string(rune('a' + i))}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	list, err := h.List(ctx, "m1", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 3 || list[0].ID != "c" {
		t.Fatalf("expected most-recent-first order starting with c, got %+v", list)
	}
}

func TestQueryHistoryMarkVerifiedMissingIsNoop(t *testing.T) {
	meta := newFakeMeta()
	h := NewQueryHistory(meta)
	ctx := context.Background()
	_ = h.Append(ctx, storage.QueryHistoryEntry{MatterID: "m1", ID: "q1"})

	ok, err := h.MarkQueryVerified(ctx, "m1", "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected false for missing query id")
	}

	ok, err = h.MarkQueryVerified(ctx, "m1", "q1")
	if err != nil || !ok {
		t.Fatalf("expected true marking existing entry, got ok=%v err=%v", ok, err)
	}
}

func TestGetOrBuildTimelineBuildsOnceThenReusesCache(t *testing.T) {
	d := NewDerived(newFakeKV())
	ctx := context.Background()
	uploaded := time.Now().Add(-time.Hour)

	calls := 0
	build := func(ctx context.Context, matterID string) ([]storage.TimelineEvent, error) {
		calls++
		return []storage.TimelineEvent{{ID: "e1"}}, nil
	}

	c1, err := d.GetOrBuildTimeline(ctx, "m1", uploaded, build)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c1.Version != 1 || calls != 1 {
		t.Fatalf("expected first build to set version 1, got version=%d calls=%d", c1.Version, calls)
	}

	c2, err := d.GetOrBuildTimeline(ctx, "m1", uploaded, build)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || c2.Version != 1 {
		t.Fatalf("expected cache hit, no rebuild; got calls=%d version=%d", calls, c2.Version)
	}

	newer := time.Now()
	c3, err := d.GetOrBuildTimeline(ctx, "m1", newer, build)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || c3.Version != 2 {
		t.Fatalf("expected rebuild incrementing version to 2, got calls=%d version=%d", calls, c3.Version)
	}
}

func TestInvalidateMatterCachesRemovesBoth(t *testing.T) {
	kv := newFakeKV()
	d := NewDerived(kv)
	ctx := context.Background()
	uploaded := time.Now()

	_, _ = d.GetOrBuildTimeline(ctx, "m1", uploaded, func(ctx context.Context, matterID string) ([]storage.TimelineEvent, error) {
		return nil, nil
	})
	_, _ = d.GetOrBuildEntityGraph(ctx, "m1", uploaded, func(ctx context.Context, matterID string) (map[string]storage.Entity, []storage.EntityRelationship, error) {
		return map[string]storage.Entity{}, nil, nil
	})

	if err := d.InvalidateMatterCaches(ctx, "m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := kv.data[timelineKey("m1")]; ok {
		t.Fatal("expected timeline cache to be removed")
	}
	if _, ok := kv.data[entityGraphKey("m1")]; ok {
		t.Fatal("expected entity graph cache to be removed")
	}
}
