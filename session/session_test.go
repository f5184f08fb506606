package session

import (
	"context"
	"testing"
	"time"

	"github.com/brunobiangulo/ldip/storage"
)

type fakeKV struct{ data map[string]string }

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

func TestLoadReturnsFreshSessionWhenAbsent(t *testing.T) {
	s := New(newFakeKV())
	sess, err := s.Load(context.Background(), "m1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sess.Messages) != 0 || sess.MentionedEntities == nil {
		t.Fatalf("expected empty fresh session, got %+v", sess)
	}
}

func TestAddMessagePersistsAndTracksEntities(t *testing.T) {
	s := New(newFakeKV())
	ctx := context.Background()

	if err := s.AddMessage(ctx, "m1", "u1", "user", "What happened with Acme?", nil, []string{"Acme"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AddMessage(ctx, "m1", "u1", "assistant", "Acme signed the lease.", []string{"chunk-1"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, err := s.Load(ctx, "m1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sess.Messages))
	}
	if !sess.MentionedEntities["acme"] {
		t.Fatal("expected mentioned entity to be tracked case-insensitively")
	}
}

func TestTailReturnsLastFiveOnly(t *testing.T) {
	sess := &storage.Session{}
	for i := 0; i < 8; i++ {
		sess.Messages = append(sess.Messages, storage.SessionMessage{Content: string(rune('a' + i))})
	}
	tail := Tail(sess)
	if len(tail) != 5 {
		t.Fatalf("expected tail of 5, got %d", len(tail))
	}
	if tail[0].Content != "d" || tail[4].Content != "h" {
		t.Fatalf("expected last 5 messages d..h, got %+v", tail)
	}
}

func TestTailReturnsAllWhenFewerThanFive(t *testing.T) {
	sess := &storage.Session{Messages: []storage.SessionMessage{{Content: "a"}, {Content: "b"}}}
	if tail := Tail(sess); len(tail) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(tail))
	}
}
