package rediskv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func TestGetSetDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "k1", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k1")
	if err != nil || !ok || v != "v1" {
		t.Fatalf("expected v1, got %q ok=%v err=%v", v, ok, err)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k1"); ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestSetEXExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.SetEX(ctx, "k1", "v1", time.Minute); err != nil {
		t.Fatalf("setex: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, ok, _ := s.Get(ctx, "k1"); ok {
		t.Fatal("expected key to have expired")
	}
}

func TestScanPaginatesKeys(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Set(ctx, "matter:m1:q:"+string(rune('a'+i)), "v"); err != nil {
			t.Fatalf("seeding key %d: %v", i, err)
		}
	}

	seen := map[string]bool{}
	cursor := uint64(0)
	for {
		keys, next, err := s.Scan(ctx, "matter:m1:q:*", cursor, 2)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		for _, k := range keys {
			seen[k] = true
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 keys scanned, got %d", len(seen))
	}
}

func TestEnqueueAndPublish(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, "eval-queue", map[string]string{"matter_id": "m1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	n, err := s.client.LLen(ctx, "eval-queue").Result()
	if err != nil || n != 1 {
		t.Fatalf("expected 1 queued task, got %d, err=%v", n, err)
	}

	if err := s.Publish(ctx, "progress", "hello"); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestSubscribeReceivesPublishedMessage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCtx()

	ch, cancel, err := s.Subscribe(ctx, "progress")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	time.Sleep(10 * time.Millisecond) // let the subscription register with miniredis
	if err := s.Publish(ctx, "progress", "hello"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg.Payload) != "hello" {
			t.Fatalf("expected payload hello, got %q", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
