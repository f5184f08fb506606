// Package rediskv implements storage.KV and storage.Broker over Redis,
// the collaborator the query cache, session memory, and job/evaluation
// queues are built against. Grounded on the redis/go-redis/v9 usage
// pattern the example pack's integration tests exercise (deduplication,
// storm aggregation, rate limiting all go through a plain *redis.Client),
// generalized here into a small adapter rather than copied verbatim,
// since none of those call sites live outside test files in the pack.
package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brunobiangulo/ldip/storage"
)

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rediskv: get: %w", err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("rediskv: set: %w", err)
	}
	return nil
}

func (s *Store) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("rediskv: setex: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("rediskv: delete: %w", err)
	}
	return nil
}

// Scan wraps SCAN rather than KEYS, so a matter with a large cache
// footprint never blocks the server for one caller's iteration.
func (s *Store) Scan(ctx context.Context, pattern string, cursor uint64, count int64) ([]string, uint64, error) {
	keys, next, err := s.client.Scan(ctx, cursor, pattern, count).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("rediskv: scan: %w", err)
	}
	return keys, next, nil
}

// Publish fans out to a Redis pub/sub channel; subscribers that are not
// currently listening simply miss the event, matching Redis's own
// at-most-once pub/sub delivery semantics.
func (s *Store) Publish(ctx context.Context, channel string, event any) error {
	if err := s.client.Publish(ctx, channel, event).Err(); err != nil {
		return fmt.Errorf("rediskv: publish: %w", err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan storage.BrokerMessage, func(), error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("rediskv: subscribe: %w", err)
	}

	out := make(chan storage.BrokerMessage)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- storage.BrokerMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { sub.Close() }
	return out, cancel, nil
}

// Enqueue appends a JSON-encoded task to the tail of a Redis list with
// RPUSH; this module has no consumer that pops from the list.
func (s *Store) Enqueue(ctx context.Context, queue string, task any) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("rediskv: enqueue: marshaling task: %w", err)
	}
	if err := s.client.RPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("rediskv: enqueue: %w", err)
	}
	return nil
}

var (
	_ storage.KV     = (*Store)(nil)
	_ storage.Broker = (*Store)(nil)
)
