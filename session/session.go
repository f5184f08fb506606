// Package session implements per (matter,user) chat memory (C15): a
// bounded tail of recent messages and a set of mentioned entities, used by
// the streaming orchestrator for pronoun resolution and cross-turn
// retention. Nothing here is authoritative — eviction is left to the
// backing KV store's own TTL/LRU policy.
//
// Grounded on mattermemory's KV-backed JSON-blob persistence idiom,
// specialized to a single struct per (matter,user) rather than a list.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/brunobiangulo/ldip/storage"
)

// tailSize is the number of most recent messages exposed for context.
const tailSize = 5

// Store loads and persists per (matter,user) session state.
type Store struct {
	kv storage.KV
}

func New(kv storage.KV) *Store {
	return &Store{kv: kv}
}

func sessionKey(matterID, userID string) string {
	return "session:" + matterID + ":" + userID
}

// Load returns the session for (matterID, userID), or a fresh empty one if
// none exists yet.
func (s *Store) Load(ctx context.Context, matterID, userID string) (*storage.Session, error) {
	raw, ok, err := s.kv.Get(ctx, sessionKey(matterID, userID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &storage.Session{MatterID: matterID, UserID: userID, MentionedEntities: map[string]bool{}}, nil
	}
	var sess storage.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return &storage.Session{MatterID: matterID, UserID: userID, MentionedEntities: map[string]bool{}}, nil
	}
	if sess.MentionedEntities == nil {
		sess.MentionedEntities = map[string]bool{}
	}
	return &sess, nil
}

func (s *Store) save(ctx context.Context, sess *storage.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, sessionKey(sess.MatterID, sess.UserID), string(raw))
}

// AddMessage appends a message and persists the session, tracking any
// newly mentioned entities.
func (s *Store) AddMessage(ctx context.Context, matterID, userID, role, content string, sourceRefs []string, mentionedEntities []string) error {
	sess, err := s.Load(ctx, matterID, userID)
	if err != nil {
		return err
	}
	sess.Messages = append(sess.Messages, storage.SessionMessage{
		Role:       role,
		Content:    content,
		SourceRefs: sourceRefs,
		Timestamp:  time.Now(),
	})
	for _, e := range mentionedEntities {
		sess.MentionedEntities[strings.ToLower(e)] = true
	}
	return s.save(ctx, sess)
}

// Tail returns up to the last 5 messages, oldest first.
func Tail(sess *storage.Session) []storage.SessionMessage {
	if len(sess.Messages) <= tailSize {
		return sess.Messages
	}
	return sess.Messages[len(sess.Messages)-tailSize:]
}
