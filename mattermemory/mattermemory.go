// Package mattermemory implements the matter-memory cache tier (C13):
// append-only query history (thin wrapper over storage.MetaStore), and the
// timeline/entity-graph derived caches with staleness and monotonic
// versioning (KV-backed, since these are ephemeral rebuildable snapshots
// rather than durable rows).
//
// Grounded on the teacher's store.go JSON-blob persistence idiom
// (json.Marshal of a Go struct into an opaque column), generalized here to
// a KV-backed cache row for the two derived caches, since the teacher has
// no matter concept of its own to cache against.
package mattermemory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/brunobiangulo/ldip/storage"
)

const defaultHistoryLimit = 50

// QueryHistory wraps the MetaStore's append-only query-history rows.
type QueryHistory struct {
	meta storage.MetaStore
}

func NewQueryHistory(meta storage.MetaStore) *QueryHistory {
	return &QueryHistory{meta: meta}
}

// Append adds one entry to the matter's query history.
func (h *QueryHistory) Append(ctx context.Context, entry storage.QueryHistoryEntry) error {
	return h.meta.AppendQueryHistory(ctx, entry)
}

// List returns up to limit most recent entries. A limit <= 0 uses the
// default cap of 50.
func (h *QueryHistory) List(ctx context.Context, matterID string, limit int) ([]storage.QueryHistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return h.meta.ListQueryHistory(ctx, matterID, limit)
}

// MarkQueryVerified does a read-modify-write on the history; missing query
// id returns false with no error.
func (h *QueryHistory) MarkQueryVerified(ctx context.Context, matterID, queryID string) (bool, error) {
	return h.meta.MarkQueryVerified(ctx, matterID, queryID)
}

// Builders produce a fresh cache payload when an existing one is absent
// or stale.
type TimelineBuilder func(ctx context.Context, matterID string) ([]storage.TimelineEvent, error)
type EntityGraphBuilder func(ctx context.Context, matterID string) (map[string]storage.Entity, []storage.EntityRelationship, error)

// Derived holds the timeline and entity-graph caches, both backed by the
// same KV store and sharing the staleness/versioning contract:
// is_stale := last_document_upload > cached_at.
type Derived struct {
	kv storage.KV
}

func NewDerived(kv storage.KV) *Derived {
	return &Derived{kv: kv}
}

func timelineKey(matterID string) string    { return "matter:" + matterID + ":timeline_cache" }
func entityGraphKey(matterID string) string { return "matter:" + matterID + ":entity_graph_cache" }

// isStale implements the staleness predicate: last_document_upload > cached_at.
func isStale(cachedAt, lastDocumentUpload time.Time) bool {
	return lastDocumentUpload.After(cachedAt)
}

// GetOrBuildTimeline returns the cached timeline if present and not stale.
// Otherwise, if build is non-nil, it builds, increments the version,
// persists, and returns the fresh cache. If build is nil and no cache
// exists (or it is stale), it returns nil.
func (d *Derived) GetOrBuildTimeline(ctx context.Context, matterID string, lastDocumentUpload time.Time, build TimelineBuilder) (*storage.TimelineCache, error) {
	existing, err := d.loadTimeline(ctx, matterID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !isStale(existing.CachedAt, lastDocumentUpload) {
		return existing, nil
	}
	if build == nil {
		return nil, nil
	}

	events, err := build(ctx, matterID)
	if err != nil {
		return nil, err
	}
	version := 1
	if existing != nil {
		version = existing.Version + 1
	}
	fresh := &storage.TimelineCache{
		MatterID: matterID,
		CachedAt: lastDocumentUpload,
		Version:  version,
		Events:   events,
		Count:    len(events),
	}
	if err := d.saveTimeline(ctx, matterID, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// GetOrBuildEntityGraph mirrors GetOrBuildTimeline for the entity-graph
// cache.
func (d *Derived) GetOrBuildEntityGraph(ctx context.Context, matterID string, lastDocumentUpload time.Time, build EntityGraphBuilder) (*storage.EntityGraphCache, error) {
	existing, err := d.loadEntityGraph(ctx, matterID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !isStale(existing.CachedAt, lastDocumentUpload) {
		return existing, nil
	}
	if build == nil {
		return nil, nil
	}

	entities, relationships, err := build(ctx, matterID)
	if err != nil {
		return nil, err
	}
	version := 1
	if existing != nil {
		version = existing.Version + 1
	}
	fresh := &storage.EntityGraphCache{
		MatterID:      matterID,
		CachedAt:      lastDocumentUpload,
		Version:       version,
		Entities:      entities,
		Relationships: relationships,
		Count:         len(entities),
	}
	if err := d.saveEntityGraph(ctx, matterID, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// InvalidateMatterCaches removes both the timeline and entity-graph caches,
// used after ingestion changes so the next GetOrBuild* rebuilds.
func (d *Derived) InvalidateMatterCaches(ctx context.Context, matterID string) error {
	if err := d.kv.Delete(ctx, timelineKey(matterID)); err != nil {
		return err
	}
	return d.kv.Delete(ctx, entityGraphKey(matterID))
}

func (d *Derived) loadTimeline(ctx context.Context, matterID string) (*storage.TimelineCache, error) {
	raw, ok, err := d.kv.Get(ctx, timelineKey(matterID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var c storage.TimelineCache
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, nil
	}
	return &c, nil
}

func (d *Derived) saveTimeline(ctx context.Context, matterID string, c *storage.TimelineCache) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return d.kv.Set(ctx, timelineKey(matterID), string(raw))
}

func (d *Derived) loadEntityGraph(ctx context.Context, matterID string) (*storage.EntityGraphCache, error) {
	raw, ok, err := d.kv.Get(ctx, entityGraphKey(matterID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var c storage.EntityGraphCache
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, nil
	}
	return &c, nil
}

func (d *Derived) saveEntityGraph(ctx context.Context, matterID string, c *storage.EntityGraphCache) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return d.kv.Set(ctx, entityGraphKey(matterID), string(raw))
}
