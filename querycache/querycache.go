// Package querycache implements the per-matter query-result cache (C14):
// a TTL'd KV-backed cache keyed by matter and a hash of the normalized
// query, with cursor-based bulk invalidation.
//
// Grounded on the teacher's retrieval result caching gap (the teacher has
// no query cache of its own) and on matterid's key-construction idiom,
// reused here via matterid.Key to guarantee every cache key is
// matter-scoped by construction.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/matterid"
	"github.com/brunobiangulo/ldip/storage"
)

const ttl = 3600 * time.Second

// HashQuery computes the 64-hex cache-key suffix over the normalized query
// and any salient parameters (e.g. weights, limit), joined deterministically.
func HashQuery(normalizedQuery string, params ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(normalizedQuery))))
	for _, p := range params {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is the query-result cache, backed by storage.KV.
type Cache struct {
	kv storage.KV
}

func New(kv storage.KV) *Cache {
	return &Cache{kv: kv}
}

func key(matterID, queryHash string) (string, error) {
	return matterid.Key("cache:query", matterID, queryHash)
}

// Get returns the cached result for (matterID, queryHash). A miss (key
// absent, or corrupt JSON on read) returns (nil, false, nil); corrupt
// entries are deleted so the next write starts clean. A backing-store
// error is returned wrapped as SearchFailed, not reported as a miss.
func (c *Cache) Get(ctx context.Context, matterID, queryHash string) (*storage.CachedQueryResult, bool, error) {
	k, err := key(matterID, queryHash)
	if err != nil {
		return nil, false, err
	}
	raw, ok, err := c.kv.Get(ctx, k)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.SearchFailed, "query cache read failed", err)
	}
	if !ok {
		return nil, false, nil
	}
	var result storage.CachedQueryResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		_ = c.kv.Delete(ctx, k)
		return nil, false, nil
	}
	return &result, true, nil
}

// Set stores a result with the fixed 3600s TTL.
func (c *Cache) Set(ctx context.Context, matterID string, result storage.CachedQueryResult) error {
	k, err := key(matterID, result.QueryHash)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := c.kv.SetEX(ctx, k, string(raw), ttl); err != nil {
		return apperr.Wrap(apperr.SearchFailed, "query cache write failed", err)
	}
	return nil
}

// InvalidateMatter deletes every cached query result for a matter, paging
// through the KV store's cursor-based Scan rather than assuming a single
// call enumerates everything.
func (c *Cache) InvalidateMatter(ctx context.Context, matterID string) error {
	pattern, err := matterid.Key("cache:query", matterID, "*")
	if err != nil {
		return err
	}
	var cursor uint64
	for {
		keys, next, err := c.kv.Scan(ctx, pattern, cursor, 100)
		if err != nil {
			return apperr.Wrap(apperr.SearchFailed, "query cache scan failed", err)
		}
		for _, k := range keys {
			if err := c.kv.Delete(ctx, k); err != nil {
				return apperr.Wrap(apperr.SearchFailed, "query cache delete failed", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
