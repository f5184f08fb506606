// Package globalsearch implements the cross-matter search aggregator
// (C17): enumerate a caller's accessible matters, fan out a bounded
// per-matter hybrid search with all-settled semantics, and merge the
// results with a second cross-matter RRF pass plus up to 5 matter-title
// substring matches.
//
// Grounded on the teacher's retrieval.Engine for the per-matter search
// step and on retrieval.FuseRRF for fusion (reused directly rather than
// reimplemented); the unbounded fan-out over an arbitrary number of
// matters uses golang.org/x/sync/errgroup for all-settled semantics,
// per this repository's fan-out library choice for dynamic-arity work.
package globalsearch

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/ldip/retrieval"
	"github.com/brunobiangulo/ldip/storage"
)

const (
	perMatterLimit  = 10
	maxTitleMatches = 5
	defaultLimit    = 20
	minLimit        = 1
	maxLimit        = 50
)

// Item is one cross-matter result. Document matches carry their
// document_id as Id (not the chunk id used for deduplication).
type Item struct {
	ID         string
	MatterID   string
	MatterTitle string
	Kind       string // "matter_title" | "document"
	Content    string
	Score      float64
}

// Searcher is the narrow per-matter search surface globalsearch needs;
// satisfied by *retrieval.Engine.
type Searcher interface {
	Search(ctx context.Context, matterID, userID, query string, opts retrieval.SearchOptions) ([]storage.RetrievalResult, error)
}

// Aggregator runs the global search.
type Aggregator struct {
	meta     storage.MetaStore
	searcher Searcher
}

func New(meta storage.MetaStore, searcher Searcher) *Aggregator {
	return &Aggregator{meta: meta, searcher: searcher}
}

func clampLimit(limit int) int {
	if limit == 0 {
		return defaultLimit
	}
	if limit < minLimit {
		return minLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Search enumerates matters the caller can access, runs a bounded
// per-matter hybrid search against each in parallel, and merges results:
// up to 5 matter-title substring matches first, then cross-matter RRF'd
// chunk results, deduplicated by chunk id.
func (a *Aggregator) Search(ctx context.Context, userID, query string, limit int) ([]Item, error) {
	limit = clampLimit(limit)

	matters, err := a.meta.ListAccessibleMatters(ctx, userID)
	if err != nil {
		return nil, err
	}

	titleMatches := matchTitles(matters, query, maxTitleMatches)

	var (
		mu    sync.Mutex
		lists []retrieval.RankedList
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range matters {
		m := m
		g.Go(func() error {
			results, err := a.searcher.Search(gctx, m.ID, userID, query, retrieval.SearchOptions{Limit: perMatterLimit})
			if err != nil {
				slog.Warn("globalsearch: per-matter search failed, degrading", "matter_id", m.ID, "error", err)
				return nil
			}
			mu.Lock()
			lists = append(lists, retrieval.RankedList{Method: m.ID, Weight: 1.0, Results: results})
			mu.Unlock()
			return nil
		})
	}
	// errgroup.Wait only propagates an error if a stage returns one; every
	// per-matter failure here is swallowed above, so this never fails.
	_ = g.Wait()

	fused, _ := retrieval.FuseRRF(lists, limit)

	out := make([]Item, 0, len(titleMatches)+len(fused))
	out = append(out, titleMatches...)
	// Dedup is by chunk id (FuseRRF already merges on ChunkID); the
	// reported id for a document result is the document id, per the
	// global-search wire contract, not the chunk id used for dedup.
	for _, r := range fused {
		out = append(out, Item{
			ID:       r.DocumentID,
			MatterID: matterIDFor(lists, r.ChunkID),
			Kind:     "document",
			Content:  r.Content,
			Score:    r.Score,
		})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchTitles(matters []storage.Matter, query string, max int) []Item {
	q := strings.ToLower(query)
	var out []Item
	for _, m := range matters {
		if strings.Contains(strings.ToLower(m.Title), q) {
			out = append(out, Item{ID: m.ID, MatterID: m.ID, MatterTitle: m.Title, Kind: "matter_title", Score: 1.0})
			if len(out) >= max {
				break
			}
		}
	}
	return out
}

// matterIDFor recovers which matter a fused chunk came from, since
// RankedList.Method is repurposed here to carry the source matter id
// rather than a retriever name.
func matterIDFor(lists []retrieval.RankedList, chunkID string) string {
	for _, l := range lists {
		for _, r := range l.Results {
			if r.ChunkID == chunkID {
				return l.Method
			}
		}
	}
	return ""
}
