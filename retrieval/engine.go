package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/matterid"
	"github.com/brunobiangulo/ldip/storage"
)

// Weights configures the two fused retrievers. Both fields must lie in
// [0,2] per spec §4.9; Search rejects out-of-range weights.
type Weights struct {
	BM25     float64
	Semantic float64
}

// DefaultWeights matches the teacher's config.go defaults for vector/FTS.
var DefaultWeights = Weights{BM25: 1.0, Semantic: 1.0}

// SearchOptions configures a single-matter hybrid search.
type SearchOptions struct {
	Limit   int // default 20, also used as each retriever's K
	Weights Weights
}

// Trace is the per-stage timing and contribution breakdown the Inspector
// variant (C10) returns alongside results.
type Trace struct {
	EmbeddingMs int64
	BM25Ms      int64
	SemanticMs  int64
	FusionMs    int64
	RerankMs    int64
	TotalMs     int64

	BM25Results     int
	SemanticResults int
	FusedResults    int

	RerankApplied       bool
	RerankFallbackReason string

	PerResult map[string]ResultTrace
}

// ResultTrace is one fused chunk's per-stage contribution, with a content
// preview capped at 200 chars for the Inspector's debug payload.
type ResultTrace struct {
	BM25Rank      int
	BM25Score     float64
	SemanticRank  int
	SemanticScore float64
	RRFScore      float64
	RerankRank    int
	RerankScore   float64
	Preview       string
}

// Engine performs the matter-scoped hybrid search described in spec §4.9.
// Grounded directly on the teacher's retrieval.Engine.Search: two
// goroutines writing to buffered result channels, blocking receive from
// both, single-retriever-failure degrades with a logged warning, and only
// a double failure surfaces as an error.
type Engine struct {
	guard    *matterid.Guard
	index    storage.SearchIndex
	embedder storage.Embedder
	reranker storage.Reranker // optional, may be nil
}

func New(guard *matterid.Guard, index storage.SearchIndex, embedder storage.Embedder, reranker storage.Reranker) *Engine {
	return &Engine{guard: guard, index: index, embedder: embedder, reranker: reranker}
}

func validateWeight(w float64) bool { return w >= 0 && w <= 2 }

// Search runs BM25 + vector retrieval in parallel and fuses with RRF.
func (e *Engine) Search(ctx context.Context, matterID, userID, query string, opts SearchOptions) ([]storage.RetrievalResult, error) {
	tc, err := e.search(ctx, matterID, userID, query, opts, false)
	return tc.results, err
}

// Inspect is the Inspector variant (C10): same pipeline, but always
// returns full stage timing and per-result contribution data.
func (e *Engine) Inspect(ctx context.Context, matterID, userID, query string, opts SearchOptions) ([]storage.RetrievalResult, *Trace, error) {
	tc, err := e.search(ctx, matterID, userID, query, opts, true)
	return tc.results, &tc.Trace, err
}

// internal carrier so Search and Inspect share one code path.
type traceCarrier struct {
	Trace
	results []storage.RetrievalResult
}

func (e *Engine) search(ctx context.Context, matterID, userID, query string, opts SearchOptions, withTrace bool) (traceCarrier, error) {
	var tc traceCarrier

	if _, err := e.guard.Check(ctx, matterID, userID); err != nil {
		return tc, err
	}
	if len(query) < 2 {
		return tc, apperr.New(apperr.InvalidParameter, "query too short")
	}

	w := opts.Weights
	if w.BM25 == 0 && w.Semantic == 0 {
		w = DefaultWeights
	}
	if !validateWeight(w.BM25) || !validateWeight(w.Semantic) {
		return tc, apperr.New(apperr.InvalidParameter, "weight out of range")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	start := time.Now()

	type result struct {
		results []storage.RetrievalResult
		err     error
		ms      int64
	}
	bm25Ch := make(chan result, 1)
	vecCh := make(chan result, 1)

	go func() {
		s := time.Now()
		r, err := e.index.BM25Search(ctx, matterID, query, limit)
		bm25Ch <- result{r, err, time.Since(s).Milliseconds()}
	}()

	go func() {
		s := time.Now()
		vecs, err := e.embedder.Embed(ctx, query)
		embedMs := time.Since(s).Milliseconds()
		if err != nil {
			vecCh <- result{nil, err, embedMs}
			return
		}
		s2 := time.Now()
		r, err2 := e.index.VectorSearch(ctx, matterID, vecs, limit)
		vecCh <- result{r, err2, embedMs + time.Since(s2).Milliseconds()}
	}()

	bm25Res := <-bm25Ch
	vecRes := <-vecCh

	if bm25Res.err != nil {
		slog.Warn("retrieval: bm25 search failed, degrading to vector only", "matter_id", matterID, "error", bm25Res.err)
	}
	if vecRes.err != nil {
		slog.Warn("retrieval: vector search failed, degrading to bm25 only", "matter_id", matterID, "error", vecRes.err)
	}

	tc.BM25Ms = bm25Res.ms
	tc.SemanticMs = vecRes.ms
	tc.BM25Results = len(bm25Res.results)
	tc.SemanticResults = len(vecRes.results)

	if bm25Res.err != nil && vecRes.err != nil {
		return tc, apperr.New(apperr.SearchFailed, "both retrievers failed")
	}

	fuseStart := time.Now()
	lists := []RankedList{
		{Method: "bm25", Weight: w.BM25, Results: bm25Res.results},
		{Method: "semantic", Weight: w.Semantic, Results: vecRes.results},
	}
	fused, info := FuseRRF(lists, limit)
	tc.FusionMs = time.Since(fuseStart).Milliseconds()
	tc.FusedResults = len(fused)

	if e.reranker != nil {
		rerankStart := time.Now()
		reranked, rerr := e.rerank(ctx, query, fused, limit)
		tc.RerankMs = time.Since(rerankStart).Milliseconds()
		if rerr != nil {
			tc.RerankFallbackReason = rerr.Error()
			slog.Warn("retrieval: rerank failed, falling back to fused order", "matter_id", matterID, "error", rerr)
		} else {
			tc.RerankApplied = true
			fused = reranked
		}
	}

	if withTrace {
		tc.PerResult = buildResultTrace(fused, info)
	}
	tc.TotalMs = time.Since(start).Milliseconds()
	tc.results = fused

	return tc, nil
}

// rerank reorders fused content strings via the optional Reranker,
// returning at most topN results. Caller falls back to the fused order
// on any error.
func (e *Engine) rerank(ctx context.Context, query string, fused []storage.RetrievalResult, topN int) ([]storage.RetrievalResult, error) {
	docs := make([]string, len(fused))
	for i, r := range fused {
		docs[i] = r.Content
	}
	ranked, err := e.reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		return nil, fmt.Errorf("reranker: %w", err)
	}
	out := make([]storage.RetrievalResult, 0, len(ranked))
	for _, rr := range ranked {
		if rr.Index < 0 || rr.Index >= len(fused) {
			continue
		}
		r := fused[rr.Index]
		r.Score = rr.Relevance
		out = append(out, r)
	}
	return out, nil
}

func buildResultTrace(fused []storage.RetrievalResult, info map[string]FusedInfo) map[string]ResultTrace {
	out := make(map[string]ResultTrace, len(fused))
	for i, r := range fused {
		fi := info[r.ChunkID]
		preview := r.Content
		if len(preview) > 200 {
			preview = preview[:200]
		}
		rt := ResultTrace{
			BM25Rank:     fi.Ranks["bm25"],
			SemanticRank: fi.Ranks["semantic"],
			RRFScore:     r.Score,
			Preview:      preview,
		}
		if fi.Ranks["bm25"] > 0 {
			rt.BM25Score = 1.0 / float64(RRFK+fi.Ranks["bm25"])
		}
		if fi.Ranks["semantic"] > 0 {
			rt.SemanticScore = 1.0 / float64(RRFK+fi.Ranks["semantic"])
		}
		rt.RerankRank = i + 1
		rt.RerankScore = r.Score
		out[r.ChunkID] = rt
	}
	return out
}
