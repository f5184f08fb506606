// Package retrieval implements the hybrid search engine (C9) and the
// rerank/inspector layer (C10): BM25 + dense-vector retrieval fused with
// Reciprocal Rank Fusion, optional reranking, and per-stage timing.
//
// Grounded on the teacher's retrieval.Engine (retrieval/retrieval.go) and
// its fuseRRF (retrieval/rrf.go) — the three-way vector/FTS/graph fan-out
// and RRF math are kept verbatim in spirit; graph fusion is dropped from
// the hybrid scorer itself (spec §4.9 defines only BM25+semantic) and
// re-homed as the separate entitygraph package's retrieval surface.
package retrieval

import (
	"sort"

	"github.com/brunobiangulo/ldip/storage"
)

// RRFK is the smoothing constant from spec §4.9 and §8's worked example.
const RRFK = 60

// FusedInfo records which retriever(s) contributed to a fused result and
// at what rank, for the Inspector's SearchDebugInfo.
type FusedInfo struct {
	Methods []string
	Ranks   map[string]int // method -> 1-based rank, absent if not present
}

// RankedList is one retriever's ordered output together with the weight
// it contributes under fusion.
type RankedList struct {
	Method  string
	Weight  float64
	Results []storage.RetrievalResult
}

// FuseRRF combines an arbitrary number of ranked lists into one descending
// score order, deduplicated by ChunkID. score(d) = sum over lists
// containing d of weight/(k+rank), rank 1-based; absent ranks contribute
// zero. Ties are broken by the order lists were supplied (stable sort),
// matching the teacher's map-iteration-then-stable-sort behavior closely
// enough to satisfy spec's tie-break requirement when callers supply
// lists in a fixed order.
func FuseRRF(lists []RankedList, maxResults int) ([]storage.RetrievalResult, map[string]FusedInfo) {
	type entry struct {
		result storage.RetrievalResult
		score  float64
		info   FusedInfo
		order  int // first-seen position, for stable tie-break
	}

	fused := make(map[string]*entry)
	seq := 0

	for _, list := range lists {
		for rank, r := range list.Results {
			e, ok := fused[r.ChunkID]
			if !ok {
				e = &entry{result: r, info: FusedInfo{Ranks: map[string]int{}}, order: seq}
				seq++
				fused[r.ChunkID] = e
			}
			e.score += list.Weight / float64(RRFK+rank+1)
			e.info.Methods = append(e.info.Methods, list.Method)
			e.info.Ranks[list.Method] = rank + 1
		}
	}

	entries := make([]*entry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].order < entries[j].order
	})

	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	results := make([]storage.RetrievalResult, len(entries))
	info := make(map[string]FusedInfo, len(entries))
	for i, e := range entries {
		e.result.Score = e.score
		results[i] = e.result
		info[e.result.ChunkID] = e.info
	}
	return results, info
}
