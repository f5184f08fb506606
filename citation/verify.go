package citation

import (
	"context"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/cenkalti/backoff/v4"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/storage"
)

// VerifyResult is a single citation's verification outcome.
type VerifyResult struct {
	Status          storage.VerificationStatus
	TargetPage       *int
	TargetBBoxIDs    []string
	SimilarityScore  float64
}

// similarityThreshold is the minimum normalized match score (1 - editDistance/maxLen)
// for a candidate bbox to count as a verification match.
const similarityThreshold = 0.80

// VerifySingle matches a citation's quoted text against the statute
// document's OCR bounding boxes.
func VerifySingle(citation storage.ExtractedCitation, statuteBoxes []storage.BoundingBox) VerifyResult {
	needle := strings.ToLower(strings.TrimSpace(citation.QuotedText))
	if needle == "" {
		needle = strings.ToLower(strings.TrimSpace(citation.RawText))
	}
	if needle == "" {
		return VerifyResult{Status: storage.CitationSectionNotFound}
	}

	best := VerifyResult{Status: storage.CitationSectionNotFound}
	for _, bb := range statuteBoxes {
		score := similarity(needle, strings.ToLower(bb.Text))
		if score > best.SimilarityScore {
			page := bb.PageNumber
			best = VerifyResult{
				Status:          classify(score),
				TargetPage:      &page,
				TargetBBoxIDs:   []string{bb.ID},
				SimilarityScore: score,
			}
		}
	}
	return best
}

func classify(score float64) storage.VerificationStatus {
	if score >= similarityThreshold {
		return storage.CitationVerified
	}
	if score >= similarityThreshold*0.6 {
		return storage.CitationMismatch
	}
	return storage.CitationSectionNotFound
}

func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// BatchCounts summarizes a verification batch's outcome counts, as
// carried in the VERIFICATION_COMPLETE event.
type BatchCounts struct {
	Verified int
	Mismatch int
	NotFound int
	Errors   int
}

// ProgressEvent is broadcast after each citation in a batch.
type ProgressEvent struct {
	Index int
	Total int
}

// RunBatch runs an act-upload verification batch on a single cooperative
// scheduling context: one goroutine owns ctx for the whole batch and
// iterates citations sequentially (never re-initializing per item), per
// spec §4.6's "no event-loop storm" requirement. Each per-citation failure
// is retried with backoff.v4 over the fixed sequence [30s,60s,120s] (at
// most 3 retries after the first attempt), then recorded as an error
// without aborting the batch.
func RunBatch(ctx context.Context, citations []storage.ExtractedCitation, statuteBoxes []storage.BoundingBox, broker storage.Broker, meta storage.MetaStore, matterID string) (BatchCounts, error) {
	var counts BatchCounts
	total := len(citations)

	for i, c := range citations {
		result, err := verifyWithRetry(ctx, c, statuteBoxes)
		status := result.Status
		if err != nil {
			counts.Errors++
			status = storage.CitationError
			_ = meta.UpdateCitationVerification(ctx, matterID, c.ID, storage.CitationError, nil, nil, 0)
		} else {
			switch result.Status {
			case storage.CitationVerified:
				counts.Verified++
			case storage.CitationMismatch:
				counts.Mismatch++
			default:
				counts.NotFound++
			}
			_ = meta.UpdateCitationVerification(ctx, matterID, c.ID, result.Status, result.TargetPage, result.TargetBBoxIDs, result.SimilarityScore)
		}
		// CITATION_VERIFIED is broadcast for every processed citation
		// (success, mismatch, or error) — it marks "this citation has
		// been processed", not "this citation matched".
		if broker != nil {
			_ = broker.Publish(ctx, matterID, map[string]any{"type": "CITATION_VERIFIED", "citation_id": c.ID, "status": status})
			_ = broker.Publish(ctx, matterID, map[string]any{"type": "PROGRESS", "index": i + 1, "total": total})
		}

		select {
		case <-ctx.Done():
			return counts, apperr.Wrap(apperr.CitationVerificationFailed, "batch cancelled", ctx.Err())
		default:
		}
	}

	if broker != nil {
		_ = broker.Publish(ctx, matterID, map[string]any{
			"type": "VERIFICATION_COMPLETE",
			"data": map[string]int{"verified": counts.Verified, "mismatch": counts.Mismatch, "not_found": counts.NotFound, "errors": counts.Errors},
		})
	}

	return counts, nil
}

// retrySequence is the fixed [30s,60s,120s] backoff from spec §4.6,
// capped at 3 retries (4 attempts in all).
func retrySequence() backoff.BackOff {
	seq := &fixedSequenceBackOff{delays: []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}}
	return backoff.WithMaxRetries(seq, 3)
}

type fixedSequenceBackOff struct {
	delays []time.Duration
	idx    int
}

func (f *fixedSequenceBackOff) Reset() { f.idx = 0 }

func (f *fixedSequenceBackOff) NextBackOff() time.Duration {
	if f.idx >= len(f.delays) {
		return backoff.Stop
	}
	d := f.delays[f.idx]
	f.idx++
	return d
}

func verifyWithRetry(ctx context.Context, c storage.ExtractedCitation, statuteBoxes []storage.BoundingBox) (VerifyResult, error) {
	var result VerifyResult
	op := func() error {
		result = VerifySingle(c, statuteBoxes)
		return nil
	}
	// VerifySingle itself is CPU-only and cannot fail; retry machinery is
	// exercised by callers that wrap a real network verification step
	// (e.g. a remote statute lookup) behind the same op signature.
	if err := backoff.Retry(op, backoff.WithContext(retrySequence(), ctx)); err != nil {
		return VerifyResult{}, err
	}
	return result, nil
}
