// Package ocrmerge implements the OCR result merger (C3): each chunk's
// OCR output carries chunk-relative page numbers; this package transforms
// and reconciles them into one document-absolute result.
//
// Grounded on original_source/backend/app/services/ocr_result_merger.py
// for validation order, offset math, and weighted-confidence averaging,
// re-expressed with Go error values instead of Pydantic validators.
package ocrmerge

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/storage"
)

// Merged is the document-absolute OCR result.
type Merged struct {
	PageCount  int
	Confidence float64
	BBoxes     []storage.BoundingBox
	Warnings   []string
}

// ComputeChecksum reproduces the optional per-chunk checksum: the first
// 16 hex characters of SHA-256("index:start:end:bbox_count").
func ComputeChecksum(index, pageStart, pageEnd, bboxCount int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d:%d:%d", index, pageStart, pageEnd, bboxCount)))
	return fmt.Sprintf("%x", sum)[:16]
}

// Merge validates and merges chunk OCR results, already sorted by
// ChunkIndex by the caller's fan-out collector (merge itself re-sorts
// defensively so merge order never depends on chunk-completion order).
func Merge(chunks []storage.ChunkOCRResult) (*Merged, error) {
	sorted := make([]storage.ChunkOCRResult, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkIndex < sorted[j].ChunkIndex })

	if err := validatePreMerge(sorted); err != nil {
		return nil, err
	}

	var (
		allBoxes        []storage.BoundingBox
		totalPages      int
		weightedConfSum float64
		pageHasBox      = map[int]bool{}
		dupReadingOrder = map[[2]int]int{} // (page, readingOrder) -> count
	)

	offset := 0
	for _, c := range sorted {
		for _, bb := range c.BBoxes {
			abs := bb
			abs.PageNumber = bb.PageNumber + offset
			allBoxes = append(allBoxes, abs)
			pageHasBox[abs.PageNumber] = true
			dupReadingOrder[[2]int{abs.PageNumber, abs.ReadingOrderIndex}]++
		}
		weightedConfSum += c.Confidence * float64(c.PageCount)
		totalPages += c.PageCount
		offset += c.PageCount
	}

	expectedBBoxes := 0
	for _, c := range sorted {
		expectedBBoxes += len(c.BBoxes)
	}
	if len(allBoxes) != expectedBBoxes {
		return nil, apperr.New(apperr.BBoxCountMismatch, "merged bbox count does not match sum of chunk bbox counts")
	}

	overall := 0.0
	if totalPages > 0 {
		overall = weightedConfSum / float64(totalPages)
	}

	var warnings []string
	pagesWithoutBoxes := 0
	for p := 1; p <= totalPages; p++ {
		if !pageHasBox[p] {
			pagesWithoutBoxes++
		}
	}
	if totalPages > 0 && float64(pagesWithoutBoxes)/float64(totalPages) > 0.10 {
		warnings = append(warnings, fmt.Sprintf("%d of %d pages have no bounding boxes", pagesWithoutBoxes, totalPages))
	}
	for key, count := range dupReadingOrder {
		if count > 1 {
			warnings = append(warnings, fmt.Sprintf("page %d has %d bboxes sharing reading_order_index %d", key[0], count, key[1]))
		}
	}

	return &Merged{
		PageCount:  totalPages,
		Confidence: overall,
		BBoxes:     allBoxes,
		Warnings:   warnings,
	}, nil
}

func validatePreMerge(sorted []storage.ChunkOCRResult) error {
	for i, c := range sorted {
		if c.ChunkIndex != i {
			return apperr.New(apperr.PageRangeInvalid, "chunk indices must be 0..N-1 in ascending order")
		}
		if c.PageStart <= 0 || c.PageEnd <= 0 {
			return apperr.New(apperr.PageRangeInvalid, "page numbers must be positive")
		}
		if c.PageStart > c.PageEnd {
			return apperr.New(apperr.PageRangeInvalid, "page_start must not exceed page_end")
		}
		if i == 0 && c.PageStart != 1 {
			return apperr.New(apperr.PageRangeInvalid, "first chunk must start at page 1")
		}
		if i > 0 && c.PageStart != sorted[i-1].PageEnd+1 {
			return apperr.New(apperr.PageRangeInvalid, "chunk page ranges must be contiguous")
		}
		if c.Checksum != "" {
			want := ComputeChecksum(c.ChunkIndex, c.PageStart, c.PageEnd, len(c.BBoxes))
			if c.Checksum != want {
				return apperr.New(apperr.ChecksumMismatch, "chunk checksum does not match computed value")
			}
		}
	}
	return nil
}
