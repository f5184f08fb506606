// Package pdfsplit implements the memory-safe PDF page-range splitter
// (C2): consumes raw PDF bytes and produces contiguous page-range chunks,
// either fully in memory or streamed to atomically-renamed temp files.
//
// Grounded on original_source/backend/app/services/pdf_chunker.py for
// the exact constants and control flow (should_chunk / split_pdf /
// split_pdf_streaming / memory watchdog / threaded timeout), re-expressed
// in the teacher's idiom: a Config struct with sane defaults
// (config.go), typed errors collapsing to apperr kinds, and
// context-based cancellation instead of a background thread + timer.
// github.com/pdfcpu/pdfcpu provides the actual page counting / page-range
// trim the teacher's read-only github.com/ledongthuc/pdf cannot do.
package pdfsplit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/brunobiangulo/ldip/apperr"
)

// Config controls chunk sizing and resource limits.
type Config struct {
	DefaultChunkPages int           // default 15
	MaxChunkPages     int           // hard ceiling, 30
	SinglePageLimit   int           // PDFs <= this many pages are returned as one chunk, 30
	StreamingPages    int           // page threshold above which callers should prefer streaming mode (not enforced here)
	MemoryBudgetBytes int64         // 50 MB
	WarnFraction      float64       // 0.75
	Timeout           time.Duration // 30s cooperative timeout
}

func DefaultConfig() Config {
	return Config{
		DefaultChunkPages: 15,
		MaxChunkPages:     30,
		SinglePageLimit:   30,
		MemoryBudgetBytes: 50 * 1024 * 1024,
		WarnFraction:      0.75,
		Timeout:           30 * time.Second,
	}
}

// Chunk is one contiguous, 1-based inclusive page range of the source PDF.
type Chunk struct {
	Index     int
	PageStart int // 1-based, inclusive
	PageEnd   int // 1-based, inclusive
	Bytes     []byte
	Path      string // set only in streaming mode
}

// MemoryWarning is a non-fatal signal emitted when the in-memory split
// crosses WarnFraction of the memory budget.
type MemoryWarning struct {
	BytesUsed int64
	Budget    int64
}

// Splitter performs page-range extraction.
type Splitter struct {
	cfg Config
}

func New(cfg Config) *Splitter {
	if cfg.DefaultChunkPages <= 0 {
		cfg = DefaultConfig()
	}
	return &Splitter{cfg: cfg}
}

// ShouldChunk reports whether a document of pageCount pages needs to be
// split at all (documents at or below SinglePageLimit are returned whole).
func (s *Splitter) ShouldChunk(pageCount int) bool {
	return pageCount > s.cfg.SinglePageLimit
}

// pageRanges computes contiguous chunk boundaries for a document of
// pageCount pages, each at most MaxChunkPages wide.
func (s *Splitter) pageRanges(pageCount int) [][2]int {
	chunkSize := s.cfg.DefaultChunkPages
	if chunkSize > s.cfg.MaxChunkPages {
		chunkSize = s.cfg.MaxChunkPages
	}
	var ranges [][2]int
	for start := 1; start <= pageCount; start += chunkSize {
		end := start + chunkSize - 1
		if end > pageCount {
			end = pageCount
		}
		ranges = append(ranges, [2]int{start, end})
	}
	return ranges
}

// Split performs the in-memory split: the whole source is held in memory
// and each page range is trimmed into its own byte slice. A memory
// watchdog compares cumulative output bytes against the budget and fails
// closed once crossed, warning the caller at WarnFraction first via the
// returned warnings slice.
func (s *Splitter) Split(ctx context.Context, pdfBytes []byte) ([]Chunk, []MemoryWarning, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	pageCount, err := pageCount(pdfBytes)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.PageRangeInvalid, "could not read page count", err)
	}

	if !s.ShouldChunk(pageCount) {
		return []Chunk{{Index: 0, PageStart: 1, PageEnd: pageCount, Bytes: pdfBytes}}, nil, nil
	}

	ranges := s.pageRanges(pageCount)

	type out struct {
		chunk Chunk
		err   error
	}
	results := make(chan out, len(ranges))

	for i, r := range ranges {
		go func(idx int, start, end int) {
			select {
			case <-ctx.Done():
				results <- out{err: ctx.Err()}
				return
			default:
			}
			b, err := extractPageRange(pdfBytes, start, end)
			results <- out{chunk: Chunk{Index: idx, PageStart: start, PageEnd: end, Bytes: b}, err: err}
		}(i, r[0], r[1])
	}

	chunks := make([]Chunk, len(ranges))
	var warnings []MemoryWarning
	var totalBytes int64
	for range ranges {
		o := <-results
		if o.err != nil {
			return nil, nil, apperr.Wrap(apperr.PageRangeInvalid, "page extraction failed", o.err)
		}
		chunks[o.chunk.Index] = o.chunk
		totalBytes += int64(len(o.chunk.Bytes))
		if totalBytes > s.cfg.MemoryBudgetBytes {
			return nil, warnings, apperr.New(apperr.MemoryLimitExceeded, "pdf split exceeded memory budget")
		}
		if float64(totalBytes) > float64(s.cfg.MemoryBudgetBytes)*s.cfg.WarnFraction {
			warnings = append(warnings, MemoryWarning{BytesUsed: totalBytes, Budget: s.cfg.MemoryBudgetBytes})
		}
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, warnings, nil
}

// Handle is a scoped streaming-split result: its temp directory is
// guaranteed removed on every exit path by calling Close.
type Handle struct {
	Dir    string
	Chunks []Chunk
}

func (h *Handle) Close() error {
	if h.Dir == "" {
		return nil
	}
	return os.RemoveAll(h.Dir)
}

// SplitStreaming writes each page-range chunk to a temp file using an
// atomic write pattern: write "chunk_N.pdf.tmp", then rename to
// "chunk_N.pdf" on the same filesystem. On any per-chunk error the
// partial .tmp file is removed and the whole operation fails. On error
// the temp dir has already been removed and the returned Handle is nil;
// on success the caller must Close() the Handle.
func (s *Splitter) SplitStreaming(ctx context.Context, pdfBytes []byte, tmpRoot string) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	pageCount, err := pageCount(pdfBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.PageRangeInvalid, "could not read page count", err)
	}

	dir, err := os.MkdirTemp(tmpRoot, "pdfsplit-*")
	if err != nil {
		return nil, fmt.Errorf("pdfsplit: creating temp dir: %w", err)
	}
	handle := &Handle{Dir: dir}

	ranges := s.pageRanges(pageCount)
	if !s.ShouldChunk(pageCount) {
		ranges = [][2]int{{1, pageCount}}
	}

	for i, r := range ranges {
		select {
		case <-ctx.Done():
			handle.Close()
			return nil, apperr.New(apperr.StreamError, "pdf split timed out")
		default:
		}

		b, err := extractPageRange(pdfBytes, r[0], r[1])
		if err != nil {
			handle.Close()
			return nil, apperr.Wrap(apperr.PageRangeInvalid, "page extraction failed", err)
		}

		finalPath := filepath.Join(dir, fmt.Sprintf("chunk_%d.pdf", i))
		tmpPath := finalPath + ".tmp"
		if err := os.WriteFile(tmpPath, b, 0o600); err != nil {
			os.Remove(tmpPath)
			handle.Close()
			return nil, fmt.Errorf("pdfsplit: writing temp chunk: %w", err)
		}
		if err := os.Rename(tmpPath, finalPath); err != nil {
			os.Remove(tmpPath)
			handle.Close()
			return nil, fmt.Errorf("pdfsplit: renaming chunk: %w", err)
		}

		handle.Chunks = append(handle.Chunks, Chunk{Index: i, PageStart: r[0], PageEnd: r[1], Path: finalPath})
	}

	return handle, nil
}

func pageCount(pdfBytes []byte) (int, error) {
	ctx, err := api.ReadContext(bytes.NewReader(pdfBytes), nil)
	if err != nil {
		return 0, err
	}
	return ctx.PageCount, nil
}

func extractPageRange(pdfBytes []byte, start, end int) ([]byte, error) {
	var buf bytes.Buffer
	selected := make([]string, 0, end-start+1)
	for p := start; p <= end; p++ {
		selected = append(selected, fmt.Sprintf("%d", p))
	}
	if err := api.Trim(bytes.NewReader(pdfBytes), &buf, selected, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
