// Package goreason is the matter-scoped legal document analysis engine:
// it wires ingestion (parse, OCR fallback, chunk, embed, extract),
// matter-scoped hybrid retrieval, and the streaming conversational query
// orchestrator behind one constructor and a small surface the transport
// layer (cmd/server) drives.
package goreason

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/chunker"
	"github.com/brunobiangulo/ldip/citation"
	"github.com/brunobiangulo/ldip/entitygraph"
	"github.com/brunobiangulo/ldip/jobs"
	"github.com/brunobiangulo/ldip/llm"
	"github.com/brunobiangulo/ldip/matterid"
	"github.com/brunobiangulo/ldip/mattermemory"
	"github.com/brunobiangulo/ldip/ocrmerge"
	"github.com/brunobiangulo/ldip/ocrvalidate"
	"github.com/brunobiangulo/ldip/orchestrator"
	"github.com/brunobiangulo/ldip/parser"
	"github.com/brunobiangulo/ldip/pdfsplit"
	"github.com/brunobiangulo/ldip/querycache"
	"github.com/brunobiangulo/ldip/retrieval"
	"github.com/brunobiangulo/ldip/session"
	"github.com/brunobiangulo/ldip/storage"
	"github.com/brunobiangulo/ldip/storage/fsstore"
	"github.com/brunobiangulo/ldip/storage/pgstore"
	"github.com/brunobiangulo/ldip/storage/rediskv"
	"github.com/brunobiangulo/ldip/storage/sqlitestore"
	"github.com/brunobiangulo/ldip/timeline"
)

// Document is the ingestion-facing view of a stored document.
type Document = storage.Document

// Source is one retrieved passage backing an Answer, with a highlighted
// snippet computed against the final answer text.
type Source struct {
	ChunkID    string
	DocumentID string
	Filename   string
	PageNumber *int
	Snippet    string
	Score      float64
}

// Answer is the result of a blocking Query call: the orchestrator's
// streamed events drained to completion.
type Answer struct {
	Text       string
	Confidence float64
	Sources    []Source
}

// ingestOptions carries IngestOption state.
type ingestOptions struct {
	docType             storage.DocumentType
	isReferenceMaterial bool
}

// IngestOption customizes one Ingest call.
type IngestOption func(*ingestOptions)

// WithReferenceMaterial marks the document as reference material (a
// statute or act) rather than a case file. Act resolutions against
// matching citations are only ever satisfied by reference-material
// documents.
func WithReferenceMaterial() IngestOption {
	return func(o *ingestOptions) {
		o.docType = storage.DocumentAct
		o.isReferenceMaterial = true
	}
}

// embeddingStore is the narrow extra surface sqlitestore.Store and
// pgstore.Store both expose outside storage.MetaStore/storage.SearchIndex:
// chunk embeddings are write-only from the engine's perspective and never
// read back through a generic interface, so there is no reason to widen
// either shared contract for one method.
type embeddingStore interface {
	InsertEmbedding(ctx context.Context, chunkID string, embedding []float32) error
}

// Engine is the main entry point for the matter analysis engine.
type Engine interface {
	// Ingest parses, OCR-falls-back, chunks, embeds, and extracts
	// structured findings for one document within a matter. Returns the
	// stored document.
	Ingest(ctx context.Context, matterID, userID, path string, opts ...IngestOption) (*Document, error)

	// StreamQuery runs the conversational query pipeline and returns its
	// event stream directly; callers that want NDJSON framing (the HTTP
	// transport) drain this themselves.
	StreamQuery(ctx context.Context, matterID, userID, query string) <-chan orchestrator.Event

	// Query is a blocking convenience wrapper around StreamQuery: it
	// drains the stream to completion and computes a highlighted
	// snippet per source against the final answer text.
	Query(ctx context.Context, matterID, userID, query string) (*Answer, error)

	ListDocuments(ctx context.Context, matterID, userID string) ([]Document, error)
	Delete(ctx context.Context, matterID, userID, documentID string) error
	Close() error
}

type engine struct {
	cfg Config

	meta    storage.MetaStore
	index   storage.SearchIndex
	embeds  embeddingStore
	objects storage.ObjectStore
	kv      *rediskv.Store

	guard    *matterid.Guard
	parsers  *parser.Registry
	chunkr   *chunker.Chunker
	splitter *pdfsplit.Splitter

	chatLLM  storage.LLM
	embedder storage.Embedder
	visionOp *visionOCR // nil when no vision provider is configured

	retriever *retrieval.Engine
	orch      *orchestrator.Orchestrator

	closeFn func() error
}

// New wires every collaborator and returns a ready-to-use Engine.
func New(cfg Config) (Engine, error) {
	meta, index, embeds, closeFn, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	kv := rediskv.New(redisClient)

	objects, err := fsstore.New(cfg.resolveBlobRoot())
	if err != nil {
		closeFn()
		return nil, err
	}

	chatProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider, Model: cfg.Chat.Model,
		BaseURL: cfg.Chat.BaseURL, APIKey: cfg.Chat.APIKey,
	})
	if err != nil {
		closeFn()
		return nil, fmt.Errorf("goreason: chat provider: %w", err)
	}
	chatAdapter := llm.NewAdapter(chatProvider, cfg.Chat.Model)

	embedProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider, Model: cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL, APIKey: cfg.Embedding.APIKey,
	})
	if err != nil {
		closeFn()
		return nil, fmt.Errorf("goreason: embedding provider: %w", err)
	}
	embedAdapter := llm.NewAdapter(embedProvider, cfg.Embedding.Model)

	var vision *visionOCR
	if cfg.Vision.Provider != "" {
		visionProvider, err := llm.NewProvider(llm.Config{
			Provider: cfg.Vision.Provider, Model: cfg.Vision.Model,
			BaseURL: cfg.Vision.BaseURL, APIKey: cfg.Vision.APIKey,
		})
		if err != nil {
			closeFn()
			return nil, fmt.Errorf("goreason: vision provider: %w", err)
		}
		if vp, ok := visionProvider.(llm.VisionProvider); ok {
			vision = &visionOCR{provider: vp, model: cfg.Vision.Model}
		}
	}

	registry := parser.NewRegistry()
	if cfg.LlamaParse != nil {
		registry.SetLlamaParse(parser.LlamaParseConfig{APIKey: cfg.LlamaParse.APIKey, BaseURL: cfg.LlamaParse.BaseURL})
	}

	guard := matterid.New(meta)
	retriever := retrieval.New(guard, index, embedAdapter, nil)

	orch := orchestrator.New(orchestrator.Dependencies{
		Retriever: retriever,
		Meta:      meta,
		LLM:       chatAdapter,
		Broker:    kv,
		Sessions:  session.New(kv),
		History:   mattermemory.NewQueryHistory(meta),
		Cache:     querycache.New(kv),
	}, orchestrator.Config{
		TokenDelay:   cfg.TokenDelay,
		EvalQueue:    cfg.EvalQueue,
		RetrieveTopK: cfg.RetrieveTopK,
	})

	return &engine{
		cfg:       cfg,
		meta:      meta,
		index:     index,
		embeds:    embeds,
		objects:   objects,
		kv:        kv,
		guard:     guard,
		parsers:   registry,
		chunkr:    chunker.New(chunker.Config{MaxTokens: cfg.MaxChunkTokens, Overlap: cfg.ChunkOverlap}),
		splitter:  pdfsplit.New(pdfsplit.DefaultConfig()),
		chatLLM:   chatAdapter,
		embedder:  embedAdapter,
		visionOp:  vision,
		retriever: retriever,
		orch:      orch,
		closeFn:   closeFn,
	}, nil
}

// openStorage selects and opens the configured MetaStore/SearchIndex
// backend, returning a uniform close function regardless of which
// concrete store was opened.
func openStorage(cfg Config) (storage.MetaStore, storage.SearchIndex, embeddingStore, func() error, error) {
	switch cfg.StorageBackend {
	case "postgres":
		st, err := pgstore.Open(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("goreason: opening postgres store: %w", err)
		}
		return st, st, st, func() error { st.Close(); return nil }, nil
	case "", "sqlite":
		st, err := sqlitestore.Open(cfg.resolveDBPath(), cfg.EmbeddingDim)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("goreason: opening sqlite store: %w", err)
		}
		return st, st, st, st.Close, nil
	default:
		return nil, nil, nil, nil, ErrInvalidConfig
	}
}

// resolveBlobRoot derives the local object-store root from the same
// storage directory convention resolveDBPath uses, so case files,
// uploaded acts, and OCR chunk bytes all land next to the database by
// default.
func (c *Config) resolveBlobRoot() string {
	if c.StorageBackend == "postgres" {
		if c.StorageDir == "local" || c.StorageDir == "cwd" {
			return "blobs"
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "blobs"
		}
		return filepath.Join(home, ".ldip", "blobs")
	}
	return filepath.Join(filepath.Dir(c.resolveDBPath()), "blobs")
}

// --- Ingest ---------------------------------------------------------------

func (e *engine) Ingest(ctx context.Context, matterID, userID, path string, opts ...IngestOption) (*Document, error) {
	if _, err := e.guard.Check(ctx, matterID, userID); err != nil {
		return nil, err
	}

	o := ingestOptions{docType: storage.DocumentCaseFile}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("goreason: reading %s: %w", path, err)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return nil, ErrUnsupportedFormat
	}

	documentID := uuid.NewString()
	blobPath, err := e.objects.Put(ctx, fmt.Sprintf("%s/uploads/%s.%s", matterID, documentID, ext), data)
	if err != nil {
		return nil, fmt.Errorf("goreason: storing blob: %w", err)
	}

	doc := storage.Document{
		ID:                  documentID,
		MatterID:            matterID,
		Filename:            filepath.Base(path),
		Type:                o.docType,
		IsReferenceMaterial: o.isReferenceMaterial,
		Status:              storage.DocumentProcessing,
		BlobPath:            blobPath,
		CreatedAt:           time.Now(),
	}
	if err := e.meta.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("goreason: inserting document: %w", err)
	}

	jobID, err := jobs.Create(ctx, e.meta, matterID, "ingest", 4)
	if err != nil {
		return nil, fmt.Errorf("goreason: creating job: %w", err)
	}

	result, ingestErr := e.runIngestPipeline(ctx, matterID, documentID, path, ext, jobID)
	if ingestErr != nil {
		_ = jobs.Advance(ctx, e.meta, matterID, jobID, "ingest", storage.JobFailed, ingestErr.Error())
		_ = e.meta.UpdateDocumentStatus(ctx, matterID, documentID, storage.DocumentFailed)
		return nil, ingestErr
	}

	if err := e.meta.UpdateDocumentStatus(ctx, matterID, documentID, storage.DocumentCompleted); err != nil {
		return nil, fmt.Errorf("goreason: marking document completed: %w", err)
	}
	doc.PageCount = result.pageCount
	doc.Status = storage.DocumentCompleted
	return &doc, nil
}

type ingestResult struct {
	pageCount int
}

// runIngestPipeline parses, chunks, stores, embeds, and extracts
// structured findings for one document, advancing the job's stage
// history as it goes.
func (e *engine) runIngestPipeline(ctx context.Context, matterID, documentID, path, ext string, jobID string) (ingestResult, error) {
	sections, pageCount, err := e.parseDocument(ctx, path, ext)
	if err != nil {
		return ingestResult{}, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	if err := jobs.Advance(ctx, e.meta, matterID, jobID, "parse", storage.JobProcessing, ""); err != nil {
		slog.Warn("goreason: advancing job stage failed", "stage", "parse", "error", err)
	}

	chunks := e.chunkr.Chunk(matterID, documentID, sections)
	if err := e.meta.ReplaceChunks(ctx, matterID, documentID, chunks); err != nil {
		return ingestResult{}, fmt.Errorf("goreason: replacing chunks: %w", err)
	}
	if err := jobs.Advance(ctx, e.meta, matterID, jobID, "chunk", storage.JobProcessing, ""); err != nil {
		slog.Warn("goreason: advancing job stage failed", "stage", "chunk", "error", err)
	}

	if err := e.embedChunks(ctx, chunks); err != nil {
		return ingestResult{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := jobs.Advance(ctx, e.meta, matterID, jobID, "embed", storage.JobProcessing, ""); err != nil {
		slog.Warn("goreason: advancing job stage failed", "stage", "embed", "error", err)
	}

	e.extractChunks(ctx, matterID, documentID, chunks)
	if err := jobs.Advance(ctx, e.meta, matterID, jobID, "extract", storage.JobCompleted, ""); err != nil {
		slog.Warn("goreason: advancing job stage failed", "stage", "extract", "error", err)
	}

	return ingestResult{pageCount: pageCount}, nil
}

// parseDocument runs the native parser for ext, falling back to a
// vision-OCR pipeline for PDFs whose native extraction yields
// suspiciously little text (the scanned-document case).
func (e *engine) parseDocument(ctx context.Context, path, ext string) ([]parser.Section, int, error) {
	p, err := e.parsers.Get(ext)
	if err != nil {
		return nil, 0, ErrUnsupportedFormat
	}

	result, err := p.Parse(ctx, path)
	if err != nil {
		return nil, 0, err
	}

	if ext == "pdf" && nativeTextLooksEmpty(result.Sections) {
		if e.visionOp == nil {
			return result.Sections, countPages(result.Sections), nil
		}
		sections, err := e.ocrIngest(ctx, path)
		if err != nil {
			slog.Warn("goreason: ocr fallback failed, keeping native parse", "path", path, "error", err)
			return result.Sections, countPages(result.Sections), nil
		}
		return sections, countPages(sections), nil
	}

	sections, _ := e.captionImages(ctx, result.Sections, result.Images)
	return sections, countPages(sections), nil
}

// captionImages replaces each extracted image with an inline caption
// marker in its originating section's content. Captioning is opt-in
// (cfg.CaptionImages) and only runs one vision call per page, against
// the largest image on that page; every other image on the page, and
// every image when captioning is disabled or unavailable, falls back to
// a bare "[image]" marker rather than silently vanishing from the text.
// The second return value is the set of images that were actually
// captioned, for callers that want to know what vision calls succeeded.
func (e *engine) captionImages(ctx context.Context, sections []parser.Section, images []parser.ExtractedImage) ([]parser.Section, []parser.ExtractedImage) {
	if len(images) == 0 {
		return sections, nil
	}

	largestPerPage := map[int]int{}
	for i, img := range images {
		cur, ok := largestPerPage[img.PageNumber]
		if !ok || img.Width*img.Height > images[cur].Width*images[cur].Height {
			largestPerPage[img.PageNumber] = i
		}
	}

	captions := map[int]string{}
	var collected []parser.ExtractedImage
	if e.cfg.CaptionImages && e.visionOp != nil {
		for _, idx := range largestPerPage {
			img := images[idx]
			caption, err := e.visionOp.Caption(ctx, img.Data, img.MIMEType)
			if err != nil || caption == "" {
				slog.Warn("goreason: image captioning failed", "page", img.PageNumber, "error", err)
				continue
			}
			captions[idx] = caption
			collected = append(collected, img)
		}
	}

	out := make([]parser.Section, len(sections))
	copy(out, sections)
	for i, img := range images {
		if img.SectionIndex < 0 || img.SectionIndex >= len(out) {
			continue
		}
		if caption, ok := captions[i]; ok {
			out[img.SectionIndex].Content += fmt.Sprintf("\n\n[Image: %s]", caption)
		} else {
			out[img.SectionIndex].Content += "\n\n[image]"
		}
	}
	return out, collected
}

// nativeTextLooksEmpty reports whether sections carry too little text to
// be a genuinely native (non-scanned) PDF.
func nativeTextLooksEmpty(sections []parser.Section) bool {
	total := 0
	for _, s := range sections {
		total += len(s.Content)
	}
	return total < 200
}

func countPages(sections []parser.Section) int {
	max := 0
	for _, s := range sections {
		if s.PageNumber > max {
			max = s.PageNumber
		}
		if c := countPages(s.Children); c > max {
			max = c
		}
	}
	return max
}

// visionOCR adapts a vision-capable llm.Provider into storage.OcrProvider
// by sending each PDF page-range chunk's raw bytes as an inline document
// and treating the returned text as one bounding box per line. There is
// no true glyph geometry available from a vision completion, so X/Y/W/H
// are left zero: downstream bbox-dependent features (citation target
// highlighting) degrade to page-level rather than rectangle-level
// targeting for OCR-sourced documents.
type visionOCR struct {
	provider llm.VisionProvider
	model    string
}

func (v *visionOCR) OCR(ctx context.Context, pdfChunkBytes []byte, pageStart, pageEnd int) (storage.ChunkOCRResult, error) {
	b64 := base64.StdEncoding.EncodeToString(pdfChunkBytes)
	resp, err := v.provider.ChatWithImages(ctx, llm.VisionChatRequest{
		Model: v.model,
		Messages: []llm.VisionMessage{{
			Role: "user",
			Content: []llm.ContentPart{
				{Type: "text", Text: "Transcribe all text from this PDF page range verbatim, one line per visual line."},
				{Type: "image_url", ImageURL: &llm.ImageURL{URL: "data:application/pdf;base64," + b64}},
			},
		}},
		MaxTokens: 4096,
	})
	if err != nil {
		return storage.ChunkOCRResult{}, fmt.Errorf("vision ocr: %w", err)
	}

	var boxes []storage.BoundingBox
	readingOrder := 0
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		boxes = append(boxes, storage.BoundingBox{
			PageNumber:        pageStart,
			Text:              line,
			Confidence:        0.9,
			ReadingOrderIndex: readingOrder,
		})
		readingOrder++
	}

	return storage.ChunkOCRResult{
		PageStart:  pageStart,
		PageEnd:    pageEnd,
		PageCount:  pageEnd - pageStart + 1,
		Confidence: 0.9,
		BBoxes:     boxes,
	}, nil
}

// Caption asks the vision provider for a short, one-sentence description
// of an embedded image, for inline indexing rather than transcription.
func (v *visionOCR) Caption(ctx context.Context, data []byte, mimeType string) (string, error) {
	b64 := base64.StdEncoding.EncodeToString(data)
	resp, err := v.provider.ChatWithImages(ctx, llm.VisionChatRequest{
		Model: v.model,
		Messages: []llm.VisionMessage{{
			Role: "user",
			Content: []llm.ContentPart{
				{Type: "text", Text: "Describe this image in one short sentence for a document index."},
				{Type: "image_url", ImageURL: &llm.ImageURL{URL: fmt.Sprintf("data:%s;base64,%s", mimeType, b64)}},
			},
		}},
		MaxTokens: 128,
	})
	if err != nil {
		return "", fmt.Errorf("vision caption: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// ocrIngest runs the pdfsplit -> vision-OCR -> ocrmerge -> ocrvalidate
// pipeline over a scanned PDF and converts the merged, corrected bounding
// boxes into one synthetic section per page.
func (e *engine) ocrIngest(ctx context.Context, path string) ([]parser.Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	chunks, warnings, err := e.splitter.Split(ctx, data)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		slog.Warn("goreason: ocr ingest approaching memory budget", "bytes_used", w.BytesUsed, "budget", w.Budget)
	}

	results := make([]storage.ChunkOCRResult, len(chunks))
	var wg sync.WaitGroup
	errs := make([]error, len(chunks))
	for i, c := range chunks {
		wg.Add(1)
		go func(idx int, c pdfsplit.Chunk) {
			defer wg.Done()
			r, err := e.visionOp.OCR(ctx, c.Bytes, 1, c.PageEnd-c.PageStart+1)
			r.ChunkIndex = idx
			results[idx] = r
			errs[idx] = err
		}(i, c)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	merged, err := ocrmerge.Merge(results)
	if err != nil {
		return nil, err
	}

	var words []ocrvalidate.Word
	for i, b := range merged.BBoxes {
		if b.Confidence < ocrvalidate.DefaultThresholds().GeminiThreshold {
			words = append(words, ocrvalidate.Word{BBoxID: fmt.Sprintf("%d", i), Text: b.Text, Confidence: b.Confidence, PageNumber: b.PageNumber})
		}
	}
	patternFixed, remaining := ocrvalidate.ApplyPatternTier(words)
	llmFixed := ocrvalidate.LLMTier(ctx, e.chatLLM, remaining, ocrvalidate.DefaultThresholds())
	corrections := append(patternFixed, llmFixed...)
	byBBox := make(map[string]string, len(corrections))
	for _, c := range corrections {
		byBBox[c.BBoxID] = c.Corrected
	}
	for i := range merged.BBoxes {
		if fixed, ok := byBBox[fmt.Sprintf("%d", i)]; ok {
			merged.BBoxes[i].Text = fixed
		}
	}

	byPage := map[int][]string{}
	var pageOrder []int
	for _, b := range merged.BBoxes {
		if _, seen := byPage[b.PageNumber]; !seen {
			pageOrder = append(pageOrder, b.PageNumber)
		}
		byPage[b.PageNumber] = append(byPage[b.PageNumber], b.Text)
	}

	sections := make([]parser.Section, 0, len(pageOrder))
	for _, page := range pageOrder {
		sections = append(sections, parser.Section{
			Content:    strings.Join(byPage[page], "\n"),
			PageNumber: page,
			Type:       "paragraph",
		})
	}
	return sections, nil
}

// embedChunks computes and stores one embedding per chunk.
func (e *engine) embedChunks(ctx context.Context, chunks []storage.Chunk) error {
	for _, c := range chunks {
		vec, err := e.embedder.Embed(ctx, truncateForEmbed(c.Content))
		if err != nil {
			return fmt.Errorf("embedding chunk %s: %w", c.ID, err)
		}
		if err := e.embeds.InsertEmbedding(ctx, c.ID, vec); err != nil {
			return fmt.Errorf("storing embedding for chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

func truncateForEmbed(text string) string {
	const maxChars = 8000
	if len(text) > maxChars {
		return text[:maxChars]
	}
	return text
}

// extractChunks runs citation, entity, and timeline extraction over every
// child chunk (chunks with a parent are the actual body text; parent
// chunks hold only a heading plus an abbreviated preview and are skipped
// to avoid double-counting). Failures are logged per-chunk and never
// abort ingestion, mirroring the teacher's graph builder: a document with
// some failed chunks is still usable.
func (e *engine) extractChunks(ctx context.Context, matterID, documentID string, chunks []storage.Chunk) {
	concurrency := e.cfg.ExtractionConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	var eligible []storage.Chunk
	for _, c := range chunks {
		if c.ParentChunkID != nil {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return
	}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, concurrency)
	)

	for _, c := range eligible {
		wg.Add(1)
		go func(c storage.Chunk) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			e.extractOneChunk(ctx, matterID, documentID, c)
		}(c)
	}
	wg.Wait()
}

func (e *engine) extractOneChunk(ctx context.Context, matterID, documentID string, c storage.Chunk) {
	regexCitations := citation.ExtractRegex(c.Content, documentID, c.ID, c.PageNumber)

	// Skip the LLM citation pass on chunks that read nothing like a
	// cross-reference (no "section", "clause", "schedule", etc.) and
	// didn't already match the regex extractor; most body chunks in a
	// long filing are plain narrative with nothing to cite.
	var llmCitations []storage.ExtractedCitation
	if len(regexCitations) > 0 || chunker.HasCrossReferences(c.Content) {
		llmCitations = citation.ExtractLLM(ctx, e.chatLLM, c.Content, documentID, c.ID, c.PageNumber)
	}
	if merged := citation.Merge(regexCitations, llmCitations); len(merged) > 0 {
		for i := range merged {
			merged[i].MatterID = matterID
		}
		if err := e.meta.InsertCitations(ctx, matterID, merged); err != nil {
			slog.Warn("goreason: inserting citations failed", "chunk_id", c.ID, "error", err)
		}
		e.resolveActs(ctx, matterID, merged)
	}

	if !e.cfg.SkipEntityExtraction {
		if entities, err := entitygraph.ExtractEntities(ctx, e.chatLLM, c.Content); err != nil {
			slog.Warn("goreason: entity extraction failed", "chunk_id", c.ID, "error", err)
		} else if len(entities) > 0 {
			if err := entitygraph.DedupeAndPersist(ctx, e.meta, matterID, c.ID, entities); err != nil {
				slog.Warn("goreason: entity persist failed", "chunk_id", c.ID, "error", err)
			}
			e.extractRelationships(ctx, matterID, c, entities)
		}
	}

	if !e.cfg.SkipTimelineExtraction {
		dates, err := timeline.ExtractDates(ctx, e.chatLLM, c.Content)
		if err != nil {
			slog.Warn("goreason: timeline extraction failed", "chunk_id", c.ID, "error", err)
			return
		}
		if len(dates) == 0 {
			return
		}
		events := make([]storage.TimelineEvent, 0, len(dates))
		for _, d := range dates {
			parsed, err := time.Parse("2006-01-02", d.EventDate)
			if err != nil {
				parsed = time.Time{}
			}
			events = append(events, storage.TimelineEvent{
				MatterID:           matterID,
				EventDate:          parsed,
				EventDatePrecision: d.EventDatePrecision,
				EventDateText:      d.EventDateText,
				EventType:          d.EventType,
				Description:        timeline.EncodeDescription(d.Description, d.IsAmbiguous, d.AmbiguityReason),
				Confidence:         d.Confidence,
				SourcePage:         c.PageNumber,
				IsAmbiguous:        d.IsAmbiguous,
				AmbiguityReason:    d.AmbiguityReason,
			})
		}
		if err := e.meta.InsertTimelineEvents(ctx, matterID, events); err != nil {
			slog.Warn("goreason: inserting timeline events failed", "chunk_id", c.ID, "error", err)
		}
	}
}

func (e *engine) extractRelationships(ctx context.Context, matterID string, c storage.Chunk, entities []entitygraph.ExtractedEntity) {
	names := make([]string, len(entities))
	for i, ent := range entities {
		names[i] = ent.CanonicalName
	}
	rels, err := entitygraph.ExtractRelationships(ctx, e.chatLLM, names, c.Content)
	if err != nil || len(rels) == 0 {
		if err != nil {
			slog.Warn("goreason: relationship extraction failed", "chunk_id", c.ID, "error", err)
		}
		return
	}
	known, err := e.meta.ListEntities(ctx, matterID)
	if err != nil {
		slog.Warn("goreason: listing entities for relationship resolution failed", "chunk_id", c.ID, "error", err)
		return
	}
	byName := make(map[string]string, len(known))
	for _, ent := range known {
		byName[strings.ToLower(ent.CanonicalName)] = ent.ID
	}

	for _, r := range rels {
		sourceID, ok := byName[strings.ToLower(r.SourceName)]
		if !ok {
			continue
		}
		targetID, ok := byName[strings.ToLower(r.TargetName)]
		if !ok {
			continue
		}
		err := e.meta.InsertRelationship(ctx, storage.EntityRelationship{
			MatterID:       matterID,
			SourceEntityID: sourceID,
			TargetEntityID: targetID,
			RelationType:   r.RelationType,
			Confidence:     r.Confidence,
		})
		if err != nil {
			slog.Warn("goreason: inserting relationship failed", "chunk_id", c.ID, "error", err)
		}
	}
}

// resolveActs upserts an ActResolution row per distinct cited act, marking
// it available when a matching act document already exists in the matter.
func (e *engine) resolveActs(ctx context.Context, matterID string, citations []storage.ExtractedCitation) {
	docs, err := e.meta.ListDocuments(ctx, matterID)
	if err != nil {
		slog.Warn("goreason: listing documents for act resolution failed", "error", err)
		return
	}
	available := map[string]string{}
	for _, d := range docs {
		if d.Type == storage.DocumentAct {
			available[strings.ToLower(d.Filename)] = d.ID
		}
	}

	seen := map[string]bool{}
	for _, c := range citations {
		canonical := citation.Canonicalize(c.ActName)
		key := strings.ToLower(canonical)
		if seen[key] {
			continue
		}
		seen[key] = true

		r := storage.ActResolution{
			MatterID:          matterID,
			ActNameNormalized: key,
			ActNameDisplay:    canonical,
			ResolutionStatus:  storage.ActMissing,
			UserAction:        storage.ActActionPending,
			CitationCount:     1,
		}
		if docID, ok := available[key]; ok {
			r.ActDocumentID = &docID
			r.ResolutionStatus = storage.ActAvailable
		}
		if err := e.meta.UpsertActResolution(ctx, r); err != nil {
			slog.Warn("goreason: upserting act resolution failed", "act", canonical, "error", err)
		}
	}
}

// --- Query -----------------------------------------------------------------

func (e *engine) StreamQuery(ctx context.Context, matterID, userID, query string) <-chan orchestrator.Event {
	return e.orch.Stream(ctx, matterID, userID, query)
}

func (e *engine) Query(ctx context.Context, matterID, userID, query string) (*Answer, error) {
	var complete orchestrator.CompleteData
	for ev := range e.orch.Stream(ctx, matterID, userID, query) {
		switch ev.Type {
		case orchestrator.EventError:
			data, _ := ev.Data.(orchestrator.ErrorData)
			return nil, apperr.New(apperr.Kind(data.Code), data.Message)
		case orchestrator.EventComplete:
			complete, _ = ev.Data.(orchestrator.CompleteData)
		}
	}

	answerWords := significantWords(complete.Text)
	sources := make([]Source, 0, len(complete.Sources))
	for _, r := range complete.Sources {
		sources = append(sources, Source{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Filename:   r.Filename,
			PageNumber: r.PageNumber,
			Snippet:    extractSnippet(r.Content, answerWords),
			Score:      r.Score,
		})
	}

	return &Answer{Text: complete.Text, Confidence: complete.Confidence, Sources: sources}, nil
}

// --- Document management -----------------------------------------------

func (e *engine) ListDocuments(ctx context.Context, matterID, userID string) ([]Document, error) {
	if _, err := e.guard.Check(ctx, matterID, userID); err != nil {
		return nil, err
	}
	return e.meta.ListDocuments(ctx, matterID)
}

func (e *engine) Delete(ctx context.Context, matterID, userID, documentID string) error {
	if _, err := e.guard.Check(ctx, matterID, userID); err != nil {
		return err
	}
	return e.meta.SoftDeleteDocument(ctx, matterID, documentID)
}

func (e *engine) Close() error {
	return e.closeFn()
}
