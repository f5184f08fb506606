package storage

import (
	"context"
	"time"
)

// ObjectStore holds blob content (uploaded PDFs, OCR chunk bytes). Paths
// follow {matter_id}/{subfolder}/{filename} with subfolder one of
// uploads | acts | ocr-chunks, enforced by callers, not by the store.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte) (signedURL string, err error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// MetaStore is the relational read/write surface the core consumes. It is
// intentionally narrow and per-entity rather than a generic query builder:
// every method already carries the matter_id filter or write target, so a
// caller cannot construct a cross-matter read even by accident.
type MetaStore interface {
	GetMatter(ctx context.Context, matterID string) (*Matter, error)
	IsMember(ctx context.Context, matterID, userID string) (bool, error)

	InsertDocument(ctx context.Context, d Document) error
	GetDocument(ctx context.Context, matterID, documentID string) (*Document, error)
	ListDocuments(ctx context.Context, matterID string) ([]Document, error)
	UpdateDocumentStatus(ctx context.Context, matterID, documentID string, status DocumentStatus) error
	SoftDeleteDocument(ctx context.Context, matterID, documentID string) error

	ReplaceChunks(ctx context.Context, matterID, documentID string, chunks []Chunk) error
	ListChunks(ctx context.Context, matterID, documentID string) ([]Chunk, error)

	InsertBoundingBoxes(ctx context.Context, matterID, documentID string, boxes []BoundingBox) error
	ListBoundingBoxes(ctx context.Context, matterID, documentID string) ([]BoundingBox, error)
	UpdateBoundingBoxText(ctx context.Context, matterID, bboxID, text string, confidence float64) error

	InsertCitations(ctx context.Context, matterID string, citations []ExtractedCitation) error
	ListCitationsByStatus(ctx context.Context, matterID string, status VerificationStatus) ([]ExtractedCitation, error)
	UpdateCitationVerification(ctx context.Context, matterID, citationID string, status VerificationStatus, targetPage *int, targetBBoxIDs []string, similarity float64) error
	TransitionActCitations(ctx context.Context, matterID, actNameNormalized string, from, to VerificationStatus) (int, error)

	UpsertActResolution(ctx context.Context, r ActResolution) error
	ListActResolutions(ctx context.Context, matterID string) ([]ActResolution, error)

	FindEntity(ctx context.Context, matterID, canonicalName string, entityType EntityType) (*Entity, error)
	InsertEntity(ctx context.Context, e Entity) (string, error)
	UpdateEntity(ctx context.Context, e Entity) error
	InsertEntityMention(ctx context.Context, m EntityMention) error
	InsertRelationship(ctx context.Context, r EntityRelationship) error
	ListEntities(ctx context.Context, matterID string) ([]Entity, error)
	ListRelationships(ctx context.Context, matterID string) ([]EntityRelationship, error)

	InsertTimelineEvents(ctx context.Context, matterID string, events []TimelineEvent) error
	ListTimelineEvents(ctx context.Context, matterID string) ([]TimelineEvent, error)

	InsertStatements(ctx context.Context, matterID string, statements []Statement) error
	ListStatements(ctx context.Context, matterID string) ([]Statement, error)
	InsertContradictions(ctx context.Context, matterID string, contradictions []Contradiction) error

	CreateFindingVerification(ctx context.Context, v FindingVerification) (string, error)
	RecordVerificationDecision(ctx context.Context, matterID, verificationID string, decision VerificationDecision, confidenceAfter *float64, verifiedBy, notes string) error
	ListPendingVerifications(ctx context.Context, matterID string) ([]FindingVerification, error)
	ListVerifications(ctx context.Context, matterID string, ids []string) ([]FindingVerification, error)
	ListAllVerifications(ctx context.Context, matterID string) ([]FindingVerification, error)

	CreateJob(ctx context.Context, j Job) (string, error)
	GetJob(ctx context.Context, matterID, jobID string) (*Job, error)
	UpdateJobStatus(ctx context.Context, matterID, jobID string, status JobStatus, errMsg string) error
	AppendStageHistory(ctx context.Context, entry StageHistoryEntry) error

	AppendQueryHistory(ctx context.Context, entry QueryHistoryEntry) error
	ListQueryHistory(ctx context.Context, matterID string, limit int) ([]QueryHistoryEntry, error)
	MarkQueryVerified(ctx context.Context, matterID, queryID string) (bool, error)

	ListAccessibleMatters(ctx context.Context, userID string) ([]Matter, error)
}

// SearchIndex is the retrieval backend consumed by the hybrid search
// engine: lexical (BM25/FTS) and dense-vector top-K lookups, each already
// filtered to one matter.
type SearchIndex interface {
	BM25Search(ctx context.Context, matterID, query string, k int) ([]RetrievalResult, error)
	VectorSearch(ctx context.Context, matterID string, vector []float32, k int) ([]RetrievalResult, error)
}

// KV is the ephemeral cache/queue store, used only by the query cache,
// session memory, and job queues. Every key passed to these methods must
// already be matter-scoped by the caller (see matterid.Key).
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Scan returns keys matching pattern starting at cursor, and the next
	// cursor to resume from (0 once exhausted). Callers MUST page through
	// this rather than assume a single call returns everything.
	Scan(ctx context.Context, pattern string, cursor uint64, count int64) (keys []string, nextCursor uint64, err error)
}

// BrokerMessage is one message delivered to a Broker subscriber.
type BrokerMessage struct {
	Channel string
	Payload []byte
}

// Broker is the pub/sub and task-queue collaborator. Publish fans out
// progress/completion events (CITATION_VERIFIED, PROGRESS,
// VERIFICATION_COMPLETE); Enqueue schedules background work (verification
// batches, evaluation runs).
type Broker interface {
	Publish(ctx context.Context, channel string, event any) error
	Subscribe(ctx context.Context, channel string) (ch <-chan BrokerMessage, cancel func(), err error)
	Enqueue(ctx context.Context, queue string, task any) error
}

// LLM generates text or structured-JSON completions. schemaHint, when
// non-empty, is a natural-language description of the expected JSON shape
// appended to the prompt; providers are free to ignore it.
type LLM interface {
	Generate(ctx context.Context, prompt string, schemaHint string) (string, error)
}

// Embedder produces a dense vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker reorders a set of candidate documents against a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string, topN int) ([]RerankResult, error)
}

// ChunkOCRResult is one chunk's OCR output, with chunk-relative page
// numbers (see ocrmerge for the absolute-page transform).
type ChunkOCRResult struct {
	ChunkIndex int
	PageStart  int // chunk-relative, 1-based
	PageEnd    int
	PageCount  int
	Confidence float64
	BBoxes     []BoundingBox // PageNumber here is chunk-relative until merged
	Checksum   string        // optional, first-16-hex sha256 of "idx:start:end:bboxcount"
}

// OcrProvider invokes the actual OCR model over one PDF page-range chunk.
type OcrProvider interface {
	OCR(ctx context.Context, pdfChunkBytes []byte, pageStart, pageEnd int) (ChunkOCRResult, error)
}
