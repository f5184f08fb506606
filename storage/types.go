// Package storage defines the data model shared across every component,
// along with the external-collaborator interfaces (ObjectStore, MetaStore,
// KV, Broker, LLM, Embedder, Reranker, OcrProvider) that the core engine
// consumes but never implements. Concrete adapters live in sibling
// packages (sqlitestore, pgstore, rediskv).
package storage

import "time"

// MemberRole is a matter membership role.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleEditor MemberRole = "editor"
	RoleViewer MemberRole = "viewer"
)

// DocumentType distinguishes case files from reference material (acts).
type DocumentType string

const (
	DocumentCaseFile DocumentType = "case_file"
	DocumentAct      DocumentType = "act"
)

// DocumentStatus tracks ingestion progress.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Matter is the tenancy boundary. Every other entity below is scoped to one.
type Matter struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Document belongs to exactly one matter.
type Document struct {
	ID                  string
	MatterID            string
	Filename            string
	Type                DocumentType
	IsReferenceMaterial bool
	Status              DocumentStatus
	BlobPath            string
	PageCount           int
	CreatedAt           time.Time
	DeletedAt           *time.Time
}

// Chunk is a node in the two-level parent/child hierarchy of a document.
type Chunk struct {
	ID            string
	MatterID      string
	DocumentID    string
	ParentChunkID *string
	ChunkIndex    int
	Content       string
	TokenCount    int
	PageNumber    *int
	BBoxIDs       []string
	ContentHash   string
	ContentType   string // "section", "table", "definition", "obligation", "paragraph"
}

// BoundingBox is a single OCR'd rectangle on a page.
type BoundingBox struct {
	ID                string
	MatterID          string
	DocumentID        string
	PageNumber        int // absolute, 1-based
	Text              string
	Confidence        float64 // [0,1]
	ReadingOrderIndex int     // monotonic per page
	X, Y, W, H        float64
}

// VerificationStatus is the lifecycle of an ExtractedCitation.
type VerificationStatus string

const (
	CitationPending        VerificationStatus = "pending"
	CitationVerified        VerificationStatus = "verified"
	CitationMismatch        VerificationStatus = "mismatch"
	CitationSectionNotFound VerificationStatus = "section_not_found"
	CitationActUnavailable  VerificationStatus = "act_unavailable"
	CitationError           VerificationStatus = "error"
)

// ExtractedCitation is a reference to a statute section found in a document.
type ExtractedCitation struct {
	ID                string
	MatterID          string
	ActName           string
	CanonicalActName  string
	Section           string
	Subsection        string
	Clause            string
	RawText           string
	QuotedText        string
	Confidence        float64 // [0,100]
	Status            VerificationStatus
	SourceDocumentID  string
	SourceChunkID     string
	PageNumber        *int
	TargetPage        *int
	TargetBBoxIDs     []string
	SimilarityScore   float64
}

// ActResolutionStatus tracks whether a cited act has been uploaded.
type ActResolutionStatus string

const (
	ActMissing   ActResolutionStatus = "missing"
	ActAvailable ActResolutionStatus = "available"
	ActSkipped   ActResolutionStatus = "skipped"
)

// ActUserAction tracks what the matter owner decided to do about a missing act.
type ActUserAction string

const (
	ActActionPending  ActUserAction = "pending"
	ActActionUploaded ActUserAction = "uploaded"
	ActActionSkipped  ActUserAction = "skipped"
)

// ActResolution is a per-matter record of a cited act's availability.
type ActResolution struct {
	MatterID          string
	ActNameNormalized string
	ActNameDisplay    string
	ActDocumentID     *string
	ResolutionStatus  ActResolutionStatus
	UserAction        ActUserAction
	CitationCount     int
}

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityPerson      EntityType = "PERSON"
	EntityOrg         EntityType = "ORG"
	EntityInstitution EntityType = "INSTITUTION"
	EntityAsset       EntityType = "ASSET"
)

// Entity is a matter-scoped, deduplicated named entity.
type Entity struct {
	ID            string
	MatterID      string
	CanonicalName string
	EntityType    EntityType
	Aliases       []string
	Metadata      map[string]string
	MentionCount  int
}

// EntityMention ties an entity occurrence to a chunk and page.
type EntityMention struct {
	ID         string
	MatterID   string
	EntityID   string
	ChunkID    string
	PageNumber *int
	BBoxIDs    []string
	RawText    string
	Context    string
}

// RelationType classifies an edge between two entities.
type RelationType string

const (
	RelHasRole  RelationType = "HAS_ROLE"
	RelAliasOf  RelationType = "ALIAS_OF"
	RelRelated  RelationType = "RELATED_TO"
)

// EntityRelationship is a directed, typed edge between two entities in the
// same matter. Cross-matter edges are impossible by construction: callers
// never have both entity IDs unless they resolved them from the same
// matter-scoped lookup.
type EntityRelationship struct {
	ID             string
	MatterID       string
	SourceEntityID string
	TargetEntityID string
	RelationType   RelationType
	Confidence     float64
}

// DatePrecision describes how specific an extracted date is.
type DatePrecision string

const (
	PrecisionDay   DatePrecision = "day"
	PrecisionMonth DatePrecision = "month"
	PrecisionYear  DatePrecision = "year"
	PrecisionUnknown DatePrecision = "unknown"
)

// TimelineEvent is a dated occurrence extracted from a matter's documents.
type TimelineEvent struct {
	ID                string
	MatterID          string
	EventDate         time.Time
	EventDatePrecision DatePrecision
	EventDateText     string
	EventType         string
	Description       string
	Confidence        float64
	SourcePage        *int
	SourceBBoxIDs     []string
	IsManual          bool
	IsAmbiguous       bool
	AmbiguityReason   string
	EntitiesInvolved  []string
}

// Statement is an entity-linked assertion extracted from a chunk, used for
// contradiction detection.
type Statement struct {
	ID         string
	MatterID   string
	EntityID   string
	Subject    string
	Assertion  string
	Amount     *float64
	DateStart  *time.Time
	DateEnd    *time.Time
	SourceChunkID string
}

// ContradictionSeverity ranks how serious a detected contradiction is.
type ContradictionSeverity string

const (
	SeverityLow    ContradictionSeverity = "low"
	SeverityMedium ContradictionSeverity = "medium"
	SeverityHigh   ContradictionSeverity = "high"
)

// Contradiction pairs two statements whose subject/date/amount overlap but
// whose assertions differ.
type Contradiction struct {
	ID        string
	MatterID  string
	StatementAID string
	StatementBID string
	Severity  ContradictionSeverity
	Summary   string
}

// VerificationRequirement is the tier a finding must clear before export.
type VerificationRequirement string

const (
	RequirementOptional  VerificationRequirement = "OPTIONAL"
	RequirementSuggested VerificationRequirement = "SUGGESTED"
	RequirementRequired  VerificationRequirement = "REQUIRED"
)

// VerificationDecision is the outcome of a human review of a finding.
type VerificationDecision string

const (
	DecisionPending  VerificationDecision = "pending"
	DecisionApproved VerificationDecision = "approved"
	DecisionRejected VerificationDecision = "rejected"
	DecisionFlagged  VerificationDecision = "flagged"
)

// FindingVerification is a review record for one surfaced finding.
type FindingVerification struct {
	ID               string
	MatterID         string
	FindingID        string
	FindingType      string
	FindingSummary   string // <= 500 chars
	ConfidenceBefore float64
	Requirement      VerificationRequirement
	Decision         VerificationDecision
	VerifiedBy       *string
	VerifiedAt       *time.Time
	ConfidenceAfter  *float64
	Notes            string
	CreatedAt        time.Time
}

// JobStatus is a processing job's lifecycle state.
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobCancelled  JobStatus = "CANCELLED"
	JobSkipped    JobStatus = "SKIPPED"
)

// Job tracks one multi-stage background operation.
type Job struct {
	ID              string
	MatterID        string
	Type            string
	Status          JobStatus
	CurrentStage    string
	TotalStages     int
	CompletedStages int
	ProgressPct     float64
	RetryCount      int
	MaxRetries      int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StageHistoryEntry is one append-only row recording a stage transition.
type StageHistoryEntry struct {
	ID        string
	JobID     string
	Stage     string
	Status    JobStatus
	Message   string
	Timestamp time.Time
}

// TimelineCache is a derived, matter-scoped snapshot of all timeline events.
type TimelineCache struct {
	MatterID string
	CachedAt time.Time
	Version  int
	Events   []TimelineEvent
	Count    int
}

// EntityGraphCache is a derived, matter-scoped snapshot of the entity graph.
type EntityGraphCache struct {
	MatterID      string
	CachedAt      time.Time
	Version       int
	Entities      map[string]Entity
	Relationships []EntityRelationship
	Count         int
}

// CachedQueryResult is a single TTL'd cache row for a prior query answer.
type CachedQueryResult struct {
	QueryHash      string // 64-hex
	MatterID       string
	OriginalQuery  string
	NormalizedQuery string
	CachedAt       time.Time
	ExpiresAt      time.Time
	ResultSummary  string
	EngineUsed     string
	FindingsCount  int
	Confidence     float64
	ResponseData   []byte // opaque JSON blob
}

// SessionMessage is one turn in a chat session.
type SessionMessage struct {
	Role       string // "user" | "assistant"
	Content    string
	SourceRefs []string
	Timestamp  time.Time
}

// Session is the ephemeral per (matter,user) chat memory.
type Session struct {
	MatterID        string
	UserID          string
	Messages        []SessionMessage
	MentionedEntities map[string]bool
}

// QueryHistoryEntry is an append-only record of a single answered query.
type QueryHistoryEntry struct {
	ID                   string
	MatterID             string
	UserID               string
	Query                string
	EnginesUsed          []string
	Confidence           float64
	PromptTokens         int
	CompletionTokens     int
	AttorneyVerified     bool
	CreatedAt            time.Time
}

// RetrievalResult is one scored chunk returned by a retriever or by fusion.
type RetrievalResult struct {
	ChunkID    string
	DocumentID string
	Content    string
	Heading    string
	PageNumber *int
	Filename   string
	Score      float64
}

// RerankResult is one reranked candidate, index into the original slice.
type RerankResult struct {
	Index     int
	Relevance float64
}

// VerificationRequirementFor implements the pure confidence->tier function
// from the data model: >=90 OPTIONAL, >=70 SUGGESTED, else REQUIRED.
func VerificationRequirementFor(confidenceBefore float64) VerificationRequirement {
	switch {
	case confidenceBefore >= 90:
		return RequirementOptional
	case confidenceBefore >= 70:
		return RequirementSuggested
	default:
		return RequirementRequired
	}
}
