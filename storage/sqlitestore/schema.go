package sqlitestore

import "fmt"

// schemaSQL is the matter-scoped DDL. Every table from the single-tenant
// teacher schema gains a matter_id column and a matching index; vec_chunks
// and chunks_fts stay virtual tables scoped by joining through chunks.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS matters (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS matter_members (
	matter_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (matter_id, user_id)
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	type TEXT NOT NULL,
	is_reference_material BOOLEAN NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	blob_path TEXT NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	deleted_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_documents_matter ON documents(matter_id);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	parent_chunk_id TEXT,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	page_number INTEGER,
	bbox_ids TEXT,
	content_hash TEXT,
	content_type TEXT
);
CREATE INDEX IF NOT EXISTS idx_chunks_matter_document ON chunks(matter_id, document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_parent ON chunks(parent_chunk_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
	chunk_id TEXT PRIMARY KEY,
	embedding FLOAT[%d]
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	content,
	content='chunks',
	content_rowid='rowid',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS chunks_fts_ai AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS chunks_fts_ad AFTER DELETE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS chunks_fts_au AFTER UPDATE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS bounding_boxes (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	page_number INTEGER NOT NULL,
	text TEXT NOT NULL,
	confidence REAL NOT NULL,
	reading_order_index INTEGER NOT NULL,
	x REAL NOT NULL,
	y REAL NOT NULL,
	w REAL NOT NULL,
	h REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bboxes_matter_document ON bounding_boxes(matter_id, document_id);

CREATE TABLE IF NOT EXISTS citations (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	act_name TEXT NOT NULL,
	canonical_act_name TEXT NOT NULL,
	section TEXT NOT NULL,
	subsection TEXT,
	clause TEXT,
	raw_text TEXT NOT NULL,
	quoted_text TEXT NOT NULL,
	confidence REAL NOT NULL,
	status TEXT NOT NULL,
	source_document_id TEXT NOT NULL,
	source_chunk_id TEXT NOT NULL,
	page_number INTEGER,
	target_page INTEGER,
	target_bbox_ids TEXT,
	similarity_score REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_citations_matter_status ON citations(matter_id, status);
CREATE INDEX IF NOT EXISTS idx_citations_matter_act ON citations(matter_id, canonical_act_name);

CREATE TABLE IF NOT EXISTS act_resolutions (
	matter_id TEXT NOT NULL,
	act_name_normalized TEXT NOT NULL,
	act_name_display TEXT NOT NULL,
	act_document_id TEXT,
	resolution_status TEXT NOT NULL,
	user_action TEXT NOT NULL,
	citation_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (matter_id, act_name_normalized)
);

CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	canonical_name TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	aliases TEXT,
	metadata TEXT,
	mention_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entities_matter ON entities(matter_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_matter_name_type ON entities(matter_id, canonical_name, entity_type);

CREATE TABLE IF NOT EXISTS entity_mentions (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	chunk_id TEXT NOT NULL,
	page_number INTEGER,
	bbox_ids TEXT,
	raw_text TEXT NOT NULL,
	context TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mentions_matter_entity ON entity_mentions(matter_id, entity_id);

CREATE TABLE IF NOT EXISTS relationships (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	source_entity_id TEXT NOT NULL,
	target_entity_id TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	confidence REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relationships_matter ON relationships(matter_id);

CREATE TABLE IF NOT EXISTS timeline_events (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	event_date TIMESTAMP NOT NULL,
	event_date_precision TEXT NOT NULL,
	event_date_text TEXT NOT NULL,
	event_type TEXT NOT NULL,
	description TEXT NOT NULL,
	confidence REAL NOT NULL,
	source_page INTEGER,
	source_bbox_ids TEXT,
	is_manual BOOLEAN NOT NULL DEFAULT 0,
	is_ambiguous BOOLEAN NOT NULL DEFAULT 0,
	ambiguity_reason TEXT,
	entities_involved TEXT
);
CREATE INDEX IF NOT EXISTS idx_timeline_matter_date ON timeline_events(matter_id, event_date);

CREATE TABLE IF NOT EXISTS statements (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	subject TEXT NOT NULL,
	assertion TEXT NOT NULL,
	amount REAL,
	date_start TIMESTAMP,
	date_end TIMESTAMP,
	source_chunk_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statements_matter_entity ON statements(matter_id, entity_id);

CREATE TABLE IF NOT EXISTS contradictions (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	statement_a_id TEXT NOT NULL,
	statement_b_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	summary TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contradictions_matter ON contradictions(matter_id);

CREATE TABLE IF NOT EXISTS finding_verifications (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	finding_id TEXT NOT NULL,
	finding_type TEXT NOT NULL,
	finding_summary TEXT NOT NULL,
	confidence_before REAL NOT NULL,
	requirement TEXT NOT NULL,
	decision TEXT NOT NULL,
	verified_by TEXT,
	verified_at TIMESTAMP,
	confidence_after REAL,
	notes TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verifications_matter_decision ON finding_verifications(matter_id, decision);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	current_stage TEXT NOT NULL,
	total_stages INTEGER NOT NULL,
	completed_stages INTEGER NOT NULL DEFAULT 0,
	progress_pct REAL NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_matter_status ON jobs(matter_id, status);

CREATE TABLE IF NOT EXISTS stage_history (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	message TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stage_history_job ON stage_history(job_id);

CREATE TABLE IF NOT EXISTS query_history (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	query TEXT NOT NULL,
	engines_used TEXT,
	confidence REAL NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	attorney_verified BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_history_matter ON query_history(matter_id, created_at);
`, embeddingDim)
}
