package pgstore

const schemaSQL = `
CREATE TABLE IF NOT EXISTS matters (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	is_reference_material BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	blob_path TEXT NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
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
	content_type TEXT,
	content_tsv TSVECTOR,
	embedding FLOAT8[]
);
CREATE INDEX IF NOT EXISTS idx_chunks_matter_document ON chunks(matter_id, document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_tsv ON chunks USING GIN(content_tsv);

CREATE TABLE IF NOT EXISTS bounding_boxes (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	page_number INTEGER NOT NULL,
	text TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	reading_order_index INTEGER NOT NULL,
	x DOUBLE PRECISION NOT NULL,
	y DOUBLE PRECISION NOT NULL,
	w DOUBLE PRECISION NOT NULL,
	h DOUBLE PRECISION NOT NULL
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
	confidence DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	source_document_id TEXT NOT NULL,
	source_chunk_id TEXT NOT NULL,
	page_number INTEGER,
	target_page INTEGER,
	target_bbox_ids TEXT,
	similarity_score DOUBLE PRECISION NOT NULL DEFAULT 0
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
	confidence DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relationships_matter ON relationships(matter_id);

CREATE TABLE IF NOT EXISTS timeline_events (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	event_date TIMESTAMPTZ NOT NULL,
	event_date_precision TEXT NOT NULL,
	event_date_text TEXT NOT NULL,
	event_type TEXT NOT NULL,
	description TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	source_page INTEGER,
	source_bbox_ids TEXT,
	is_manual BOOLEAN NOT NULL DEFAULT FALSE,
	is_ambiguous BOOLEAN NOT NULL DEFAULT FALSE,
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
	amount DOUBLE PRECISION,
	date_start TIMESTAMPTZ,
	date_end TIMESTAMPTZ,
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
	confidence_before DOUBLE PRECISION NOT NULL,
	requirement TEXT NOT NULL,
	decision TEXT NOT NULL,
	verified_by TEXT,
	verified_at TIMESTAMPTZ,
	confidence_after DOUBLE PRECISION,
	notes TEXT,
	created_at TIMESTAMPTZ NOT NULL
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
	progress_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_matter_status ON jobs(matter_id, status);

CREATE TABLE IF NOT EXISTS stage_history (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	message TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stage_history_job ON stage_history(job_id);

CREATE TABLE IF NOT EXISTS query_history (
	id TEXT PRIMARY KEY,
	matter_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	query TEXT NOT NULL,
	engines_used TEXT,
	confidence DOUBLE PRECISION NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	attorney_verified BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_history_matter ON query_history(matter_id, created_at);
`
