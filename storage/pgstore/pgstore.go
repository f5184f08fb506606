// Package pgstore implements storage.MetaStore and storage.SearchIndex over
// PostgreSQL, for multi-node deployments where sqlitestore's single-file
// database would serialize every matter through one writer.
//
// Grounded on the same matter-scoped schema as storage/sqlitestore (see
// DESIGN.md); the SQL dialect and connection pooling follow pgx/v5's own
// idiom (pgxpool.Pool, $N placeholders) rather than database/sql, since
// that is the native way every example in the pack that imports
// jackc/pgx/v5 uses it. Lexical search uses Postgres's built-in
// tsvector/tsquery instead of sqlite-vec's FTS5, and dense-vector search
// is a brute-force cosine scan over a float8[] column ordered in SQL —
// no pgvector extension is assumed, since nothing in the example pack
// pulls it in.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brunobiangulo/ldip/storage"
)

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parsing dsn: %w", err)
	}
	cfg.MaxConns = 16
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: pinging: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: creating schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func newID() string { return uuid.NewString() }

func marshalJSON(v any) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(*raw), &out)
	return out
}

func unmarshalMap(raw *string) map[string]string {
	if raw == nil || *raw == "" {
		return nil
	}
	var out map[string]string
	_ = json.Unmarshal([]byte(*raw), &out)
	return out
}

// --- Matters ---

func (s *Store) GetMatter(ctx context.Context, matterID string) (*storage.Matter, error) {
	var m storage.Matter
	err := s.pool.QueryRow(ctx, `SELECT id, title, created_at FROM matters WHERE id = $1`, matterID).
		Scan(&m.ID, &m.Title, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) IsMember(ctx context.Context, matterID, userID string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM matter_members WHERE matter_id = $1 AND user_id = $2`, matterID, userID).Scan(&count)
	return count > 0, err
}

func (s *Store) ListAccessibleMatters(ctx context.Context, userID string) ([]storage.Matter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.title, m.created_at
		FROM matters m JOIN matter_members mm ON mm.matter_id = m.id
		WHERE mm.user_id = $1 ORDER BY m.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Matter
	for rows.Next() {
		var m storage.Matter
		if err := rows.Scan(&m.ID, &m.Title, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Documents ---

func (s *Store) InsertDocument(ctx context.Context, d storage.Document) error {
	if d.ID == "" {
		d.ID = newID()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, matter_id, filename, type, is_reference_material, status, blob_path, page_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.MatterID, d.Filename, d.Type, d.IsReferenceMaterial, d.Status, d.BlobPath, d.PageCount, d.CreatedAt.UTC())
	return err
}

func (s *Store) GetDocument(ctx context.Context, matterID, documentID string) (*storage.Document, error) {
	var d storage.Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, matter_id, filename, type, is_reference_material, status, blob_path, page_count, created_at, deleted_at
		FROM documents WHERE matter_id = $1 AND id = $2
	`, matterID, documentID).Scan(&d.ID, &d.MatterID, &d.Filename, &d.Type, &d.IsReferenceMaterial,
		&d.Status, &d.BlobPath, &d.PageCount, &d.CreatedAt, &d.DeletedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDocuments(ctx context.Context, matterID string) ([]storage.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, matter_id, filename, type, is_reference_material, status, blob_path, page_count, created_at, deleted_at
		FROM documents WHERE matter_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Document
	for rows.Next() {
		var d storage.Document
		if err := rows.Scan(&d.ID, &d.MatterID, &d.Filename, &d.Type, &d.IsReferenceMaterial,
			&d.Status, &d.BlobPath, &d.PageCount, &d.CreatedAt, &d.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, matterID, documentID string, status storage.DocumentStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1 WHERE matter_id = $2 AND id = $3`, status, matterID, documentID)
	return err
}

func (s *Store) SoftDeleteDocument(ctx context.Context, matterID, documentID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET deleted_at = $1 WHERE matter_id = $2 AND id = $3`, time.Now().UTC(), matterID, documentID)
	return err
}

// --- Chunks ---

func (s *Store) ReplaceChunks(ctx context.Context, matterID, documentID string, chunks []storage.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE matter_id = $1 AND document_id = $2`, matterID, documentID); err != nil {
		return err
	}
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = newID()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, matter_id, document_id, parent_chunk_id, chunk_index, content, token_count, page_number, bbox_ids, content_hash, content_type, content_tsv)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, to_tsvector('english', $6))
		`, c.ID, matterID, documentID, c.ParentChunkID, c.ChunkIndex, c.Content, c.TokenCount, c.PageNumber,
			marshalJSON(c.BBoxIDs), c.ContentHash, c.ContentType); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListChunks(ctx context.Context, matterID, documentID string) ([]storage.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, matter_id, document_id, parent_chunk_id, chunk_index, content, token_count, page_number, bbox_ids, content_hash, content_type
		FROM chunks WHERE matter_id = $1 AND document_id = $2 ORDER BY chunk_index
	`, matterID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Chunk
	for rows.Next() {
		var c storage.Chunk
		var bboxIDs, contentType *string
		if err := rows.Scan(&c.ID, &c.MatterID, &c.DocumentID, &c.ParentChunkID, &c.ChunkIndex, &c.Content,
			&c.TokenCount, &c.PageNumber, &bboxIDs, &c.ContentHash, &contentType); err != nil {
			return nil, err
		}
		c.BBoxIDs = unmarshalStrings(bboxIDs)
		if contentType != nil {
			c.ContentType = *contentType
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Bounding boxes ---

func (s *Store) InsertBoundingBoxes(ctx context.Context, matterID, documentID string, boxes []storage.BoundingBox) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, b := range boxes {
		if b.ID == "" {
			b.ID = newID()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO bounding_boxes (id, matter_id, document_id, page_number, text, confidence, reading_order_index, x, y, w, h)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, b.ID, matterID, documentID, b.PageNumber, b.Text, b.Confidence, b.ReadingOrderIndex, b.X, b.Y, b.W, b.H); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListBoundingBoxes(ctx context.Context, matterID, documentID string) ([]storage.BoundingBox, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, matter_id, document_id, page_number, text, confidence, reading_order_index, x, y, w, h
		FROM bounding_boxes WHERE matter_id = $1 AND document_id = $2 ORDER BY page_number, reading_order_index
	`, matterID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.BoundingBox
	for rows.Next() {
		var b storage.BoundingBox
		if err := rows.Scan(&b.ID, &b.MatterID, &b.DocumentID, &b.PageNumber, &b.Text,
			&b.Confidence, &b.ReadingOrderIndex, &b.X, &b.Y, &b.W, &b.H); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBoundingBoxText(ctx context.Context, matterID, bboxID, text string, confidence float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE bounding_boxes SET text = $1, confidence = $2 WHERE matter_id = $3 AND id = $4`,
		text, confidence, matterID, bboxID)
	return err
}

// --- Citations ---

func (s *Store) InsertCitations(ctx context.Context, matterID string, citations []storage.ExtractedCitation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, c := range citations {
		if c.ID == "" {
			c.ID = newID()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO citations (id, matter_id, act_name, canonical_act_name, section, subsection, clause,
				raw_text, quoted_text, confidence, status, source_document_id, source_chunk_id, page_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, c.ID, matterID, c.ActName, c.CanonicalActName, c.Section, c.Subsection, c.Clause, c.RawText,
			c.QuotedText, c.Confidence, c.Status, c.SourceDocumentID, c.SourceChunkID, c.PageNumber); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListCitationsByStatus(ctx context.Context, matterID string, status storage.VerificationStatus) ([]storage.ExtractedCitation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, matter_id, act_name, canonical_act_name, section, subsection, clause, raw_text, quoted_text,
			confidence, status, source_document_id, source_chunk_id, page_number, target_page, target_bbox_ids, similarity_score
		FROM citations WHERE matter_id = $1 AND status = $2
	`, matterID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCitations(rows)
}

func scanCitations(rows pgx.Rows) ([]storage.ExtractedCitation, error) {
	var out []storage.ExtractedCitation
	for rows.Next() {
		var c storage.ExtractedCitation
		var targetBBoxIDs *string
		if err := rows.Scan(&c.ID, &c.MatterID, &c.ActName, &c.CanonicalActName, &c.Section, &c.Subsection,
			&c.Clause, &c.RawText, &c.QuotedText, &c.Confidence, &c.Status, &c.SourceDocumentID,
			&c.SourceChunkID, &c.PageNumber, &c.TargetPage, &targetBBoxIDs, &c.SimilarityScore); err != nil {
			return nil, err
		}
		c.TargetBBoxIDs = unmarshalStrings(targetBBoxIDs)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCitationVerification(ctx context.Context, matterID, citationID string, status storage.VerificationStatus, targetPage *int, targetBBoxIDs []string, similarity float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE citations SET status = $1, target_page = $2, target_bbox_ids = $3, similarity_score = $4
		WHERE matter_id = $5 AND id = $6
	`, status, targetPage, marshalJSON(targetBBoxIDs), similarity, matterID, citationID)
	return err
}

func (s *Store) TransitionActCitations(ctx context.Context, matterID, actNameNormalized string, from, to storage.VerificationStatus) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE citations SET status = $1
		WHERE matter_id = $2 AND status = $3 AND LOWER(canonical_act_name) = LOWER($4)
	`, to, matterID, from, actNameNormalized)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Act resolutions ---

func (s *Store) UpsertActResolution(ctx context.Context, r storage.ActResolution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO act_resolutions (matter_id, act_name_normalized, act_name_display, act_document_id, resolution_status, user_action, citation_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (matter_id, act_name_normalized) DO UPDATE SET
			act_name_display = excluded.act_name_display,
			act_document_id = excluded.act_document_id,
			resolution_status = excluded.resolution_status,
			user_action = excluded.user_action,
			citation_count = excluded.citation_count
	`, r.MatterID, r.ActNameNormalized, r.ActNameDisplay, r.ActDocumentID, r.ResolutionStatus, r.UserAction, r.CitationCount)
	return err
}

func (s *Store) ListActResolutions(ctx context.Context, matterID string) ([]storage.ActResolution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT matter_id, act_name_normalized, act_name_display, act_document_id, resolution_status, user_action, citation_count
		FROM act_resolutions WHERE matter_id = $1
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.ActResolution
	for rows.Next() {
		var r storage.ActResolution
		if err := rows.Scan(&r.MatterID, &r.ActNameNormalized, &r.ActNameDisplay, &r.ActDocumentID,
			&r.ResolutionStatus, &r.UserAction, &r.CitationCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Entities ---

func (s *Store) FindEntity(ctx context.Context, matterID, canonicalName string, entityType storage.EntityType) (*storage.Entity, error) {
	var e storage.Entity
	var aliases, metadata *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, matter_id, canonical_name, entity_type, aliases, metadata, mention_count
		FROM entities WHERE matter_id = $1 AND canonical_name = $2 AND entity_type = $3
	`, matterID, canonicalName, entityType).Scan(&e.ID, &e.MatterID, &e.CanonicalName, &e.EntityType,
		&aliases, &metadata, &e.MentionCount)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Aliases = unmarshalStrings(aliases)
	e.Metadata = unmarshalMap(metadata)
	return &e, nil
}

func (s *Store) InsertEntity(ctx context.Context, e storage.Entity) (string, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entities (id, matter_id, canonical_name, entity_type, aliases, metadata, mention_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.MatterID, e.CanonicalName, e.EntityType, marshalJSON(e.Aliases), marshalJSON(e.Metadata), e.MentionCount)
	return e.ID, err
}

func (s *Store) UpdateEntity(ctx context.Context, e storage.Entity) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE entities SET aliases = $1, metadata = $2, mention_count = $3 WHERE matter_id = $4 AND id = $5`,
		marshalJSON(e.Aliases), marshalJSON(e.Metadata), e.MentionCount, e.MatterID, e.ID)
	return err
}

func (s *Store) InsertEntityMention(ctx context.Context, m storage.EntityMention) error {
	if m.ID == "" {
		m.ID = newID()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_mentions (id, matter_id, entity_id, chunk_id, page_number, bbox_ids, raw_text, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.MatterID, m.EntityID, m.ChunkID, m.PageNumber, marshalJSON(m.BBoxIDs), m.RawText, m.Context)
	return err
}

func (s *Store) InsertRelationship(ctx context.Context, r storage.EntityRelationship) error {
	if r.ID == "" {
		r.ID = newID()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relationships (id, matter_id, source_entity_id, target_entity_id, relation_type, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.MatterID, r.SourceEntityID, r.TargetEntityID, r.RelationType, r.Confidence)
	return err
}

func (s *Store) ListEntities(ctx context.Context, matterID string) ([]storage.Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, matter_id, canonical_name, entity_type, aliases, metadata, mention_count
		FROM entities WHERE matter_id = $1 ORDER BY mention_count DESC
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Entity
	for rows.Next() {
		var e storage.Entity
		var aliases, metadata *string
		if err := rows.Scan(&e.ID, &e.MatterID, &e.CanonicalName, &e.EntityType, &aliases, &metadata, &e.MentionCount); err != nil {
			return nil, err
		}
		e.Aliases = unmarshalStrings(aliases)
		e.Metadata = unmarshalMap(metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListRelationships(ctx context.Context, matterID string) ([]storage.EntityRelationship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, matter_id, source_entity_id, target_entity_id, relation_type, confidence
		FROM relationships WHERE matter_id = $1
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.EntityRelationship
	for rows.Next() {
		var r storage.EntityRelationship
		if err := rows.Scan(&r.ID, &r.MatterID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationType, &r.Confidence); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Timeline ---

func (s *Store) InsertTimelineEvents(ctx context.Context, matterID string, events []storage.TimelineEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, e := range events {
		if e.ID == "" {
			e.ID = newID()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO timeline_events (id, matter_id, event_date, event_date_precision, event_date_text, event_type,
				description, confidence, source_page, source_bbox_ids, is_manual, is_ambiguous, ambiguity_reason, entities_involved)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, e.ID, matterID, e.EventDate.UTC(), e.EventDatePrecision, e.EventDateText, e.EventType, e.Description,
			e.Confidence, e.SourcePage, marshalJSON(e.SourceBBoxIDs), e.IsManual, e.IsAmbiguous,
			e.AmbiguityReason, marshalJSON(e.EntitiesInvolved)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListTimelineEvents(ctx context.Context, matterID string) ([]storage.TimelineEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, matter_id, event_date, event_date_precision, event_date_text, event_type, description,
			confidence, source_page, source_bbox_ids, is_manual, is_ambiguous, ambiguity_reason, entities_involved
		FROM timeline_events WHERE matter_id = $1 ORDER BY event_date
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.TimelineEvent
	for rows.Next() {
		var e storage.TimelineEvent
		var sourceBBoxIDs, entitiesInvolved *string
		if err := rows.Scan(&e.ID, &e.MatterID, &e.EventDate, &e.EventDatePrecision, &e.EventDateText, &e.EventType,
			&e.Description, &e.Confidence, &e.SourcePage, &sourceBBoxIDs, &e.IsManual, &e.IsAmbiguous,
			&e.AmbiguityReason, &entitiesInvolved); err != nil {
			return nil, err
		}
		e.SourceBBoxIDs = unmarshalStrings(sourceBBoxIDs)
		e.EntitiesInvolved = unmarshalStrings(entitiesInvolved)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Statements & contradictions ---

func (s *Store) InsertStatements(ctx context.Context, matterID string, statements []storage.Statement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, st := range statements {
		if st.ID == "" {
			st.ID = newID()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO statements (id, matter_id, entity_id, subject, assertion, amount, date_start, date_end, source_chunk_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, st.ID, matterID, st.EntityID, st.Subject, st.Assertion, st.Amount, st.DateStart, st.DateEnd, st.SourceChunkID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListStatements(ctx context.Context, matterID string) ([]storage.Statement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, matter_id, entity_id, subject, assertion, amount, date_start, date_end, source_chunk_id
		FROM statements WHERE matter_id = $1
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Statement
	for rows.Next() {
		var st storage.Statement
		if err := rows.Scan(&st.ID, &st.MatterID, &st.EntityID, &st.Subject, &st.Assertion, &st.Amount,
			&st.DateStart, &st.DateEnd, &st.SourceChunkID); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) InsertContradictions(ctx context.Context, matterID string, contradictions []storage.Contradiction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, c := range contradictions {
		if c.ID == "" {
			c.ID = newID()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO contradictions (id, matter_id, statement_a_id, statement_b_id, severity, summary)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.ID, matterID, c.StatementAID, c.StatementBID, c.Severity, c.Summary); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// --- Finding verifications ---

func (s *Store) CreateFindingVerification(ctx context.Context, v storage.FindingVerification) (string, error) {
	if v.ID == "" {
		v.ID = newID()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO finding_verifications (id, matter_id, finding_id, finding_type, finding_summary, confidence_before, requirement, decision, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, v.ID, v.MatterID, v.FindingID, v.FindingType, v.FindingSummary, v.ConfidenceBefore, v.Requirement, v.Decision, v.CreatedAt.UTC())
	return v.ID, err
}

func (s *Store) RecordVerificationDecision(ctx context.Context, matterID, verificationID string, decision storage.VerificationDecision, confidenceAfter *float64, verifiedBy, notes string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE finding_verifications
		SET decision = $1, confidence_after = $2, verified_by = $3, verified_at = $4, notes = $5
		WHERE matter_id = $6 AND id = $7
	`, decision, confidenceAfter, verifiedBy, time.Now().UTC(), notes, matterID, verificationID)
	return err
}

func (s *Store) ListPendingVerifications(ctx context.Context, matterID string) ([]storage.FindingVerification, error) {
	return s.listVerificationsWhere(ctx, matterID, "decision = $2", storage.DecisionPending)
}

func (s *Store) ListVerifications(ctx context.Context, matterID string, ids []string) ([]storage.FindingVerification, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, matter_id, finding_id, finding_type, finding_summary, confidence_before, requirement,
			decision, verified_by, verified_at, confidence_after, notes, created_at
		FROM finding_verifications WHERE matter_id = $1 AND id = ANY($2)
	`, matterID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVerifications(rows)
}

func (s *Store) ListAllVerifications(ctx context.Context, matterID string) ([]storage.FindingVerification, error) {
	return s.listVerificationsWhere(ctx, matterID, "TRUE")
}

func (s *Store) listVerificationsWhere(ctx context.Context, matterID, cond string, args ...any) ([]storage.FindingVerification, error) {
	q := fmt.Sprintf(`
		SELECT id, matter_id, finding_id, finding_type, finding_summary, confidence_before, requirement,
			decision, verified_by, verified_at, confidence_after, notes, created_at
		FROM finding_verifications WHERE matter_id = $1 AND %s ORDER BY confidence_before ASC, created_at ASC
	`, cond)
	rows, err := s.pool.Query(ctx, q, append([]any{matterID}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVerifications(rows)
}

func scanVerifications(rows pgx.Rows) ([]storage.FindingVerification, error) {
	var out []storage.FindingVerification
	for rows.Next() {
		var v storage.FindingVerification
		if err := rows.Scan(&v.ID, &v.MatterID, &v.FindingID, &v.FindingType, &v.FindingSummary, &v.ConfidenceBefore,
			&v.Requirement, &v.Decision, &v.VerifiedBy, &v.VerifiedAt, &v.ConfidenceAfter, &v.Notes, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Jobs ---

func (s *Store) CreateJob(ctx context.Context, j storage.Job) (string, error) {
	if j.ID == "" {
		j.ID = newID()
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, matter_id, type, status, current_stage, total_stages, completed_stages, progress_pct, retry_count, max_retries, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, $7, '', $8, $8)
	`, j.ID, j.MatterID, j.Type, j.Status, j.CurrentStage, j.TotalStages, j.MaxRetries, now)
	return j.ID, err
}

func (s *Store) GetJob(ctx context.Context, matterID, jobID string) (*storage.Job, error) {
	var j storage.Job
	err := s.pool.QueryRow(ctx, `
		SELECT id, matter_id, type, status, current_stage, total_stages, completed_stages, progress_pct,
			retry_count, max_retries, error_message, created_at, updated_at
		FROM jobs WHERE matter_id = $1 AND id = $2
	`, matterID, jobID).Scan(&j.ID, &j.MatterID, &j.Type, &j.Status, &j.CurrentStage, &j.TotalStages,
		&j.CompletedStages, &j.ProgressPct, &j.RetryCount, &j.MaxRetries, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, matterID, jobID string, status storage.JobStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, updated_at = $3 WHERE matter_id = $4 AND id = $5`,
		status, errMsg, time.Now().UTC(), matterID, jobID)
	return err
}

func (s *Store) AppendStageHistory(ctx context.Context, entry storage.StageHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stage_history (id, job_id, stage, status, message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.JobID, entry.Stage, entry.Status, entry.Message, entry.Timestamp)
	return err
}

// --- Query history ---

func (s *Store) AppendQueryHistory(ctx context.Context, entry storage.QueryHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO query_history (id, matter_id, user_id, query, engines_used, confidence, prompt_tokens, completion_tokens, attorney_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.MatterID, entry.UserID, entry.Query, marshalJSON(entry.EnginesUsed), entry.Confidence,
		entry.PromptTokens, entry.CompletionTokens, entry.AttorneyVerified, entry.CreatedAt)
	return err
}

func (s *Store) ListQueryHistory(ctx context.Context, matterID string, limit int) ([]storage.QueryHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, matter_id, user_id, query, engines_used, confidence, prompt_tokens, completion_tokens, attorney_verified, created_at
		FROM query_history WHERE matter_id = $1 ORDER BY created_at DESC LIMIT $2
	`, matterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.QueryHistoryEntry
	for rows.Next() {
		var e storage.QueryHistoryEntry
		var enginesUsed *string
		if err := rows.Scan(&e.ID, &e.MatterID, &e.UserID, &e.Query, &enginesUsed, &e.Confidence,
			&e.PromptTokens, &e.CompletionTokens, &e.AttorneyVerified, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EnginesUsed = unmarshalStrings(enginesUsed)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkQueryVerified(ctx context.Context, matterID, queryID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE query_history SET attorney_verified = TRUE WHERE matter_id = $1 AND id = $2`, matterID, queryID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- Search index ---

func (s *Store) InsertEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	vals := make([]float64, len(embedding))
	for i, f := range embedding {
		vals[i] = float64(f)
	}
	_, err := s.pool.Exec(ctx, `UPDATE chunks SET embedding = $1 WHERE id = $2`, vals, chunkID)
	return err
}

// VectorSearch ranks chunks by cosine similarity computed in SQL over the
// float8[] embedding column, ordered by the computed score descending.
func (s *Store) VectorSearch(ctx context.Context, matterID string, vector []float32, k int) ([]storage.RetrievalResult, error) {
	vals := make([]float64, len(vector))
	for i, f := range vector {
		vals[i] = float64(f)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.content, c.document_id, d.filename, c.page_number,
			(SELECT SUM(a*b) FROM UNNEST(c.embedding, $2::float8[]) AS t(a,b)) /
			NULLIF(sqrt((SELECT SUM(a*a) FROM UNNEST(c.embedding) AS t(a))) *
				sqrt((SELECT SUM(b*b) FROM UNNEST($2::float8[]) AS t(b))), 0) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.matter_id = $1 AND c.embedding IS NOT NULL
		ORDER BY score DESC NULLS LAST
		LIMIT $3
	`, matterID, vals, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.RetrievalResult
	for rows.Next() {
		var r storage.RetrievalResult
		var score *float64
		if err := rows.Scan(&r.ChunkID, &r.Content, &r.DocumentID, &r.Filename, &r.PageNumber, &score); err != nil {
			return nil, err
		}
		if score != nil {
			r.Score = *score
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BM25Search uses Postgres's native ts_rank over the content_tsv column
// maintained at insert time in ReplaceChunks.
func (s *Store) BM25Search(ctx context.Context, matterID, query string, k int) ([]storage.RetrievalResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.content, c.document_id, d.filename, c.page_number,
			ts_rank(c.content_tsv, plainto_tsquery('english', $2)) AS rank
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.matter_id = $1 AND c.content_tsv @@ plainto_tsquery('english', $2)
		ORDER BY rank DESC
		LIMIT $3
	`, matterID, query, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.RetrievalResult
	for rows.Next() {
		var r storage.RetrievalResult
		if err := rows.Scan(&r.ChunkID, &r.Content, &r.DocumentID, &r.Filename, &r.PageNumber, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var (
	_ storage.MetaStore   = (*Store)(nil)
	_ storage.SearchIndex = (*Store)(nil)
)
