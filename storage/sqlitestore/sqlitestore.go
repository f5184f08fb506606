// Package sqlitestore implements storage.MetaStore and storage.SearchIndex
// over SQLite, for single-node and development deployments.
//
// Grounded directly on store/store.go: sqlite-vec for dense KNN
// (vec0 virtual table, the same serializeFloat32 wire format) and FTS5
// with porter/unicode61 tokenization and sync triggers for lexical
// search, the same db.Exec/QueryContext/inTx idioms, and the same
// connection-pool tuning (4 open / 2 idle / 30 minute lifetime). The
// schema is regenerated matter-scoped: every table the teacher's
// single-tenant schema had gains a matter_id column and every query gains
// a matter_id predicate, and the ID space moves from autoincrement
// integers to caller-supplied UUID strings (MetaStore's contract hands
// back string IDs everywhere).
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/ldip/storage"
)

func init() {
	sqlite_vec.Auto()
}

// Store implements storage.MetaStore and storage.SearchIndex over a
// matter-scoped SQLite schema.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

func Open(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: pinging database: %w", err)
	}
	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db, embeddingDim: embeddingDim}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func newID() string { return uuid.NewString() }

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

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

func unmarshalStrings(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw.String), &out)
	return out
}

func unmarshalMap(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out map[string]string
	_ = json.Unmarshal([]byte(raw.String), &out)
	return out
}

func nullableInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// --- Matters ---

func (s *Store) GetMatter(ctx context.Context, matterID string) (*storage.Matter, error) {
	var m storage.Matter
	err := s.db.QueryRowContext(ctx, `SELECT id, title, created_at FROM matters WHERE id = ?`, matterID).
		Scan(&m.ID, &m.Title, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) IsMember(ctx context.Context, matterID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matter_members WHERE matter_id = ? AND user_id = ?`, matterID, userID).Scan(&count)
	return count > 0, err
}

func (s *Store) ListAccessibleMatters(ctx context.Context, userID string) ([]storage.Matter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.title, m.created_at
		FROM matters m
		JOIN matter_members mm ON mm.matter_id = m.id
		WHERE mm.user_id = ?
		ORDER BY m.created_at DESC
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, matter_id, filename, type, is_reference_material, status, blob_path, page_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.MatterID, d.Filename, d.Type, d.IsReferenceMaterial, d.Status, d.BlobPath, d.PageCount, d.CreatedAt.UTC())
	return err
}

func (s *Store) GetDocument(ctx context.Context, matterID, documentID string) (*storage.Document, error) {
	var d storage.Document
	var deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, matter_id, filename, type, is_reference_material, status, blob_path, page_count, created_at, deleted_at
		FROM documents WHERE matter_id = ? AND id = ?
	`, matterID, documentID).Scan(&d.ID, &d.MatterID, &d.Filename, &d.Type, &d.IsReferenceMaterial,
		&d.Status, &d.BlobPath, &d.PageCount, &d.CreatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		d.DeletedAt = &deletedAt.Time
	}
	return &d, nil
}

func (s *Store) ListDocuments(ctx context.Context, matterID string) ([]storage.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, filename, type, is_reference_material, status, blob_path, page_count, created_at, deleted_at
		FROM documents WHERE matter_id = ? AND deleted_at IS NULL ORDER BY created_at DESC
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Document
	for rows.Next() {
		var d storage.Document
		var deletedAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.MatterID, &d.Filename, &d.Type, &d.IsReferenceMaterial,
			&d.Status, &d.BlobPath, &d.PageCount, &d.CreatedAt, &deletedAt); err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			d.DeletedAt = &deletedAt.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, matterID, documentID string, status storage.DocumentStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE matter_id = ? AND id = ?`, status, matterID, documentID)
	return err
}

// SoftDeleteDocument marks a document deleted without removing it or its
// chunks; export and retrieval paths filter on deleted_at IS NULL.
func (s *Store) SoftDeleteDocument(ctx context.Context, matterID, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET deleted_at = ? WHERE matter_id = ? AND id = ?`, time.Now().UTC(), matterID, documentID)
	return err
}

// --- Chunks ---

// ReplaceChunks deletes every existing chunk (and its vector/FTS rows) for
// a document, then inserts the replacement set in one transaction, so a
// re-ingest never leaves stale and fresh chunks both searchable at once.
func (s *Store) ReplaceChunks(ctx context.Context, matterID, documentID string, chunks []storage.Chunk) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE matter_id = ? AND document_id = ?)
		`, matterID, documentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE matter_id = ? AND document_id = ?`, matterID, documentID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, matter_id, document_id, parent_chunk_id, chunk_index, content, token_count, page_number, bbox_ids, content_hash, content_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			if c.ID == "" {
				c.ID = newID()
			}
			if _, err := stmt.ExecContext(ctx, c.ID, matterID, documentID, nullableString(c.ParentChunkID),
				c.ChunkIndex, c.Content, c.TokenCount, nullableInt(c.PageNumber), marshalJSON(c.BBoxIDs), c.ContentHash, c.ContentType); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListChunks(ctx context.Context, matterID, documentID string) ([]storage.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, document_id, parent_chunk_id, chunk_index, content, token_count, page_number, bbox_ids, content_hash, content_type
		FROM chunks WHERE matter_id = ? AND document_id = ? ORDER BY chunk_index
	`, matterID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Chunk
	for rows.Next() {
		var c storage.Chunk
		var parentID, bboxIDs, contentType sql.NullString
		var pageNumber sql.NullInt64
		if err := rows.Scan(&c.ID, &c.MatterID, &c.DocumentID, &parentID, &c.ChunkIndex, &c.Content,
			&c.TokenCount, &pageNumber, &bboxIDs, &c.ContentHash, &contentType); err != nil {
			return nil, err
		}
		if parentID.Valid {
			c.ParentChunkID = &parentID.String
		}
		if pageNumber.Valid {
			n := int(pageNumber.Int64)
			c.PageNumber = &n
		}
		c.BBoxIDs = unmarshalStrings(bboxIDs)
		if contentType.Valid {
			c.ContentType = contentType.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Bounding boxes ---

func (s *Store) InsertBoundingBoxes(ctx context.Context, matterID, documentID string, boxes []storage.BoundingBox) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO bounding_boxes (id, matter_id, document_id, page_number, text, confidence, reading_order_index, x, y, w, h)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, b := range boxes {
			if b.ID == "" {
				b.ID = newID()
			}
			if _, err := stmt.ExecContext(ctx, b.ID, matterID, documentID, b.PageNumber, b.Text,
				b.Confidence, b.ReadingOrderIndex, b.X, b.Y, b.W, b.H); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListBoundingBoxes(ctx context.Context, matterID, documentID string) ([]storage.BoundingBox, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, document_id, page_number, text, confidence, reading_order_index, x, y, w, h
		FROM bounding_boxes WHERE matter_id = ? AND document_id = ? ORDER BY page_number, reading_order_index
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
	_, err := s.db.ExecContext(ctx,
		`UPDATE bounding_boxes SET text = ?, confidence = ? WHERE matter_id = ? AND id = ?`,
		text, confidence, matterID, bboxID)
	return err
}

// --- Citations ---

func (s *Store) InsertCitations(ctx context.Context, matterID string, citations []storage.ExtractedCitation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO citations (id, matter_id, act_name, canonical_act_name, section, subsection, clause,
				raw_text, quoted_text, confidence, status, source_document_id, source_chunk_id, page_number)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range citations {
			if c.ID == "" {
				c.ID = newID()
			}
			if _, err := stmt.ExecContext(ctx, c.ID, matterID, c.ActName, c.CanonicalActName, c.Section,
				c.Subsection, c.Clause, c.RawText, c.QuotedText, c.Confidence, c.Status,
				c.SourceDocumentID, c.SourceChunkID, nullableInt(c.PageNumber)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListCitationsByStatus(ctx context.Context, matterID string, status storage.VerificationStatus) ([]storage.ExtractedCitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, act_name, canonical_act_name, section, subsection, clause, raw_text, quoted_text,
			confidence, status, source_document_id, source_chunk_id, page_number, target_page, target_bbox_ids, similarity_score
		FROM citations WHERE matter_id = ? AND status = ?
	`, matterID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCitations(rows)
}

func scanCitations(rows *sql.Rows) ([]storage.ExtractedCitation, error) {
	var out []storage.ExtractedCitation
	for rows.Next() {
		var c storage.ExtractedCitation
		var pageNumber, targetPage sql.NullInt64
		var targetBBoxIDs sql.NullString
		if err := rows.Scan(&c.ID, &c.MatterID, &c.ActName, &c.CanonicalActName, &c.Section, &c.Subsection,
			&c.Clause, &c.RawText, &c.QuotedText, &c.Confidence, &c.Status, &c.SourceDocumentID,
			&c.SourceChunkID, &pageNumber, &targetPage, &targetBBoxIDs, &c.SimilarityScore); err != nil {
			return nil, err
		}
		if pageNumber.Valid {
			n := int(pageNumber.Int64)
			c.PageNumber = &n
		}
		if targetPage.Valid {
			n := int(targetPage.Int64)
			c.TargetPage = &n
		}
		c.TargetBBoxIDs = unmarshalStrings(targetBBoxIDs)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCitationVerification(ctx context.Context, matterID, citationID string, status storage.VerificationStatus, targetPage *int, targetBBoxIDs []string, similarity float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE citations SET status = ?, target_page = ?, target_bbox_ids = ?, similarity_score = ?
		WHERE matter_id = ? AND id = ?
	`, status, nullableInt(targetPage), marshalJSON(targetBBoxIDs), similarity, matterID, citationID)
	return err
}

func (s *Store) TransitionActCitations(ctx context.Context, matterID, actNameNormalized string, from, to storage.VerificationStatus) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE citations SET status = ?
		WHERE matter_id = ? AND status = ? AND LOWER(canonical_act_name) = LOWER(?)
	`, to, matterID, from, actNameNormalized)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Act resolutions ---

func (s *Store) UpsertActResolution(ctx context.Context, r storage.ActResolution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO act_resolutions (matter_id, act_name_normalized, act_name_display, act_document_id, resolution_status, user_action, citation_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(matter_id, act_name_normalized) DO UPDATE SET
			act_name_display = excluded.act_name_display,
			act_document_id = excluded.act_document_id,
			resolution_status = excluded.resolution_status,
			user_action = excluded.user_action,
			citation_count = excluded.citation_count
	`, r.MatterID, r.ActNameNormalized, r.ActNameDisplay, nullableString(r.ActDocumentID),
		r.ResolutionStatus, r.UserAction, r.CitationCount)
	return err
}

func (s *Store) ListActResolutions(ctx context.Context, matterID string) ([]storage.ActResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT matter_id, act_name_normalized, act_name_display, act_document_id, resolution_status, user_action, citation_count
		FROM act_resolutions WHERE matter_id = ?
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.ActResolution
	for rows.Next() {
		var r storage.ActResolution
		var actDocID sql.NullString
		if err := rows.Scan(&r.MatterID, &r.ActNameNormalized, &r.ActNameDisplay, &actDocID,
			&r.ResolutionStatus, &r.UserAction, &r.CitationCount); err != nil {
			return nil, err
		}
		if actDocID.Valid {
			r.ActDocumentID = &actDocID.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Entities ---

func (s *Store) FindEntity(ctx context.Context, matterID, canonicalName string, entityType storage.EntityType) (*storage.Entity, error) {
	var e storage.Entity
	var aliases, metadata sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, matter_id, canonical_name, entity_type, aliases, metadata, mention_count
		FROM entities WHERE matter_id = ? AND canonical_name = ? AND entity_type = ?
	`, matterID, canonicalName, entityType).Scan(&e.ID, &e.MatterID, &e.CanonicalName, &e.EntityType,
		&aliases, &metadata, &e.MentionCount)
	if err == sql.ErrNoRows {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, matter_id, canonical_name, entity_type, aliases, metadata, mention_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.MatterID, e.CanonicalName, e.EntityType, marshalJSON(e.Aliases), marshalJSON(e.Metadata), e.MentionCount)
	return e.ID, err
}

func (s *Store) UpdateEntity(ctx context.Context, e storage.Entity) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE entities SET aliases = ?, metadata = ?, mention_count = ? WHERE matter_id = ? AND id = ?
	`, marshalJSON(e.Aliases), marshalJSON(e.Metadata), e.MentionCount, e.MatterID, e.ID)
	return err
}

func (s *Store) InsertEntityMention(ctx context.Context, m storage.EntityMention) error {
	if m.ID == "" {
		m.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_mentions (id, matter_id, entity_id, chunk_id, page_number, bbox_ids, raw_text, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.MatterID, m.EntityID, m.ChunkID, nullableInt(m.PageNumber), marshalJSON(m.BBoxIDs), m.RawText, m.Context)
	return err
}

func (s *Store) InsertRelationship(ctx context.Context, r storage.EntityRelationship) error {
	if r.ID == "" {
		r.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, matter_id, source_entity_id, target_entity_id, relation_type, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.MatterID, r.SourceEntityID, r.TargetEntityID, r.RelationType, r.Confidence)
	return err
}

func (s *Store) ListEntities(ctx context.Context, matterID string) ([]storage.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, canonical_name, entity_type, aliases, metadata, mention_count
		FROM entities WHERE matter_id = ? ORDER BY mention_count DESC
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Entity
	for rows.Next() {
		var e storage.Entity
		var aliases, metadata sql.NullString
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, source_entity_id, target_entity_id, relation_type, confidence
		FROM relationships WHERE matter_id = ?
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
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO timeline_events (id, matter_id, event_date, event_date_precision, event_date_text, event_type,
				description, confidence, source_page, source_bbox_ids, is_manual, is_ambiguous, ambiguity_reason, entities_involved)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range events {
			if e.ID == "" {
				e.ID = newID()
			}
			if _, err := stmt.ExecContext(ctx, e.ID, matterID, e.EventDate.UTC(), e.EventDatePrecision, e.EventDateText,
				e.EventType, e.Description, e.Confidence, nullableInt(e.SourcePage), marshalJSON(e.SourceBBoxIDs),
				e.IsManual, e.IsAmbiguous, e.AmbiguityReason, marshalJSON(e.EntitiesInvolved)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListTimelineEvents(ctx context.Context, matterID string) ([]storage.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, event_date, event_date_precision, event_date_text, event_type, description,
			confidence, source_page, source_bbox_ids, is_manual, is_ambiguous, ambiguity_reason, entities_involved
		FROM timeline_events WHERE matter_id = ? ORDER BY event_date
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.TimelineEvent
	for rows.Next() {
		var e storage.TimelineEvent
		var sourcePage sql.NullInt64
		var sourceBBoxIDs, entitiesInvolved sql.NullString
		if err := rows.Scan(&e.ID, &e.MatterID, &e.EventDate, &e.EventDatePrecision, &e.EventDateText, &e.EventType,
			&e.Description, &e.Confidence, &sourcePage, &sourceBBoxIDs, &e.IsManual, &e.IsAmbiguous,
			&e.AmbiguityReason, &entitiesInvolved); err != nil {
			return nil, err
		}
		if sourcePage.Valid {
			n := int(sourcePage.Int64)
			e.SourcePage = &n
		}
		e.SourceBBoxIDs = unmarshalStrings(sourceBBoxIDs)
		e.EntitiesInvolved = unmarshalStrings(entitiesInvolved)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Statements & contradictions ---

func (s *Store) InsertStatements(ctx context.Context, matterID string, statements []storage.Statement) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO statements (id, matter_id, entity_id, subject, assertion, amount, date_start, date_end, source_chunk_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, st := range statements {
			if st.ID == "" {
				st.ID = newID()
			}
			var amount any
			if st.Amount != nil {
				amount = *st.Amount
			}
			if _, err := stmt.ExecContext(ctx, st.ID, matterID, st.EntityID, st.Subject, st.Assertion, amount,
				nullableTime(st.DateStart), nullableTime(st.DateEnd), st.SourceChunkID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListStatements(ctx context.Context, matterID string) ([]storage.Statement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, entity_id, subject, assertion, amount, date_start, date_end, source_chunk_id
		FROM statements WHERE matter_id = ?
	`, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Statement
	for rows.Next() {
		var st storage.Statement
		var amount sql.NullFloat64
		var dateStart, dateEnd sql.NullTime
		if err := rows.Scan(&st.ID, &st.MatterID, &st.EntityID, &st.Subject, &st.Assertion, &amount,
			&dateStart, &dateEnd, &st.SourceChunkID); err != nil {
			return nil, err
		}
		if amount.Valid {
			st.Amount = &amount.Float64
		}
		if dateStart.Valid {
			st.DateStart = &dateStart.Time
		}
		if dateEnd.Valid {
			st.DateEnd = &dateEnd.Time
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) InsertContradictions(ctx context.Context, matterID string, contradictions []storage.Contradiction) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO contradictions (id, matter_id, statement_a_id, statement_b_id, severity, summary)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range contradictions {
			if c.ID == "" {
				c.ID = newID()
			}
			if _, err := stmt.ExecContext(ctx, c.ID, matterID, c.StatementAID, c.StatementBID, c.Severity, c.Summary); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Finding verifications ---

func (s *Store) CreateFindingVerification(ctx context.Context, v storage.FindingVerification) (string, error) {
	if v.ID == "" {
		v.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO finding_verifications (id, matter_id, finding_id, finding_type, finding_summary, confidence_before, requirement, decision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.MatterID, v.FindingID, v.FindingType, v.FindingSummary, v.ConfidenceBefore, v.Requirement, v.Decision, v.CreatedAt.UTC())
	return v.ID, err
}

func (s *Store) RecordVerificationDecision(ctx context.Context, matterID, verificationID string, decision storage.VerificationDecision, confidenceAfter *float64, verifiedBy, notes string) error {
	var confAfter any
	if confidenceAfter != nil {
		confAfter = *confidenceAfter
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE finding_verifications
		SET decision = ?, confidence_after = ?, verified_by = ?, verified_at = ?, notes = ?
		WHERE matter_id = ? AND id = ?
	`, decision, confAfter, verifiedBy, time.Now().UTC(), notes, matterID, verificationID)
	return err
}

func (s *Store) ListPendingVerifications(ctx context.Context, matterID string) ([]storage.FindingVerification, error) {
	return s.listVerificationsWhere(ctx, matterID, "decision = ?", storage.DecisionPending)
}

func (s *Store) ListVerifications(ctx context.Context, matterID string, ids []string) ([]storage.FindingVerification, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, matterID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, matter_id, finding_id, finding_type, finding_summary, confidence_before, requirement,
			decision, verified_by, verified_at, confidence_after, notes, created_at
		FROM finding_verifications WHERE matter_id = ? AND id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVerifications(rows)
}

func (s *Store) ListAllVerifications(ctx context.Context, matterID string) ([]storage.FindingVerification, error) {
	return s.listVerificationsWhere(ctx, matterID, "1 = 1")
}

func (s *Store) listVerificationsWhere(ctx context.Context, matterID, cond string, args ...any) ([]storage.FindingVerification, error) {
	q := fmt.Sprintf(`
		SELECT id, matter_id, finding_id, finding_type, finding_summary, confidence_before, requirement,
			decision, verified_by, verified_at, confidence_after, notes, created_at
		FROM finding_verifications WHERE matter_id = ? AND %s ORDER BY confidence_before ASC, created_at ASC
	`, cond)
	rows, err := s.db.QueryContext(ctx, q, append([]any{matterID}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVerifications(rows)
}

func scanVerifications(rows *sql.Rows) ([]storage.FindingVerification, error) {
	var out []storage.FindingVerification
	for rows.Next() {
		var v storage.FindingVerification
		var verifiedBy sql.NullString
		var verifiedAt sql.NullTime
		var confidenceAfter sql.NullFloat64
		if err := rows.Scan(&v.ID, &v.MatterID, &v.FindingID, &v.FindingType, &v.FindingSummary, &v.ConfidenceBefore,
			&v.Requirement, &v.Decision, &verifiedBy, &verifiedAt, &confidenceAfter, &v.Notes, &v.CreatedAt); err != nil {
			return nil, err
		}
		if verifiedBy.Valid {
			v.VerifiedBy = &verifiedBy.String
		}
		if verifiedAt.Valid {
			v.VerifiedAt = &verifiedAt.Time
		}
		if confidenceAfter.Valid {
			v.ConfidenceAfter = &confidenceAfter.Float64
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, matter_id, type, status, current_stage, total_stages, completed_stages, progress_pct, retry_count, max_retries, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?, '', ?, ?)
	`, j.ID, j.MatterID, j.Type, j.Status, j.CurrentStage, j.TotalStages, j.MaxRetries, now, now)
	return j.ID, err
}

func (s *Store) GetJob(ctx context.Context, matterID, jobID string) (*storage.Job, error) {
	var j storage.Job
	err := s.db.QueryRowContext(ctx, `
		SELECT id, matter_id, type, status, current_stage, total_stages, completed_stages, progress_pct,
			retry_count, max_retries, error_message, created_at, updated_at
		FROM jobs WHERE matter_id = ? AND id = ?
	`, matterID, jobID).Scan(&j.ID, &j.MatterID, &j.Type, &j.Status, &j.CurrentStage, &j.TotalStages,
		&j.CompletedStages, &j.ProgressPct, &j.RetryCount, &j.MaxRetries, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, matterID, jobID string, status storage.JobStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE matter_id = ? AND id = ?`,
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_history (id, job_id, stage, status, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_history (id, matter_id, user_id, query, engines_used, confidence, prompt_tokens, completion_tokens, attorney_verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.MatterID, entry.UserID, entry.Query, marshalJSON(entry.EnginesUsed), entry.Confidence,
		entry.PromptTokens, entry.CompletionTokens, entry.AttorneyVerified, entry.CreatedAt)
	return err
}

func (s *Store) ListQueryHistory(ctx context.Context, matterID string, limit int) ([]storage.QueryHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, user_id, query, engines_used, confidence, prompt_tokens, completion_tokens, attorney_verified, created_at
		FROM query_history WHERE matter_id = ? ORDER BY created_at DESC LIMIT ?
	`, matterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.QueryHistoryEntry
	for rows.Next() {
		var e storage.QueryHistoryEntry
		var enginesUsed sql.NullString
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE query_history SET attorney_verified = 1 WHERE matter_id = ? AND id = ?`, matterID, queryID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- Search index (storage.SearchIndex) ---

func (s *Store) InsertEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)`, chunkID, serializeFloat32(embedding))
	return err
}

// VectorSearch is the sqlite-vec KNN query, scoped to one matter by
// joining through chunks.matter_id since vec0 tables carry no tenant
// column of their own.
func (s *Store) VectorSearch(ctx context.Context, matterID string, vector []float32, k int) ([]storage.RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.distance, c.content, c.document_id, d.filename, c.page_number
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE v.embedding MATCH ? AND k = ? AND c.matter_id = ?
		ORDER BY v.distance
	`, serializeFloat32(vector), k, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.RetrievalResult
	for rows.Next() {
		var r storage.RetrievalResult
		var distance float64
		var pageNumber sql.NullInt64
		if err := rows.Scan(&r.ChunkID, &distance, &r.Content, &r.DocumentID, &r.Filename, &pageNumber); err != nil {
			return nil, err
		}
		if pageNumber.Valid {
			n := int(pageNumber.Int64)
			r.PageNumber = &n
		}
		r.Score = 1.0 - distance
		out = append(out, r)
	}
	return out, rows.Err()
}

// BM25Search is the FTS5 lexical query, same matter_id join as VectorSearch.
func (s *Store) BM25Search(ctx context.Context, matterID, query string, k int) ([]storage.RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, f.rank, c.content, c.document_id, d.filename, c.page_number
		FROM chunks_fts f
		JOIN chunks c ON c.rowid = f.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ? AND c.matter_id = ?
		ORDER BY f.rank
		LIMIT ?
	`, query, matterID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.RetrievalResult
	for rows.Next() {
		var r storage.RetrievalResult
		var rank float64
		var pageNumber sql.NullInt64
		var chunkID string
		if err := rows.Scan(&chunkID, &rank, &r.Content, &r.DocumentID, &r.Filename, &pageNumber); err != nil {
			return nil, err
		}
		r.ChunkID = chunkID
		if pageNumber.Valid {
			n := int(pageNumber.Int64)
			r.PageNumber = &n
		}
		r.Score = -rank
		out = append(out, r)
	}
	return out, rows.Err()
}

var (
	_ storage.MetaStore   = (*Store)(nil)
	_ storage.SearchIndex = (*Store)(nil)
)
