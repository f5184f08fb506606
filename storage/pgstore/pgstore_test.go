package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/brunobiangulo/ldip/storage"
)

// These tests exercise a real Postgres instance and are skipped unless
// PGSTORE_TEST_DSN is set, since the pack carries no embedded Postgres
// fake analogous to miniredis for KV.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PGSTORE_TEST_DSN")
	if dsn == "" {
		t.Skip("PGSTORE_TEST_DSN not set, skipping pgstore integration test")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.pool.Exec(ctx, `INSERT INTO matters (id, title) VALUES ('m1', 'Smith v. Jones') ON CONFLICT DO NOTHING`); err != nil {
		t.Fatalf("seeding matter: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO matter_members (matter_id, user_id) VALUES ('m1', 'u1') ON CONFLICT DO NOTHING`); err != nil {
		t.Fatalf("seeding membership: %v", err)
	}
	return s
}

func TestGetMatterAndMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.GetMatter(ctx, "m1")
	if err != nil || m == nil {
		t.Fatalf("expected matter m1, err=%v", err)
	}

	ok, err := s.IsMember(ctx, "m1", "u1")
	if err != nil || !ok {
		t.Fatalf("expected u1 to be a member, err=%v", err)
	}
}

func TestDocumentAndChunkLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := storage.Document{ID: "pd1", MatterID: "m1", Filename: "lease.pdf", Type: storage.DocumentCaseFile,
		Status: storage.DocumentPending, BlobPath: "x", CreatedAt: time.Now()}
	if err := s.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("inserting document: %v", err)
	}

	if err := s.ReplaceChunks(ctx, "m1", "pd1", []storage.Chunk{
		{ID: "pc1", MatterID: "m1", DocumentID: "pd1", ChunkIndex: 0, Content: "the lease term is five years"},
	}); err != nil {
		t.Fatalf("replacing chunks: %v", err)
	}

	results, err := s.BM25Search(ctx, "m1", "lease term", 5)
	if err != nil {
		t.Fatalf("bm25 search: %v", err)
	}
	if len(results) == 0 || results[0].ChunkID != "pc1" {
		t.Fatalf("expected pc1 to be found, got %+v", results)
	}
}

func TestFindingVerificationWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateFindingVerification(ctx, storage.FindingVerification{
		MatterID: "m1", FindingID: "f1", FindingType: "timeline_event", FindingSummary: "contract signed",
		ConfidenceBefore: 40, Requirement: storage.RequirementRequired, Decision: storage.DecisionPending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("creating verification: %v", err)
	}

	confAfter := 0.9
	if err := s.RecordVerificationDecision(ctx, "m1", id, storage.DecisionApproved, &confAfter, "attorney-1", "ok"); err != nil {
		t.Fatalf("recording decision: %v", err)
	}

	all, err := s.ListAllVerifications(ctx, "m1")
	if err != nil || len(all) == 0 {
		t.Fatalf("expected at least one verification, got %d, err=%v", len(all), err)
	}
}
