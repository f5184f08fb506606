package verification

import (
	"context"
	"testing"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/storage"
)

type fakeMeta struct {
	storage.MetaStore
	records map[string]*storage.FindingVerification
	seq     int
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{records: map[string]*storage.FindingVerification{}}
}

func (f *fakeMeta) CreateFindingVerification(ctx context.Context, v storage.FindingVerification) (string, error) {
	f.seq++
	id := string(rune('a' + f.seq - 1))
	v.ID = id
	f.records[id] = &v
	return id, nil
}

func (f *fakeMeta) RecordVerificationDecision(ctx context.Context, matterID, verificationID string, decision storage.VerificationDecision, confidenceAfter *float64, verifiedBy, notes string) error {
	r, ok := f.records[verificationID]
	if !ok {
		return nil
	}
	r.Decision = decision
	r.ConfidenceAfter = confidenceAfter
	r.Notes = notes
	return nil
}

func (f *fakeMeta) ListPendingVerifications(ctx context.Context, matterID string) ([]storage.FindingVerification, error) {
	var out []storage.FindingVerification
	for _, r := range f.records {
		if r.MatterID == matterID && r.Decision == storage.DecisionPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeMeta) ListAllVerifications(ctx context.Context, matterID string) ([]storage.FindingVerification, error) {
	var out []storage.FindingVerification
	for _, r := range f.records {
		if r.MatterID == matterID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func TestVerificationRequirementBoundaries(t *testing.T) {
	if got := storage.VerificationRequirementFor(70.0); got != storage.RequirementSuggested {
		t.Fatalf("expected SUGGESTED at exactly 70.0, got %s", got)
	}
	if got := storage.VerificationRequirementFor(90.0); got != storage.RequirementOptional {
		t.Fatalf("expected OPTIONAL at exactly 90.0, got %s", got)
	}
	if got := storage.VerificationRequirementFor(69.9); got != storage.RequirementRequired {
		t.Fatalf("expected REQUIRED below 70, got %s", got)
	}
}

func TestVerificationGatingScenario(t *testing.T) {
	meta := newFakeMeta()
	ctx := context.Background()

	f1, err := Create(ctx, meta, "m1", "find-1", "citation_mismatch", "low confidence finding", 65)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Create(ctx, meta, "m1", "find-2", "timeline_gap", "medium confidence finding", 80); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Create(ctx, meta, "m1", "find-3", "contradiction", "high confidence finding", 95); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	statsBefore, err := AggregateStats(ctx, meta, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if statsBefore.Pending != 3 || !statsBefore.ExportBlocked {
		t.Fatalf("expected 3 pending and export blocked before decisions, got %+v", statsBefore)
	}
	if statsBefore.RequiredPending != 1 {
		t.Fatalf("expected exactly 1 REQUIRED pending (the 65-confidence item), got %d", statsBefore.RequiredPending)
	}

	if err := RecordDecision(ctx, meta, "m1", f1.ID, storage.DecisionApproved, "attorney-1", nil, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	statsAfter, err := AggregateStats(ctx, meta, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if statsAfter.ExportBlocked {
		t.Fatalf("expected export unblocked after approving the REQUIRED item, got %+v", statsAfter)
	}
}

func TestBulkUpdateRejectsOverLimit(t *testing.T) {
	meta := newFakeMeta()
	ids := make([]string, 101)
	for i := range ids {
		ids[i] = "id"
	}
	err := BulkUpdate(context.Background(), meta, "m1", ids, storage.DecisionApproved, "attorney-1")
	if apperr.KindOf(err) != apperr.BulkLimitExceeded {
		t.Fatalf("expected BULK_LIMIT_EXCEEDED, got %v", err)
	}
}

func TestListPendingSortsByConfidenceThenCreatedAt(t *testing.T) {
	meta := newFakeMeta()
	ctx := context.Background()
	_, _ = Create(ctx, meta, "m1", "f1", "t", "s", 80)
	_, _ = Create(ctx, meta, "m1", "f2", "t", "s", 50)
	_, _ = Create(ctx, meta, "m1", "f3", "t", "s", 65)

	pending, err := ListPending(ctx, meta, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	if pending[0].ConfidenceBefore != 50 || pending[2].ConfidenceBefore != 80 {
		t.Fatalf("expected ascending confidence order, got %+v", pending)
	}
}
