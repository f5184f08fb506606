// Package verification implements the confidence-tiered finding
// verification workflow (C16): creating verification records, recording
// attorney decisions, listing pending work, aggregate export-readiness
// stats, and bounded bulk updates.
//
// Grounded on the teacher's reasoning.Engine confidence-scoring idiom
// (reasoning/engine.go computes and thresholds a confidence score before
// surfacing a result) generalized into a persisted, attorney-reviewable
// decision record, since the teacher never persists or revisits its own
// confidence judgments.
package verification

import (
	"context"
	"sort"
	"time"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/storage"
)

const bulkUpdateLimit = 100

// Create builds a new FindingVerification record, deriving its tier from
// confidence_before via storage.VerificationRequirementFor, and persists it.
func Create(ctx context.Context, meta storage.MetaStore, matterID, findingID, findingType, summary string, confidenceBefore float64) (*storage.FindingVerification, error) {
	fv := storage.FindingVerification{
		MatterID:         matterID,
		FindingID:        findingID,
		FindingType:      findingType,
		FindingSummary:   truncate(summary, 500),
		ConfidenceBefore: confidenceBefore,
		Requirement:      storage.VerificationRequirementFor(confidenceBefore),
		Decision:         storage.DecisionPending,
		CreatedAt:        time.Now(),
	}
	id, err := meta.CreateFindingVerification(ctx, fv)
	if err != nil {
		return nil, err
	}
	fv.ID = id
	return &fv, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// RecordDecision applies an attorney's decision to an existing record.
func RecordDecision(ctx context.Context, meta storage.MetaStore, matterID, verificationID string, decision storage.VerificationDecision, verifiedBy string, confidenceAfter *float64, notes string) error {
	return meta.RecordVerificationDecision(ctx, matterID, verificationID, decision, confidenceAfter, verifiedBy, notes)
}

// ListPending returns pending verifications sorted ascending by
// confidence, then by created_at.
func ListPending(ctx context.Context, meta storage.MetaStore, matterID string) ([]storage.FindingVerification, error) {
	all, err := meta.ListPendingVerifications(ctx, matterID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].ConfidenceBefore != all[j].ConfidenceBefore {
			return all[i].ConfidenceBefore < all[j].ConfidenceBefore
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all, nil
}

// Stats aggregates verification status for a matter.
type Stats struct {
	Total           int
	Pending         int
	Approved        int
	Rejected        int
	Flagged         int
	RequiredPending int
	ExportBlocked   bool
}

// AggregateStats computes Stats over all of a matter's verification
// records. ExportBlocked is true iff any REQUIRED verification is still
// pending.
func AggregateStats(ctx context.Context, meta storage.MetaStore, matterID string) (Stats, error) {
	all, err := meta.ListAllVerifications(ctx, matterID)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, fv := range all {
		s.Total++
		switch fv.Decision {
		case storage.DecisionPending:
			s.Pending++
			if fv.Requirement == storage.RequirementRequired {
				s.RequiredPending++
			}
		case storage.DecisionApproved:
			s.Approved++
		case storage.DecisionRejected:
			s.Rejected++
		case storage.DecisionFlagged:
			s.Flagged++
		}
	}
	s.ExportBlocked = s.RequiredPending > 0
	return s, nil
}

// BulkUpdate applies the same decision to up to 100 verification IDs in
// one call; more than that is rejected outright with BULK_LIMIT_EXCEEDED
// before any record is touched.
func BulkUpdate(ctx context.Context, meta storage.MetaStore, matterID string, ids []string, decision storage.VerificationDecision, verifiedBy string) error {
	if len(ids) > bulkUpdateLimit {
		return apperr.New(apperr.BulkLimitExceeded, "bulk update exceeds 100 ids").WithRetryable(false)
	}
	for _, id := range ids {
		if err := meta.RecordVerificationDecision(ctx, matterID, id, decision, nil, verifiedBy, ""); err != nil {
			return err
		}
	}
	return nil
}
