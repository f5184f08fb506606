package entitygraph

import (
	"fmt"

	"github.com/brunobiangulo/ldip/storage"
)

// DetectContradictions scans statements pairwise for the same subject
// with overlapping date ranges but differing amount/assertion, flagging
// each such pair with a severity.
//
// Supplemented from original_source's core/data_quality.py, whose
// pairwise-overlap scan is not named anywhere in spec.md's distilled
// data model (Contradiction/Statement there is described only as
// "optional entity-linked assertions... pairs... flagged... with
// severity", without the matching algorithm) — this is the algorithm
// the original actually runs, re-expressed as a pure function.
func DetectContradictions(matterID string, statements []storage.Statement) []storage.Contradiction {
	var out []storage.Contradiction
	for i := 0; i < len(statements); i++ {
		for j := i + 1; j < len(statements); j++ {
			a, b := statements[i], statements[j]
			if a.Subject == "" || a.Subject != b.Subject {
				continue
			}
			if !datesOverlap(a, b) {
				continue
			}
			if !differs(a, b) {
				continue
			}
			out = append(out, storage.Contradiction{
				MatterID:     matterID,
				StatementAID: a.ID,
				StatementBID: b.ID,
				Severity:     severityFor(a, b),
				Summary:      fmt.Sprintf("%q vs %q on %q", a.Assertion, b.Assertion, a.Subject),
			})
		}
	}
	return out
}

func datesOverlap(a, b storage.Statement) bool {
	if a.DateStart == nil || a.DateEnd == nil || b.DateStart == nil || b.DateEnd == nil {
		return false
	}
	return !a.DateEnd.Before(*b.DateStart) && !b.DateEnd.Before(*a.DateStart)
}

func differs(a, b storage.Statement) bool {
	if a.Assertion != b.Assertion {
		return true
	}
	if a.Amount != nil && b.Amount != nil && *a.Amount != *b.Amount {
		return true
	}
	return false
}

// severityFor ranks a contradiction by how large the amount discrepancy
// is, falling back to "medium" when either statement carries no amount.
func severityFor(a, b storage.Statement) storage.ContradictionSeverity {
	if a.Amount == nil || b.Amount == nil {
		return storage.SeverityMedium
	}
	diff := *a.Amount - *b.Amount
	if diff < 0 {
		diff = -diff
	}
	base := *a.Amount
	if base == 0 {
		base = *b.Amount
	}
	if base == 0 {
		return storage.SeverityLow
	}
	ratio := diff / base
	switch {
	case ratio >= 0.5:
		return storage.SeverityHigh
	case ratio >= 0.1:
		return storage.SeverityMedium
	default:
		return storage.SeverityLow
	}
}
