// Package jobs implements the background job tracker (C18): a small state
// machine (QUEUED -> PROCESSING -> terminal), append-only stage history,
// and transition guards that reject anything not in the allowed set.
//
// Grounded on the teacher's cmd/server job-status polling idiom (the
// teacher tracks ingest jobs informally via in-memory maps); this
// generalizes that into an explicit, persisted state machine with a
// Broker-backed retry/re-enqueue path the teacher never needed for its
// single-process CLI use.
package jobs

import (
	"context"

	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/storage"
)

// Create enqueues a new job in QUEUED status.
func Create(ctx context.Context, meta storage.MetaStore, matterID, jobType string, totalStages int) (string, error) {
	return meta.CreateJob(ctx, storage.Job{
		MatterID:    matterID,
		Type:        jobType,
		Status:      storage.JobQueued,
		TotalStages: totalStages,
	})
}

// Retry re-enqueues a FAILED job, transitioning it back to QUEUED. Any
// other starting status is rejected with INVALID_JOB_STATUS.
func Retry(ctx context.Context, meta storage.MetaStore, broker storage.Broker, matterID, jobID, queue string) error {
	j, err := meta.GetJob(ctx, matterID, jobID)
	if err != nil {
		return err
	}
	if j == nil || j.Status != storage.JobFailed {
		return apperr.New(apperr.InvalidJobStatus, "job can only be retried from FAILED").WithRetryable(false)
	}
	if err := meta.UpdateJobStatus(ctx, matterID, jobID, storage.JobQueued, ""); err != nil {
		return err
	}
	if err := appendStage(ctx, meta, jobID, j.CurrentStage, storage.JobQueued, "retried"); err != nil {
		return err
	}
	return broker.Enqueue(ctx, queue, map[string]string{"job_id": jobID, "matter_id": matterID})
}

// Skip transitions a FAILED job to SKIPPED. Any other starting status is
// rejected with INVALID_JOB_STATUS.
func Skip(ctx context.Context, meta storage.MetaStore, matterID, jobID string) error {
	j, err := meta.GetJob(ctx, matterID, jobID)
	if err != nil {
		return err
	}
	if j == nil || j.Status != storage.JobFailed {
		return apperr.New(apperr.InvalidJobStatus, "job can only be skipped from FAILED").WithRetryable(false)
	}
	if err := meta.UpdateJobStatus(ctx, matterID, jobID, storage.JobSkipped, ""); err != nil {
		return err
	}
	return appendStage(ctx, meta, jobID, j.CurrentStage, storage.JobSkipped, "skipped")
}

// Cancel transitions a QUEUED or PROCESSING job to CANCELLED. Any other
// starting status is rejected with INVALID_JOB_STATUS.
func Cancel(ctx context.Context, meta storage.MetaStore, matterID, jobID string) error {
	j, err := meta.GetJob(ctx, matterID, jobID)
	if err != nil {
		return err
	}
	if j == nil || (j.Status != storage.JobQueued && j.Status != storage.JobProcessing) {
		return apperr.New(apperr.InvalidJobStatus, "job can only be cancelled from QUEUED or PROCESSING").WithRetryable(false)
	}
	if err := meta.UpdateJobStatus(ctx, matterID, jobID, storage.JobCancelled, ""); err != nil {
		return err
	}
	return appendStage(ctx, meta, jobID, j.CurrentStage, storage.JobCancelled, "cancelled")
}

// Advance records a normal forward transition (e.g. QUEUED -> PROCESSING,
// or PROCESSING -> a terminal status) driven by the worker itself, as
// opposed to a caller-initiated retry/skip/cancel.
func Advance(ctx context.Context, meta storage.MetaStore, matterID, jobID, stage string, status storage.JobStatus, errMsg string) error {
	if err := meta.UpdateJobStatus(ctx, matterID, jobID, status, errMsg); err != nil {
		return err
	}
	return appendStage(ctx, meta, jobID, stage, status, errMsg)
}

func appendStage(ctx context.Context, meta storage.MetaStore, jobID, stage string, status storage.JobStatus, message string) error {
	return meta.AppendStageHistory(ctx, storage.StageHistoryEntry{
		JobID:   jobID,
		Stage:   stage,
		Status:  status,
		Message: message,
	})
}
