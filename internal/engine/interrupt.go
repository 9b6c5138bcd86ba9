package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/docket/internal/records"
)

// RejectedReason is recorded on records a reviewer rejects.
const RejectedReason = "rejected by reviewer"

// suspend parks the record in pending_review. Nothing waits on it afterwards;
// the run returns and the record stays put until Approve or Reject.
func (e *Engine) suspend(ctx context.Context, rec *records.Record) (outcome, error) {
	e.logger.Info("workflow paused for review", "id", rec.ID, "reasons", rec.ValidationReasons)
	return outcome{
		status: records.StatusPendingReview,
		detail: strings.Join(rec.ValidationReasons, "; "),
	}, nil
}

// Approve resumes a record awaiting review. Corrections overwrite extracted
// fields one by one and fields they omit are kept. The record re-enters at
// validate against the full rule set; extraction never runs again. If the
// corrected data still violates a rule the record returns to pending_review
// with the new reasons.
func (e *Engine) Approve(ctx context.Context, id uuid.UUID, corrections map[string]any) (*records.Record, error) {
	release, err := e.claims.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := e.pending(ctx, id, "approve")
	if err != nil {
		return nil, err
	}

	work := rec.Clone()
	work.Merge(corrections)
	work.Advance(records.StepApprove, records.StatusProcessing, approvalDetail(corrections), e.now())

	if err := e.commit(ctx, work); err != nil {
		return rec, err
	}

	return e.drive(ctx, work)
}

// Reject moves a record awaiting review to error.
func (e *Engine) Reject(ctx context.Context, id uuid.UUID) (*records.Record, error) {
	release, err := e.claims.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := e.pending(ctx, id, "reject")
	if err != nil {
		return nil, err
	}

	work := rec.Clone()
	work.Error = RejectedReason
	work.Advance(records.StepReject, records.StatusError, RejectedReason, e.now())

	if err := e.commit(ctx, work); err != nil {
		return rec, err
	}
	return work, nil
}

func (e *Engine) pending(ctx context.Context, id uuid.UUID, action string) (*records.Record, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != records.StatusPendingReview {
		return nil, fmt.Errorf("%w: cannot %s workflow %s in status %s", ErrInvalidState, action, id, rec.Status)
	}
	return rec, nil
}

func approvalDetail(corrections map[string]any) string {
	if len(corrections) == 0 {
		return "approved"
	}
	fields := slices.Sorted(maps.Keys(corrections))
	return "approved with corrections: " + strings.Join(fields, ", ")
}
