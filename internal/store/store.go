// Package store persists workflow records and their checkpoint history.
//
// Every implementation enforces the same write discipline: a checkpoint is
// accepted only when it carries the next version for its record, follows a
// legal status edge, and targets a non-terminal record. The record update and
// the checkpoint append commit together or not at all.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JaimeStill/docket/internal/records"
)

var (
	// ErrNotFound indicates no record exists for the id.
	ErrNotFound = errors.New("workflow not found")
	// ErrConflict indicates the checkpoint version is not the successor of the
	// committed version, usually because a concurrent writer won.
	ErrConflict = errors.New("checkpoint conflict")
	// ErrTerminal indicates the record is finalized or errored.
	ErrTerminal = errors.New("workflow is terminal")
	// ErrInvalidTransition indicates the status change is not an edge of the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStorage wraps failures of the underlying storage engine.
	ErrStorage = errors.New("storage failure")
)

// Store is the durable home of workflow records.
type Store interface {
	// Create persists a received record for content with its first checkpoint.
	Create(ctx context.Context, content string) (*records.Record, error)
	// Get returns the committed state of id.
	Get(ctx context.Context, id uuid.UUID) (*records.Record, error)
	// SaveCheckpoint atomically commits rec as the next checkpoint of its record.
	SaveCheckpoint(ctx context.Context, rec *records.Record) error
	// List returns records in the given statuses (all when none are given),
	// oldest first.
	List(ctx context.Context, statuses ...records.Status) ([]*records.Record, error)
	// Checkpoints returns the full checkpoint sequence for id.
	Checkpoints(ctx context.Context, id uuid.UUID) ([]records.Checkpoint, error)
}

// admit decides whether rec may be committed over the stored status and version.
func admit(stored records.Status, version int, rec *records.Record) error {
	if stored.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, rec.ID, stored)
	}
	if rec.Version != version+1 {
		return fmt.Errorf("%w: %s at version %d, got %d", ErrConflict, rec.ID, version, rec.Version)
	}
	if !records.CanTransition(stored, rec.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, stored, rec.Status)
	}
	return nil
}

// wellFormed checks that rec's version and history agree.
func wellFormed(rec *records.Record) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, rec.Status)
	}
	if rec.Version != len(rec.History)-1 || rec.Last().Sequence != rec.Version {
		return fmt.Errorf("%w: version %d does not match history length %d", ErrConflict, rec.Version, len(rec.History))
	}
	if rec.Last().Status != rec.Status {
		return fmt.Errorf("%w: history status %s does not match %s", ErrInvalidTransition, rec.Last().Status, rec.Status)
	}
	return nil
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrConflict, ErrTerminal, ErrInvalidTransition, ErrStorage} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
