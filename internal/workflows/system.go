// Package workflows is the service boundary for document review workflows.
// Submission tools and review surfaces call it; nothing else writes records.
package workflows

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/JaimeStill/docket/internal/records"
	"github.com/JaimeStill/docket/pkg/lifecycle"
)

// System defines the public contract for workflow operations.
type System interface {
	Handler() *Handler

	// Submit records content and runs it until it finalizes, errors, or
	// pauses for review. A connector failure is returned as an
	// engine.ErrExtraction alongside the errored record.
	Submit(ctx context.Context, content string) (*records.Projection, error)
	Find(ctx context.Context, id uuid.UUID) (*records.Projection, error)
	List(ctx context.Context, statuses ...records.Status) ([]records.Projection, error)
	ListPending(ctx context.Context) ([]records.Projection, error)
	Approve(ctx context.Context, id uuid.UUID, corrections map[string]any) (*records.Projection, error)
	Reject(ctx context.Context, id uuid.UUID) (*records.Projection, error)
	Checkpoints(ctx context.Context, id uuid.UUID) ([]records.Checkpoint, error)
	// Result streams the archived result document of a finalized record.
	Result(ctx context.Context, id uuid.UUID) (io.ReadCloser, error)

	// Recover resumes every received or processing record from its step
	// cursor and reports how many reached a resting state.
	Recover(ctx context.Context) (int, error)
	// Start registers the claim janitor and startup recovery with lc.
	Start(lc *lifecycle.Coordinator) error
}
