package workflows_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/docket/internal/engine"
	"github.com/JaimeStill/docket/internal/extraction"
	"github.com/JaimeStill/docket/internal/records"
	"github.com/JaimeStill/docket/internal/store"
	"github.com/JaimeStill/docket/internal/validation"
	"github.com/JaimeStill/docket/internal/workflows"
	"github.com/JaimeStill/docket/pkg/lifecycle"
	"github.com/JaimeStill/docket/pkg/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// byContent extracts the fixture registered for the submitted content.
func byContent(fixtures map[string]map[string]any) extraction.Connector {
	return extraction.Func(func(ctx context.Context, content string) (map[string]any, error) {
		fields, ok := fixtures[content]
		if !ok {
			return nil, fmt.Errorf("no fixture for %q", content)
		}
		out := make(map[string]any, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out, nil
	})
}

var fixtures = map[string]map[string]any{
	"small invoice": {"amount": 500, "vendor": "Acme", "invoice_id": "1", "due_date": "2025-01-01"},
	"large invoice": {"amount": 4068.75, "vendor": "Acme", "invoice_id": "2", "due_date": "2025-01-01"},
	"angry ticket":  {"customer_name": "Jane", "topic": "billing", "sentiment": "Irate"},
}

type harness struct {
	store   *store.Memory
	storage storage.System
	sys     workflows.System
}

func newHarness(t *testing.T, conn extraction.Connector, opts ...engine.Option) *harness {
	t.Helper()

	router, err := validation.New(validation.Defaults())
	require.NoError(t, err)

	st := store.NewMemory()
	files, err := storage.New(&storage.Config{Provider: storage.ProviderLocal, Path: t.TempDir()}, discard)
	require.NoError(t, err)

	archive := workflows.NewArchive(files, discard)
	eng := engine.New(st, router, conn, discard, append(opts, engine.WithArchiver(archive))...)

	return &harness{
		store:   st,
		storage: files,
		sys:     workflows.New(st, eng, archive, discard, 2),
	}
}

func TestSubmit_Outcomes(t *testing.T) {
	tests := []struct {
		content string
		status  records.Status
		reasons []string
	}{
		{"small invoice", records.StatusFinalized, []string{}},
		{"large invoice", records.StatusPendingReview, []string{"amount exceeds threshold"}},
		{"angry ticket", records.StatusPendingReview, []string{"sentiment flagged: Irate"}},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			h := newHarness(t, byContent(fixtures))

			got, err := h.sys.Submit(context.Background(), tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.reasons, got.ValidationReasons)

			found, err := h.sys.Find(context.Background(), got.ID)
			require.NoError(t, err)
			assert.Equal(t, got.Status, found.Status)
			assert.Equal(t, len(got.History), len(found.History))
		})
	}
}

func TestSubmit_EmptyContent(t *testing.T) {
	h := newHarness(t, byContent(fixtures))

	_, err := h.sys.Submit(context.Background(), " \n\t")
	require.ErrorIs(t, err, workflows.ErrEmptyContent)

	all, err := h.sys.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "nothing is recorded for empty content")
}

func TestSubmit_ExtractionFailureReturnsRecord(t *testing.T) {
	h := newHarness(t, byContent(fixtures))

	got, err := h.sys.Submit(context.Background(), "unreadable scan")
	require.ErrorIs(t, err, engine.ErrExtraction)
	require.NotNil(t, got)
	assert.Equal(t, records.StatusError, got.Status)
	assert.Contains(t, got.Error, "no fixture")
}

func TestSubmit_CallerGoneDuringExtraction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := extraction.Func(func(cctx context.Context, content string) (map[string]any, error) {
		cancel()
		if err := cctx.Err(); err != nil {
			return nil, err
		}
		return byContent(fixtures).Extract(cctx, content)
	})
	h := newHarness(t, conn)

	got, err := h.sys.Submit(ctx, "small invoice")
	require.NoError(t, err)
	assert.Equal(t, records.StatusFinalized, got.Status)

	stored, err := h.sys.Find(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusFinalized, stored.Status)
}

func TestApprove_CallerGoneDuringRevalidation(t *testing.T) {
	h := newHarness(t, byContent(fixtures))

	paused, err := h.sys.Submit(context.Background(), "large invoice")
	require.NoError(t, err)
	require.Equal(t, records.StatusPendingReview, paused.Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = h.sys.Approve(ctx, paused.ID, map[string]any{"amount": 900})
	require.NoError(t, err)

	stored, err := h.sys.Find(context.Background(), paused.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusFinalized, stored.Status)
}

func TestSubmit_ShutdownInterruptsExtraction(t *testing.T) {
	entered := make(chan struct{})
	conn := extraction.Func(func(cctx context.Context, content string) (map[string]any, error) {
		close(entered)
		<-cctx.Done()
		return nil, cctx.Err()
	})
	h := newHarness(t, conn)

	lc := lifecycle.New()
	require.NoError(t, h.sys.Start(lc))
	require.NoError(t, lc.WaitForStartup())

	stopped := make(chan error, 1)
	go func() {
		<-entered
		stopped <- lc.Shutdown(5 * time.Second)
	}()

	got, err := h.sys.Submit(context.Background(), "small invoice")
	require.ErrorIs(t, err, engine.ErrStepFailed)
	require.NoError(t, <-stopped)

	stored, err := h.store.Get(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusProcessing, stored.Status, "left at its last checkpoint for recovery")
	assert.Equal(t, records.StepIntake, stored.StepCursor)
}

func TestListPending_OrderedByCreation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, byContent(fixtures))

	first, err := h.sys.Submit(ctx, "large invoice")
	require.NoError(t, err)
	_, err = h.sys.Submit(ctx, "small invoice")
	require.NoError(t, err)
	second, err := h.sys.Submit(ctx, "angry ticket")
	require.NoError(t, err)

	pending, err := h.sys.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	finalized, err := h.sys.List(ctx, records.StatusFinalized)
	require.NoError(t, err)
	assert.Len(t, finalized, 1)
}

func TestApprove_ArchivesResult(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, byContent(fixtures))

	submitted, err := h.sys.Submit(ctx, "large invoice")
	require.NoError(t, err)

	_, err = h.sys.Result(ctx, submitted.ID)
	require.ErrorIs(t, err, storage.ErrNotFound, "nothing archived while pending")

	approved, err := h.sys.Approve(ctx, submitted.ID, map[string]any{"amount": 900})
	require.NoError(t, err)
	assert.Equal(t, records.StatusFinalized, approved.Status)

	body, err := h.sys.Result(ctx, submitted.ID)
	require.NoError(t, err)
	defer body.Close()

	var result workflows.Result
	require.NoError(t, json.NewDecoder(body).Decode(&result))
	assert.Equal(t, submitted.ID, result.DocumentID)
	assert.EqualValues(t, 900, result.ExtractedData["amount"])
	assert.False(t, result.FinalizedAt.IsZero())
	assert.NotEmpty(t, result.History)
}

func TestReject_ThenApprove(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, byContent(fixtures))

	submitted, err := h.sys.Submit(ctx, "large invoice")
	require.NoError(t, err)

	rejected, err := h.sys.Reject(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusError, rejected.Status)
	assert.Equal(t, "rejected by reviewer", rejected.Error)

	_, err = h.sys.Approve(ctx, submitted.ID, nil)
	require.ErrorIs(t, err, engine.ErrInvalidState)
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, byContent(fixtures))

	submitted, err := h.sys.Submit(ctx, "small invoice")
	require.NoError(t, err)

	cps, err := h.sys.Checkpoints(ctx, submitted.ID)
	require.NoError(t, err)
	require.Len(t, cps, len(submitted.History))
	for i, cp := range cps {
		assert.Equal(t, i, cp.Sequence)
		assert.Equal(t, submitted.History[i].Step, cp.Step)
	}

	_, err = h.sys.Checkpoints(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecover_ResumesInFlightOnly(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	conn := extraction.Func(func(ctx context.Context, content string) (map[string]any, error) {
		calls.Add(1)
		return byContent(fixtures).Extract(ctx, content)
	})
	h := newHarness(t, conn)

	// received: created but never run
	received, err := h.store.Create(ctx, "small invoice")
	require.NoError(t, err)

	// processing at extract: crashed before validate committed
	extracted, err := h.store.Create(ctx, "large invoice")
	require.NoError(t, err)
	rec := extracted.Clone()
	rec.Advance(records.StepIntake, records.StatusProcessing, "", time.Now())
	require.NoError(t, h.store.SaveCheckpoint(ctx, rec))
	rec.ExtractedData = map[string]any{"amount": 100, "vendor": "Acme", "invoice_id": "9", "due_date": "2025-03-01"}
	rec.Advance(records.StepExtract, records.StatusProcessing, "", time.Now())
	require.NoError(t, h.store.SaveCheckpoint(ctx, rec))

	// paused: must be left alone
	paused, err := h.sys.Submit(ctx, "angry ticket")
	require.NoError(t, err)
	require.Equal(t, records.StatusPendingReview, paused.Status)
	calls.Store(0)

	n, err := h.sys.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(1), calls.Load(), "only the received record extracts")

	got, err := h.sys.Find(ctx, received.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusFinalized, got.Status)

	got, err = h.sys.Find(ctx, extracted.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusFinalized, got.Status)
	assert.EqualValues(t, 100, got.ExtractedData["amount"], "recovery keeps the committed extraction")

	got, err = h.sys.Find(ctx, paused.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusPendingReview, got.Status)
	assert.Equal(t, len(paused.History), len(got.History))

	n, err = h.sys.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing left in flight")
}

func TestRecover_ReportsFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, byContent(fixtures))

	_, err := h.store.Create(ctx, "   ")
	require.NoError(t, err)
	_, err = h.store.Create(ctx, "small invoice")
	require.NoError(t, err)

	n, err := h.sys.Recover(ctx)
	require.ErrorIs(t, err, engine.ErrStepFailed)
	assert.Equal(t, 1, n)
}

func TestStart_RecoversOnReady(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, byContent(fixtures))

	rec, err := h.store.Create(ctx, "small invoice")
	require.NoError(t, err)

	lc := lifecycle.New()
	require.NoError(t, h.sys.Start(lc))
	require.NoError(t, lc.WaitForStartup())

	got, err := h.sys.Find(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusFinalized, got.Status)

	require.NoError(t, lc.Shutdown(5*time.Second))
}

func TestFind_NotFound(t *testing.T) {
	h := newHarness(t, byContent(fixtures))

	_, err := h.sys.Find(context.Background(), uuid.New())
	require.True(t, errors.Is(err, store.ErrNotFound))
}
