package workflows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/docket/internal/engine"
	"github.com/JaimeStill/docket/internal/records"
	"github.com/JaimeStill/docket/internal/store"
	"github.com/JaimeStill/docket/pkg/lifecycle"
)

// DefaultRecoveryWorkers bounds concurrent record resumption during Recover.
const DefaultRecoveryWorkers = 4

type service struct {
	store   store.Store
	engine  *engine.Engine
	archive *Archive
	logger  *slog.Logger
	workers int

	// base bounds engine runs; it is the lifecycle context once started.
	base atomic.Pointer[context.Context]
}

// New creates the workflow service. archive may be nil when finalized
// results are not archived.
func New(
	st store.Store,
	eng *engine.Engine,
	archive *Archive,
	logger *slog.Logger,
	recoveryWorkers int,
) System {
	if recoveryWorkers < 1 {
		recoveryWorkers = DefaultRecoveryWorkers
	}
	s := &service{
		store:   st,
		engine:  eng,
		archive: archive,
		logger:  logger.With("system", "workflows"),
		workers: recoveryWorkers,
	}
	base := context.Background()
	s.base.Store(&base)
	return s
}

// detach returns a context that keeps ctx's values but ignores its
// cancellation. Only shutdown of the service interrupts the returned
// context, so a caller that goes away mid-step cannot strand a record
// between checkpoints.
func (s *service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(*s.base.Load(), cancel)
	return dctx, func() {
		stop()
		cancel()
	}
}

func (s *service) Handler() *Handler {
	return NewHandler(s, s.logger)
}

func (s *service) Submit(ctx context.Context, content string) (*records.Projection, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	created, err := s.store.Create(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	s.logger.Info("workflow submitted", "id", created.ID, "size", len(content))

	rctx, cancel := s.detach(ctx)
	defer cancel()

	rec, err := s.engine.Run(rctx, created.ID)
	if rec == nil {
		rec = created
	}
	return project(rec), err
}

func (s *service) Find(ctx context.Context, id uuid.UUID) (*records.Projection, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return project(rec), nil
}

func (s *service) List(ctx context.Context, statuses ...records.Status) ([]records.Projection, error) {
	recs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}

	out := make([]records.Projection, len(recs))
	for i, rec := range recs {
		out[i] = rec.Project()
	}
	return out, nil
}

func (s *service) ListPending(ctx context.Context) ([]records.Projection, error) {
	return s.List(ctx, records.StatusPendingReview)
}

func (s *service) Approve(ctx context.Context, id uuid.UUID, corrections map[string]any) (*records.Projection, error) {
	rctx, cancel := s.detach(ctx)
	defer cancel()

	rec, err := s.engine.Approve(rctx, id, corrections)
	if rec == nil {
		return nil, err
	}
	return project(rec), err
}

func (s *service) Reject(ctx context.Context, id uuid.UUID) (*records.Projection, error) {
	rctx, cancel := s.detach(ctx)
	defer cancel()

	rec, err := s.engine.Reject(rctx, id)
	if rec == nil {
		return nil, err
	}
	return project(rec), err
}

func (s *service) Checkpoints(ctx context.Context, id uuid.UUID) ([]records.Checkpoint, error) {
	return s.store.Checkpoints(ctx, id)
}

func (s *service) Result(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	return s.archive.Open(ctx, id)
}

// Recover resumes in-flight records. Records awaiting review are left alone.
// A record claimed by a live request is skipped; that request owns it.
// Extraction failures are outcomes, not recovery failures.
func (s *service) Recover(ctx context.Context) (int, error) {
	recs, err := s.store.List(ctx, records.StatusReceived, records.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list in-flight workflows: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	s.logger.Info("recovering workflows", "count", len(recs), "workers", s.workers)

	var (
		g       errgroup.Group
		mu      sync.Mutex
		errs    []error
		resumed atomic.Int32
	)
	g.SetLimit(s.workers)

	for _, rec := range recs {
		g.Go(func() error {
			out, err := s.engine.Run(ctx, rec.ID)
			switch {
			case err == nil, errors.Is(err, engine.ErrExtraction), errors.Is(err, engine.ErrEmptyDocument):
				resumed.Add(1)
				s.logger.Info("workflow recovered", "id", rec.ID, "from", rec.StepCursor, "status", out.Status)
			case errors.Is(err, store.ErrConflict):
				s.logger.Debug("workflow claimed elsewhere, skipping", "id", rec.ID)
			default:
				s.logger.Error("workflow recovery failed", "id", rec.ID, "from", rec.StepCursor, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", rec.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return int(resumed.Load()), errors.Join(errs...)
}

func (s *service) Start(lc *lifecycle.Coordinator) error {
	base := lc.Context()
	s.base.Store(&base)

	lc.OnStartup("workflows", func(ctx context.Context) error {
		s.engine.Start()
		return nil
	})

	lc.OnReady("recovery", func(ctx context.Context) error {
		n, err := s.Recover(ctx)
		if err != nil {
			// failed records stay at their last checkpoint for the next restart
			s.logger.Error("recovery incomplete", "resumed", n, "error", err)
			return nil
		}
		s.logger.Info("recovery complete", "resumed", n)
		return nil
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		s.engine.Stop()
		s.logger.Info("workflow engine stopped")
	})

	return nil
}

func project(rec *records.Record) *records.Projection {
	p := rec.Project()
	return &p
}
