// Package engine advances workflow records through the document pipeline.
//
// Each record moves through a fixed table of steps: intake, extract, validate,
// then either finalize or review. Every step commits a checkpoint before the
// next one runs, and the committed step cursor is the only resume point. A
// record paused for review holds no goroutine; it is re-entered by Approve.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/JaimeStill/docket/internal/extraction"
	"github.com/JaimeStill/docket/internal/records"
	"github.com/JaimeStill/docket/internal/store"
	"github.com/JaimeStill/docket/internal/validation"
)

const (
	DefaultExtractionTimeout = 60 * time.Second
	DefaultClaimTTL          = 5 * time.Minute

	tracerName = "github.com/JaimeStill/docket/internal/engine"
)

// Archiver receives a record immediately before it is finalized.
type Archiver interface {
	Archive(ctx context.Context, rec *records.Record) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithArchiver archives every record before its finalize checkpoint commits.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) {
		e.archiver = a
	}
}

// WithTracerProvider sets the provider for step spans. The global provider is
// used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// WithClock overrides the time source for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithExtractionTimeout bounds each connector call.
func WithExtractionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.extractionTimeout = d
		}
	}
}

// WithClaimTTL sets how long a runner may hold a record before its claim lapses.
func WithClaimTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.claimTTL = d
		}
	}
}

// Engine is the executor and interrupt controller for workflow records.
type Engine struct {
	store     store.Store
	router    *validation.Router
	connector extraction.Connector
	archiver  Archiver
	claims    *claims
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time

	extractionTimeout time.Duration
	claimTTL          time.Duration

	steps map[records.Step]stepFunc
}

// New creates an Engine over st. router and connector are required.
func New(
	st store.Store,
	router *validation.Router,
	connector extraction.Connector,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:             st,
		router:            router,
		connector:         connector,
		tracer:            otel.Tracer(tracerName),
		logger:            logger.With("system", "engine"),
		now:               func() time.Time { return time.Now().UTC() },
		extractionTimeout: DefaultExtractionTimeout,
		claimTTL:          DefaultClaimTTL,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.claims = newClaims(e.claimTTL)
	e.steps = map[records.Step]stepFunc{
		records.StepIntake:   e.intake,
		records.StepExtract:  e.extract,
		records.StepValidate: e.validate,
		records.StepReview:   e.suspend,
		records.StepFinalize: e.finalize,
	}

	return e
}

// Start runs the claim janitor until Stop.
func (e *Engine) Start() {
	e.claims.start()
}

// Stop halts the claim janitor.
func (e *Engine) Stop() {
	e.claims.stop()
}

// Busy reports whether a runner currently holds id.
func (e *Engine) Busy(id uuid.UUID) bool {
	return e.claims.held(id)
}

// Run drives id from its committed step cursor until the record finalizes,
// errors, or pauses for review. It returns the last committed state.
//
// A record already claimed by another runner fails fast with store.ErrConflict.
// When a step or its checkpoint fails, the returned record is the last state
// that committed and the error explains why the run stopped.
func (e *Engine) Run(ctx context.Context, id uuid.UUID) (*records.Record, error) {
	release, err := e.claims.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return e.drive(ctx, rec)
}

func (e *Engine) drive(ctx context.Context, rec *records.Record) (*records.Record, error) {
	for {
		step, ok := next(rec)
		if !ok {
			return rec, nil
		}

		committed, err := e.execute(ctx, step, rec)
		if err != nil {
			return committed, err
		}
		rec = committed
	}
}

// next routes a committed record to its following step. Records that are
// terminal or awaiting review have none.
func next(rec *records.Record) (records.Step, bool) {
	if rec.Status.Terminal() || rec.Status == records.StatusPendingReview {
		return "", false
	}

	switch rec.StepCursor {
	case "", records.StepSubmit:
		return records.StepIntake, true
	case records.StepIntake:
		return records.StepExtract, true
	case records.StepExtract, records.StepApprove:
		return records.StepValidate, true
	case records.StepValidate:
		if len(rec.ValidationReasons) == 0 {
			return records.StepFinalize, true
		}
		return records.StepReview, true
	}

	return "", false
}

func (e *Engine) logCommit(rec *records.Record) {
	e.logger.Info(
		"step committed",
		"id", rec.ID,
		"step", rec.StepCursor,
		"status", rec.Status,
		"version", rec.Version,
	)
}

func (e *Engine) commit(ctx context.Context, rec *records.Record) error {
	if err := e.store.SaveCheckpoint(ctx, rec); err != nil {
		e.logger.Error(
			"checkpoint failed",
			"id", rec.ID,
			"step", rec.StepCursor,
			"version", rec.Version,
			"error", err,
		)
		return fmt.Errorf("checkpoint %s: %w", rec.StepCursor, err)
	}
	e.logCommit(rec)
	return nil
}
