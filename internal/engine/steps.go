package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/go-errors/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JaimeStill/docket/internal/records"
)

// outcome is what a step hands back to execute. err is surfaced to the caller
// only after the checkpoint carrying status has committed.
type outcome struct {
	status records.Status
	detail string
	err    error
}

type stepFunc func(ctx context.Context, rec *records.Record) (outcome, error)

// execute runs step against a copy of rec and commits the result. On any
// failure the returned record is rec, the last committed state.
func (e *Engine) execute(ctx context.Context, step records.Step, rec *records.Record) (*records.Record, error) {
	fn, ok := e.steps[step]
	if !ok {
		return rec, fmt.Errorf("%w: no handler for step %q", ErrStepFailed, step)
	}

	ctx, span := e.tracer.Start(ctx, "docket.step."+string(step), trace.WithAttributes(
		attribute.String("docket.workflow_id", rec.ID.String()),
		attribute.String("docket.step", string(step)),
		attribute.Int("docket.version", rec.Version+1),
	))
	defer span.End()

	work := rec.Clone()

	out, err := e.invoke(ctx, step, fn, work)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rec, err
	}

	work.Advance(step, out.status, out.detail, e.now())
	if err := e.commit(ctx, work); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rec, err
	}

	span.SetAttributes(attribute.String("docket.status", string(work.Status)))
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
	}
	return work, out.err
}

func (e *Engine) invoke(ctx context.Context, step records.Step, fn stepFunc, rec *records.Record) (out outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			perr := goerrors.Wrap(p, 2)
			e.logger.Error(
				"step panicked",
				"id", rec.ID,
				"step", step,
				"panic", perr.Error(),
				"stack", string(perr.Stack()),
			)
			err = fmt.Errorf("%w: %s panicked: %v", ErrStepFailed, step, p)
		}
	}()

	return fn(ctx, rec)
}

func (e *Engine) intake(ctx context.Context, rec *records.Record) (outcome, error) {
	return outcome{
		status: records.StatusProcessing,
		detail: fmt.Sprintf("accepted %d bytes", len(rec.Content)),
	}, nil
}

type extractResult struct {
	fields map[string]any
	err    error
}

// extract calls the connector under the extraction timeout. The call runs on
// its own goroutine so a connector that ignores cancellation still cannot
// hold the step past the deadline.
func (e *Engine) extract(ctx context.Context, rec *records.Record) (outcome, error) {
	// received may only move to processing, so an empty document is
	// accepted by intake and ends here without a connector call
	if strings.TrimSpace(rec.Content) == "" {
		rec.Error = ErrEmptyDocument.Error()
		return outcome{
			status: records.StatusError,
			detail: rec.Error,
			err:    ErrEmptyDocument,
		}, nil
	}

	xctx, cancel := context.WithTimeout(ctx, e.extractionTimeout)
	defer cancel()

	id, content := rec.ID, rec.Content
	done := make(chan extractResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				perr := goerrors.Wrap(p, 2)
				e.logger.Error("connector panicked", "id", id, "panic", perr.Error(), "stack", string(perr.Stack()))
				done <- extractResult{err: fmt.Errorf("connector panicked: %v", p)}
			}
		}()

		fields, err := e.connector.Extract(xctx, content)
		done <- extractResult{fields: fields, err: err}
	}()

	var res extractResult
	select {
	case res = <-done:
	case <-xctx.Done():
		res = extractResult{err: xctx.Err()}
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return outcome{}, fmt.Errorf("%w: extract interrupted: %w", ErrStepFailed, ctx.Err())
		}

		reason := fmt.Sprintf("extraction failed: %v", res.err)
		if errors.Is(xctx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("extraction timed out after %s", e.extractionTimeout)
		}

		e.logger.Warn("extraction failed", "id", rec.ID, "error", res.err)
		rec.Error = reason
		return outcome{
			status: records.StatusError,
			detail: reason,
			err:    fmt.Errorf("%w: %s", ErrExtraction, reason),
		}, nil
	}

	rec.ExtractedData = res.fields
	if rec.ExtractedData == nil {
		rec.ExtractedData = map[string]any{}
	}
	rec.ValidationReasons = []string{}

	return outcome{
		status: records.StatusProcessing,
		detail: fmt.Sprintf("extracted %d fields", len(rec.ExtractedData)),
	}, nil
}

func (e *Engine) validate(ctx context.Context, rec *records.Record) (outcome, error) {
	rec.ValidationReasons = e.router.Evaluate(rec.ExtractedData)

	detail := "passed"
	if n := len(rec.ValidationReasons); n > 0 {
		detail = fmt.Sprintf("%d violation(s)", n)
	}
	return outcome{status: records.StatusProcessing, detail: detail}, nil
}

// finalize archives the result, when an archiver is configured, before the
// terminal checkpoint. A failed archive leaves the record at validate so the
// step can be retried.
func (e *Engine) finalize(ctx context.Context, rec *records.Record) (outcome, error) {
	if len(rec.ValidationReasons) > 0 {
		return outcome{}, fmt.Errorf("%w: finalize with %d open violation(s)", ErrStepFailed, len(rec.ValidationReasons))
	}

	if e.archiver != nil {
		if err := e.archiver.Archive(ctx, rec); err != nil {
			e.logger.Error("archive failed", "id", rec.ID, "error", err)
			return outcome{}, fmt.Errorf("%w: %w", ErrArchive, err)
		}
	}

	return outcome{status: records.StatusFinalized, detail: "validation passed"}, nil
}
