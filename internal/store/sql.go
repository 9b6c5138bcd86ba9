package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/docket/internal/records"
	"github.com/JaimeStill/docket/pkg/database"
	"github.com/JaimeStill/docket/pkg/repository"
)

const recordColumns = `id, status, content, extracted_data, validation_reasons,
	error_reason, step_cursor, version, created_at, updated_at`

// SQL is a Store over database/sql. Queries are written with ? placeholders
// and rebound for the connection's dialect.
type SQL struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *slog.Logger
}

// NewSQL wraps db. The schema must already be migrated; see Migrate.
func NewSQL(db *sql.DB, dialect database.Dialect, logger *slog.Logger) *SQL {
	return &SQL{
		db:      db,
		dialect: dialect,
		logger:  logger.With("system", "store", "dialect", string(dialect)),
	}
}

func (s *SQL) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *SQL) Create(ctx context.Context, content string) (*records.Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, storageError("create", err)
	}
	rec := records.New(id, content, time.Now().UTC())

	_, err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		data, reasons, err := marshalFields(rec)
		if err != nil {
			return struct{}{}, err
		}

		err = repository.Exec(ctx, tx, s.q(`
			INSERT INTO workflows (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			rec.ID.String(), string(rec.Status), rec.Content, data, reasons,
			rec.Error, string(rec.StepCursor), rec.Version,
			rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return struct{}{}, err
		}

		return struct{}{}, s.insertCheckpoint(ctx, tx, rec)
	})
	if err != nil {
		return nil, storageError("create", err)
	}

	s.logger.Debug("workflow created", "id", rec.ID)
	return rec, nil
}

func (s *SQL) Get(ctx context.Context, id uuid.UUID) (*records.Record, error) {
	rec, err := repository.WithTxOptions(ctx, s.db, s.readOptions(), func(tx *sql.Tx) (*records.Record, error) {
		rec, err := repository.QueryOne(ctx, tx,
			s.q(`SELECT `+recordColumns+` FROM workflows WHERE id = ?`),
			[]any{id.String()}, scanRecord,
		)
		if err != nil {
			return nil, repository.MapError(err, ErrNotFound, ErrConflict)
		}
		if err := s.loadHistory(ctx, tx, rec); err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		return rec, nil
	})
	if err != nil {
		return nil, storageError("get", err)
	}
	return rec, nil
}

// readOptions returns the options for multi-statement reads. Record rows
// and their history must come from one snapshot; postgres needs repeatable
// read for that, sqlite gets it from any transaction.
func (s *SQL) readOptions() *sql.TxOptions {
	if s.dialect == database.Postgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

func (s *SQL) SaveCheckpoint(ctx context.Context, rec *records.Record) error {
	if err := wellFormed(rec); err != nil {
		return err
	}

	lock := ""
	if s.dialect == database.Postgres {
		lock = " FOR UPDATE"
	}

	_, err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		var (
			status  string
			version int
		)
		row := tx.QueryRowContext(ctx, s.q(`SELECT status, version FROM workflows WHERE id = ?`+lock), rec.ID.String())
		if err := row.Scan(&status, &version); err != nil {
			return struct{}{}, repository.MapError(err, ErrNotFound, ErrConflict)
		}

		if err := admit(records.Status(status), version, rec); err != nil {
			return struct{}{}, err
		}

		data, reasons, err := marshalFields(rec)
		if err != nil {
			return struct{}{}, err
		}

		err = repository.ExecExpectOne(ctx, tx, s.q(`
			UPDATE workflows
			SET status = ?, extracted_data = ?, validation_reasons = ?, error_reason = ?,
				step_cursor = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`),
			string(rec.Status), data, reasons, rec.Error,
			string(rec.StepCursor), rec.Version, rec.UpdatedAt.UnixNano(),
			rec.ID.String(), version,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return struct{}{}, fmt.Errorf("%w: %s moved past version %d", ErrConflict, rec.ID, version)
		}
		if err != nil {
			return struct{}{}, err
		}

		return struct{}{}, s.insertCheckpoint(ctx, tx, rec)
	})

	return storageError("save checkpoint", err)
}

func (s *SQL) List(ctx context.Context, statuses ...records.Status) ([]*records.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM workflows`
	args := make([]any, 0, len(statuses))

	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY created_at, id`

	recs, err := repository.WithTxOptions(ctx, s.db, s.readOptions(), func(tx *sql.Tx) ([]*records.Record, error) {
		recs, err := repository.QueryMany(ctx, tx, s.q(query), args, scanRecord)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if err := s.loadHistory(ctx, tx, rec); err != nil {
				return nil, fmt.Errorf("load history: %w", err)
			}
		}
		return recs, nil
	})
	if err != nil {
		return nil, storageError("list", err)
	}
	return recs, nil
}

func (s *SQL) Checkpoints(ctx context.Context, id uuid.UUID) ([]records.Checkpoint, error) {
	cps, err := repository.QueryMany(ctx, s.db, s.q(`
		SELECT workflow_id, sequence_number, step_name, status_after, detail, created_at, snapshot
		FROM checkpoints WHERE workflow_id = ? ORDER BY sequence_number`),
		[]any{id.String()}, scanCheckpoint,
	)
	if err != nil {
		return nil, storageError("checkpoints", err)
	}
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	return cps, nil
}

func (s *SQL) insertCheckpoint(ctx context.Context, tx *sql.Tx, rec *records.Record) error {
	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	last := rec.Last()
	err = repository.Exec(ctx, tx, s.q(`
		INSERT INTO checkpoints (workflow_id, sequence_number, step_name, status_after, detail, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.ID.String(), last.Sequence, string(last.Step), string(last.Status),
		last.Detail, string(snapshot), last.Timestamp.UnixNano(),
	)
	if repository.IsDuplicate(err) {
		return fmt.Errorf("%w: checkpoint %d already committed for %s", ErrConflict, last.Sequence, rec.ID)
	}
	return err
}

func (s *SQL) loadHistory(ctx context.Context, q repository.Querier, rec *records.Record) error {
	history, err := repository.QueryMany(ctx, q, s.q(`
		SELECT sequence_number, step_name, status_after, detail, created_at
		FROM checkpoints WHERE workflow_id = ? ORDER BY sequence_number`),
		[]any{rec.ID.String()}, scanHistory,
	)
	if err != nil {
		return err
	}
	rec.History = history
	return nil
}

func marshalFields(rec *records.Record) (string, string, error) {
	data := rec.ExtractedData
	if data == nil {
		data = map[string]any{}
	}
	reasons := rec.ValidationReasons
	if reasons == nil {
		reasons = []string{}
	}

	d, err := json.Marshal(data)
	if err != nil {
		return "", "", fmt.Errorf("marshal extracted data: %w", err)
	}
	r, err := json.Marshal(reasons)
	if err != nil {
		return "", "", fmt.Errorf("marshal validation reasons: %w", err)
	}
	return string(d), string(r), nil
}

func scanRecord(sc repository.Scanner) (*records.Record, error) {
	var (
		id, status, content, data, reasons, errReason, cursor string
		version                                               int
		created, updated                                      int64
	)
	if err := sc.Scan(&id, &status, &content, &data, &reasons, &errReason, &cursor, &version, &created, &updated); err != nil {
		return nil, err
	}

	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}

	rec := &records.Record{
		ID:         uid,
		Content:    content,
		Status:     records.Status(status),
		StepCursor: records.Step(cursor),
		Version:    version,
		Error:      errReason,
		CreatedAt:  time.Unix(0, created).UTC(),
		UpdatedAt:  time.Unix(0, updated).UTC(),
	}
	if err := json.Unmarshal([]byte(data), &rec.ExtractedData); err != nil {
		return nil, fmt.Errorf("unmarshal extracted data: %w", err)
	}
	if err := json.Unmarshal([]byte(reasons), &rec.ValidationReasons); err != nil {
		return nil, fmt.Errorf("unmarshal validation reasons: %w", err)
	}
	return rec, nil
}

func scanHistory(sc repository.Scanner) (records.HistoryEntry, error) {
	var (
		h            records.HistoryEntry
		step, status string
		ts           int64
	)
	if err := sc.Scan(&h.Sequence, &step, &status, &h.Detail, &ts); err != nil {
		return h, err
	}
	h.Step = records.Step(step)
	h.Status = records.Status(status)
	h.Timestamp = time.Unix(0, ts).UTC()
	return h, nil
}

func scanCheckpoint(sc repository.Scanner) (records.Checkpoint, error) {
	var (
		cp                       records.Checkpoint
		id, step, status, snap string
		ts                       int64
	)
	if err := sc.Scan(&id, &cp.Sequence, &step, &status, &cp.Detail, &ts, &snap); err != nil {
		return cp, err
	}

	uid, err := uuid.Parse(id)
	if err != nil {
		return cp, fmt.Errorf("parse id %q: %w", id, err)
	}

	cp.WorkflowID = uid
	cp.Step = records.Step(step)
	cp.Status = records.Status(status)
	cp.Timestamp = time.Unix(0, ts).UTC()
	if err := json.Unmarshal([]byte(snap), &cp.Snapshot); err != nil {
		return cp, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return cp, nil
}
