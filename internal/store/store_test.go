package store_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/docket/internal/records"
	"github.com/JaimeStill/docket/internal/store"
	"github.com/JaimeStill/docket/pkg/database"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newSQLite(t *testing.T) store.Store {
	_, s := openSQLite(t)
	return s
}

func openSQLite(t *testing.T) (*sql.DB, store.Store) {
	t.Helper()

	cfg := &database.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "docket.db")}
	require.NoError(t, cfg.Finalize(nil))

	db, err := database.New(cfg, discard)
	require.NoError(t, err)
	t.Cleanup(func() { db.Connection().Close() })

	require.NoError(t, db.Ping(context.Background()))
	require.NoError(t, store.Migrate(db.Connection(), database.SQLite))
	// a second run is a no-op
	require.NoError(t, store.Migrate(db.Connection(), database.SQLite))

	return db.Connection(), store.NewSQL(db.Connection(), database.SQLite, discard)
}

func newMemory(t *testing.T) store.Store {
	return store.NewMemory()
}

func TestSQLite_CheckpointIsAllOrNothing(t *testing.T) {
	db, s := openSQLite(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "doc")
	require.NoError(t, err)

	// occupy the next checkpoint slot so the insert fails after the row update
	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (workflow_id, sequence_number, step_name, status_after, detail, snapshot, created_at)
		VALUES (?, 1, 'intake', 'processing', '', '{}', 0)`,
		rec.ID.String(),
	)
	require.NoError(t, err)

	next := advance(rec, records.StepIntake, records.StatusProcessing)
	next.ExtractedData = map[string]any{"vendor": "Acme"}
	require.ErrorIs(t, s.SaveCheckpoint(ctx, next), store.ErrConflict)

	var (
		status  string
		version int
		data    string
	)
	row := db.QueryRowContext(ctx, `SELECT status, version, extracted_data FROM workflows WHERE id = ?`, rec.ID.String())
	require.NoError(t, row.Scan(&status, &version, &data))
	assert.Equal(t, string(records.StatusReceived), status)
	assert.Equal(t, 0, version)
	assert.JSONEq(t, `{}`, data)
}

func TestStores(t *testing.T) {
	backends := map[string]func(t *testing.T) store.Store{
		"memory": newMemory,
		"sqlite": newSQLite,
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			for _, tc := range suite {
				t.Run(tc.name, func(t *testing.T) {
					tc.fn(t, open(t))
				})
			}
		})
	}
}

type storeTest struct {
	name string
	fn   func(t *testing.T, s store.Store)
}

// advance returns a copy of rec moved one step forward.
func advance(rec *records.Record, step records.Step, status records.Status) *records.Record {
	next := rec.Clone()
	next.Advance(step, status, "", time.Now().UTC())
	return next
}

var suite = []storeTest{
	{
		name: "create and get",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()

			rec, err := s.Create(ctx, "invoice text")
			require.NoError(t, err)
			require.NotEqual(t, uuid.Nil, rec.ID)

			got, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, "invoice text", got.Content)
			assert.Equal(t, records.StatusReceived, got.Status)
			assert.Equal(t, records.StepSubmit, got.StepCursor)
			assert.Equal(t, 0, got.Version)
			require.Len(t, got.History, 1)
			assert.Equal(t, records.StepSubmit, got.History[0].Step)
			assert.Empty(t, got.ExtractedData)
			assert.Empty(t, got.ValidationReasons)
		},
	},
	{
		name: "unique ids",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()
			seen := map[uuid.UUID]bool{}
			for range 20 {
				rec, err := s.Create(ctx, "doc")
				require.NoError(t, err)
				require.False(t, seen[rec.ID], "id reused")
				seen[rec.ID] = true
			}
		},
	},
	{
		name: "get unknown",
		fn: func(t *testing.T, s store.Store) {
			_, err := s.Get(context.Background(), uuid.New())
			assert.ErrorIs(t, err, store.ErrNotFound)
		},
	},
	{
		name: "checkpoint round trip",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()
			rec, err := s.Create(ctx, "doc")
			require.NoError(t, err)

			next := advance(rec, records.StepIntake, records.StatusProcessing)
			require.NoError(t, s.SaveCheckpoint(ctx, next))

			next = advance(next, records.StepExtract, records.StatusProcessing)
			next.ExtractedData = map[string]any{"vendor": "Acme", "amount": 4068.75}
			require.NoError(t, s.SaveCheckpoint(ctx, next))

			next = advance(next, records.StepValidate, records.StatusPendingReview)
			next.ValidationReasons = []string{"amount exceeds threshold"}
			require.NoError(t, s.SaveCheckpoint(ctx, next))

			got, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, records.StatusPendingReview, got.Status)
			assert.Equal(t, records.StepValidate, got.StepCursor)
			assert.Equal(t, 3, got.Version)
			assert.Equal(t, "doc", got.Content)
			assert.Equal(t, "Acme", got.ExtractedData["vendor"])
			assert.InDelta(t, 4068.75, got.ExtractedData["amount"], 0.001)
			assert.Equal(t, []string{"amount exceeds threshold"}, got.ValidationReasons)

			require.Len(t, got.History, 4)
			for i, h := range got.History {
				assert.Equal(t, i, h.Sequence)
			}
			assert.Equal(t, records.StatusPendingReview, got.History[3].Status)

			cps, err := s.Checkpoints(ctx, rec.ID)
			require.NoError(t, err)
			require.Len(t, cps, 4)
			assert.Equal(t, records.StepExtract, cps[2].Step)
			assert.Equal(t, "Acme", cps[2].Snapshot.ExtractedData["vendor"])
			assert.Empty(t, cps[2].Snapshot.ValidationReasons)
			assert.Equal(t, 2, cps[2].Snapshot.Version)
		},
	},
	{
		name: "stale version rejected",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()
			rec, err := s.Create(ctx, "doc")
			require.NoError(t, err)

			first := advance(rec, records.StepIntake, records.StatusProcessing)
			require.NoError(t, s.SaveCheckpoint(ctx, first))

			replay := advance(rec, records.StepIntake, records.StatusProcessing)
			assert.ErrorIs(t, s.SaveCheckpoint(ctx, replay), store.ErrConflict)

			got, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.Version)
			assert.Len(t, got.History, 2)
		},
	},
	{
		name: "version gap rejected",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()
			rec, err := s.Create(ctx, "doc")
			require.NoError(t, err)

			skip := advance(advance(rec, records.StepIntake, records.StatusProcessing), records.StepExtract, records.StatusProcessing)
			assert.ErrorIs(t, s.SaveCheckpoint(ctx, skip), store.ErrConflict)
		},
	},
	{
		name: "received cannot jump to finalized",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()
			rec, err := s.Create(ctx, "doc")
			require.NoError(t, err)

			bad := advance(rec, records.StepFinalize, records.StatusFinalized)
			assert.ErrorIs(t, s.SaveCheckpoint(ctx, bad), store.ErrInvalidTransition)

			got, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, records.StatusReceived, got.Status)
		},
	},
	{
		name: "terminal records are frozen",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()
			rec, err := s.Create(ctx, "doc")
			require.NoError(t, err)

			next := advance(rec, records.StepIntake, records.StatusProcessing)
			require.NoError(t, s.SaveCheckpoint(ctx, next))
			next = advance(next, records.StepExtract, records.StatusError)
			next.Error = "connector down"
			require.NoError(t, s.SaveCheckpoint(ctx, next))

			again := advance(next, records.StepIntake, records.StatusProcessing)
			assert.ErrorIs(t, s.SaveCheckpoint(ctx, again), store.ErrTerminal)

			got, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, records.StatusError, got.Status)
			assert.Equal(t, "connector down", got.Error)
		},
	},
	{
		name: "checkpoint for unknown id",
		fn: func(t *testing.T, s store.Store) {
			rec := records.New(uuid.New(), "doc", time.Now())
			next := advance(rec, records.StepIntake, records.StatusProcessing)
			assert.ErrorIs(t, s.SaveCheckpoint(context.Background(), next), store.ErrNotFound)

			_, err := s.Checkpoints(context.Background(), rec.ID)
			assert.ErrorIs(t, err, store.ErrNotFound)
		},
	},
	{
		name: "malformed history rejected",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()
			rec, err := s.Create(ctx, "doc")
			require.NoError(t, err)

			bad := rec.Clone()
			bad.Version = 1
			bad.Status = records.StatusProcessing
			assert.Error(t, s.SaveCheckpoint(ctx, bad))
		},
	},
	{
		name: "list filters and orders by creation",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()

			var ids []uuid.UUID
			for range 4 {
				rec, err := s.Create(ctx, "doc")
				require.NoError(t, err)
				ids = append(ids, rec.ID)
			}

			for _, id := range []uuid.UUID{ids[1], ids[3]} {
				rec, err := s.Get(ctx, id)
				require.NoError(t, err)
				next := advance(rec, records.StepIntake, records.StatusProcessing)
				require.NoError(t, s.SaveCheckpoint(ctx, next))
				next = advance(next, records.StepValidate, records.StatusPendingReview)
				require.NoError(t, s.SaveCheckpoint(ctx, next))
			}

			pending, err := s.List(ctx, records.StatusPendingReview)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Equal(t, ids[1], pending[0].ID)
			assert.Equal(t, ids[3], pending[1].ID)
			assert.Len(t, pending[0].History, 3)

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 4)
			for i, rec := range all {
				assert.Equal(t, ids[i], rec.ID)
			}

			mixed, err := s.List(ctx, records.StatusReceived, records.StatusPendingReview)
			require.NoError(t, err)
			assert.Len(t, mixed, 4)

			none, err := s.List(ctx, records.StatusFinalized)
			require.NoError(t, err)
			assert.Empty(t, none)
		},
	},
	{
		name: "returned records are isolated",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()
			rec, err := s.Create(ctx, "doc")
			require.NoError(t, err)

			got, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			got.ExtractedData["injected"] = true
			got.History = append(got.History, records.HistoryEntry{})

			again, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.NotContains(t, again.ExtractedData, "injected")
			assert.Len(t, again.History, 1)
		},
	},
	{
		name: "reads agree with history under concurrent commits",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()
			rec, err := s.Create(ctx, "doc")
			require.NoError(t, err)

			const commits = 30
			done := make(chan error, 1)
			go func() {
				cur := advance(rec, records.StepIntake, records.StatusProcessing)
				for i := range commits {
					if err := s.SaveCheckpoint(ctx, cur); err != nil {
						done <- err
						return
					}
					if i < commits-1 {
						cur = advance(cur, records.StepExtract, records.StatusProcessing)
					}
				}
				done <- nil
			}()

			check := func(got *records.Record) {
				assert.Equal(t, got.Version, len(got.History)-1, "version %d with %d history entries", got.Version, len(got.History))
				assert.Equal(t, got.Status, got.Last().Status)
			}

			for {
				select {
				case err := <-done:
					require.NoError(t, err)
					got, err := s.Get(ctx, rec.ID)
					require.NoError(t, err)
					assert.Equal(t, commits, got.Version)
					check(got)
					return
				default:
				}

				got, err := s.Get(ctx, rec.ID)
				require.NoError(t, err)
				check(got)

				all, err := s.List(ctx)
				require.NoError(t, err)
				for _, r := range all {
					check(r)
				}
			}
		},
	},
	{
		name: "concurrent writers serialize",
		fn: func(t *testing.T, s store.Store) {
			ctx := context.Background()
			rec, err := s.Create(ctx, "doc")
			require.NoError(t, err)

			const writers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				conflicts int
			)
			for range writers {
				wg.Go(func() {
					err := s.SaveCheckpoint(ctx, advance(rec, records.StepIntake, records.StatusProcessing))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, store.ErrConflict):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				})
			}
			wg.Wait()

			assert.Equal(t, 1, succeeded)
			assert.Equal(t, writers-1, conflicts)

			cps, err := s.Checkpoints(ctx, rec.ID)
			require.NoError(t, err)
			assert.Len(t, cps, 2)
		},
	},
}
