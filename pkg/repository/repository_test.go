package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	_ "modernc.org/sqlite"

	"github.com/JaimeStill/docket/pkg/repository"
)

var (
	errNotFound  = errors.New("not found")
	errDuplicate = errors.New("duplicate")
)

type item struct {
	ID   int
	Name string
}

func scanItem(s repository.Scanner) (item, error) {
	var it item
	err := s.Scan(&it.ID, &it.Name)
	return it, err
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func TestMapErrorNil(t *testing.T) {
	if got := repository.MapError(nil, errNotFound, errDuplicate); got != nil {
		t.Errorf("MapError(nil) = %v, want nil", got)
	}
}

func TestMapErrorNotFound(t *testing.T) {
	got := repository.MapError(sql.ErrNoRows, errNotFound, errDuplicate)
	if !errors.Is(got, errNotFound) {
		t.Errorf("MapError(ErrNoRows) = %v, want %v", got, errNotFound)
	}
}

func TestMapErrorPgDuplicate(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505"}
	got := repository.MapError(pgErr, errNotFound, errDuplicate)
	if !errors.Is(got, errDuplicate) {
		t.Errorf("MapError(PgError 23505) = %v, want %v", got, errDuplicate)
	}
}

func TestMapErrorPgNonDuplicate(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23503"}
	got := repository.MapError(pgErr, errNotFound, errDuplicate)
	if got != pgErr {
		t.Errorf("MapError(PgError 23503) should pass through, got %v", got)
	}
}

func TestMapErrorSQLiteDuplicate(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	if err := repository.Exec(ctx, db, "INSERT INTO items (id, name) VALUES (1, 'a')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := repository.Exec(ctx, db, "INSERT INTO items (id, name) VALUES (1, 'b')")
	if err == nil {
		t.Fatal("expected primary key violation")
	}

	if got := repository.MapError(err, errNotFound, errDuplicate); !errors.Is(got, errDuplicate) {
		t.Errorf("MapError(sqlite pk) = %v, want %v", got, errDuplicate)
	}
}

func TestMapErrorPassthrough(t *testing.T) {
	original := errors.New("some other error")
	if got := repository.MapError(original, errNotFound, errDuplicate); got != original {
		t.Errorf("MapError(other) = %v, want %v", got, original)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	errAbort := errors.New("abort")

	_, err := repository.WithTx(ctx, db, func(tx *sql.Tx) (struct{}, error) {
		if err := repository.Exec(ctx, tx, "INSERT INTO items (id, name) VALUES (1, 'a')"); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("WithTx error = %v, want %v", err, errAbort)
	}

	items, err := repository.QueryMany(ctx, db, "SELECT id, name FROM items", nil, scanItem)
	if err != nil {
		t.Fatalf("QueryMany: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("rollback left %d rows", len(items))
	}
}

func TestWithTxCommits(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	got, err := repository.WithTx(ctx, db, func(tx *sql.Tx) (item, error) {
		if err := repository.Exec(ctx, tx, "INSERT INTO items (id, name) VALUES (7, 'seven')"); err != nil {
			return item{}, err
		}
		return repository.QueryOne(ctx, tx, "SELECT id, name FROM items WHERE id = ?", []any{7}, scanItem)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if got.Name != "seven" {
		t.Errorf("name = %q, want seven", got.Name)
	}
}

func TestQueryManyEmpty(t *testing.T) {
	db := openDB(t)

	items, err := repository.QueryMany(context.Background(), db, "SELECT id, name FROM items", nil, scanItem)
	if err != nil {
		t.Fatalf("QueryMany: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("QueryMany = %v, want empty non-nil slice", items)
	}
}

func TestExecExpectOneNoRows(t *testing.T) {
	db := openDB(t)

	err := repository.ExecExpectOne(context.Background(), db, "UPDATE items SET name = 'x' WHERE id = 99")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("ExecExpectOne = %v, want sql.ErrNoRows", err)
	}
}
