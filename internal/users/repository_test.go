package users

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"quaver/internal/db"
)

func newRepositoryForTest(t *testing.T) (*Repository, *sql.DB) {
	t.Helper()

	databasePath := filepath.Join(t.TempDir(), "catalog.db")
	database, err := db.Bootstrap(databasePath)
	if err != nil {
		t.Fatalf("bootstrap test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return NewRepository(database), database
}

func TestAddAndCheck(t *testing.T) {
	t.Parallel()

	repository, _ := newRepositoryForTest(t)
	ctx := context.Background()

	if err := repository.Add(ctx, "alice", "secret"); err != nil {
		t.Fatalf("add: %v", err)
	}

	ok, err := repository.Check(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatalf("expected matching credentials to check out")
	}

	ok, err = repository.Check(ctx, "alice", "wrong")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatalf("expected a wrong password to fail")
	}
}

func TestAddDuplicateUser(t *testing.T) {
	t.Parallel()

	repository, _ := newRepositoryForTest(t)
	ctx := context.Background()

	if err := repository.Add(ctx, "alice", "secret"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repository.Add(ctx, "alice", "other"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	// The original password must survive the rejected insert.
	ok, err := repository.Check(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatalf("duplicate add must not replace the stored password")
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	repository, database := newRepositoryForTest(t)
	ctx := context.Background()

	if err := repository.Add(ctx, "alice", "secret"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repository.Delete(ctx, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var count int
	if err := database.QueryRow("SELECT COUNT(1) FROM users").Scan(&count); err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no users after delete, got %d", count)
	}

	if err := repository.Delete(ctx, "alice"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
