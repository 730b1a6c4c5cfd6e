package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrUserExists = errors.New("user already exists")

var ErrUserNotFound = errors.New("user not found")

// Repository manages credential rows for the serving application.
// Passwords are stored exactly as given; the serving layer's auth scheme
// needs the cleartext to answer token-based challenges.
type Repository struct {
	db *sql.DB
}

func NewRepository(database *sql.DB) *Repository {
	return &Repository{db: database}
}

func (r *Repository) Add(ctx context.Context, username, password string) error {
	result, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (username, password) VALUES (?, ?)",
		username, password,
	)
	if err != nil {
		return fmt.Errorf("insert user %q: %w", username, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user %q: %w", username, err)
	}
	if affected == 0 {
		return ErrUserExists
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, username string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM users WHERE username = ?", username,
	)
	if err != nil {
		return fmt.Errorf("delete user %q: %w", username, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user %q: %w", username, err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Check reports whether the username/password pair exists. Kept for the
// serving layer, which authenticates against the same table.
func (r *Repository) Check(ctx context.Context, username, password string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM users WHERE username = ? AND password = ?",
		username, password,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check user %q: %w", username, err)
	}

	return count == 1, nil
}
