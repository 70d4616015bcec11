package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/replygate/replygate/internal/biz/domain"
	"github.com/replygate/replygate/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// optOutRepo implements the OptOut repository on sqlite
type optOutRepo struct {
	db *sql.DB
}

// NewOptOutRepo creates a new OptOut repository
func NewOptOutRepo(dbPath string) (repo.OptOutRepo, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS opt_outs (
			user_id TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &optOutRepo{db: db}, nil
}

// LoadAll returns every persisted opt-out entry
func (r *optOutRepo) LoadAll(ctx context.Context) ([]domain.OptOutEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, expires_at FROM opt_outs
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query opt-outs: %w", err)
	}
	defer rows.Close()

	var entries []domain.OptOutEntry
	for rows.Next() {
		var entry domain.OptOutEntry
		var expiresAt int64
		if err := rows.Scan(&entry.UserID, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan opt-out: %w", err)
		}
		entry.LockoutExpiresAt = time.Unix(expiresAt, 0)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Save inserts or refreshes an opt-out entry
func (r *optOutRepo) Save(ctx context.Context, entry domain.OptOutEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO opt_outs (user_id, expires_at) VALUES (?, ?)
	`, entry.UserID, entry.LockoutExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save opt-out: %w", err)
	}
	return nil
}

// Delete removes an opt-out entry
func (r *optOutRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM opt_outs WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete opt-out: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *optOutRepo) Close() error {
	return r.db.Close()
}
