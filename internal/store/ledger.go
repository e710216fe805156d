package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quanthub/sgx-downloader/internal/model"
)

// ErrorLedger is the durable list of failed downloads.
//
// Entries are keyed by (id, filename): appending the same pair twice keeps a
// single entry (with the latest reason), and a successful retry removes
// exactly that pair. The single shared SQLite connection serializes appends
// from concurrent download workers, so no entry is ever lost.
type ErrorLedger struct {
	db *sql.DB
}

// Append records a failed download. Idempotent per (id, filename).
func (l *ErrorLedger) Append(ctx context.Context, entry model.ErrorEntry) error {
	var date sql.NullString
	if !entry.Date.IsZero() {
		date = sql.NullString{String: entry.Date.Format(model.DateLayout), Valid: true}
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO errors (id, filename, date, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id, filename) DO UPDATE SET
		     reason = excluded.reason,
		     created_at = excluded.created_at`,
		entry.ID, entry.Filename, date, entry.Reason, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append error entry %d/%s: %w", entry.ID, entry.Filename, err)
	}
	return nil
}

// Remove deletes the entry for (id, filename). Removing an entry that does
// not exist is not an error, which keeps successful downloads idempotent.
func (l *ErrorLedger) Remove(ctx context.Context, id int64, filename string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM errors WHERE id = ? AND filename = ?`, id, filename)
	if err != nil {
		return fmt.Errorf("remove error entry %d/%s: %w", id, filename, err)
	}
	return nil
}

// All returns every ledger entry ordered by id then filename. The retry pass
// treats this as its worklist: drain, re-attempt, and failures get appended
// right back.
func (l *ErrorLedger) All(ctx context.Context) ([]model.ErrorEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, filename, date, reason, created_at FROM errors
		 ORDER BY id ASC, filename ASC`)
	if err != nil {
		return nil, fmt.Errorf("list error entries: %w", err)
	}
	defer rows.Close()

	entries := []model.ErrorEntry{}
	for rows.Next() {
		var (
			entry     model.ErrorEntry
			date      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Filename, &date, &entry.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan error entry: %w", err)
		}
		if date.Valid {
			d, err := model.ParseDate(date.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt date in error entry %d/%s: %w", entry.ID, entry.Filename, err)
			}
			entry.Date = d
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			entry.CreatedAt = t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
