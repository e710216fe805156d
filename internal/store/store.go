package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quanthub/sgx-downloader/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// ErrOrderingViolation is returned by MappingStore.Append when the appended
// id would break the contiguous id sequence. It indicates either a caller
// bug or a corrupted database and must never be ignored.
var ErrOrderingViolation = errors.New("mapping id out of order")

// ErrDuplicateDate is returned by MappingStore.Append when the record's date
// is already mapped to another id. The date index requires dates to be
// unique; callers decide whether to record the id with an absent date
// instead.
var ErrDuplicateDate = errors.New("date already mapped to another id")

// Store is the durable state of the downloader: the id→date mapping table
// and the failed-download ledger, both in one SQLite database.
// Uses WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// The connection pool is capped at one connection: SQLite supports a single
// writer, and the ledger sees concurrent appends from download workers.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Mappings returns the id→date table handle.
func (s *Store) Mappings() *MappingStore {
	return &MappingStore{db: s.db}
}

// Ledger returns the failed-download ledger handle.
func (s *Store) Ledger() *ErrorLedger {
	return &ErrorLedger{db: s.db}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// MappingStore is the ordered id→date table.
//
// Invariants enforced here:
//   - ids are contiguous starting at 1 (Append rejects anything else)
//   - at most one record per id
//   - a present date is unique across records
type MappingStore struct {
	db *sql.DB
}

// Append stores a new record. The record's id must be exactly MaxID()+1
// (or 1 when the store is empty); otherwise Append fails with
// ErrOrderingViolation and the store is unchanged.
//
// A record whose date is already mapped to another id fails with
// ErrDuplicateDate, again without modifying the store.
func (m *MappingStore) Append(ctx context.Context, rec model.Record) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var maxID int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM mappings`).Scan(&maxID); err != nil {
		return fmt.Errorf("read max id: %w", err)
	}

	if rec.ID != maxID+1 {
		return fmt.Errorf("append id %d after max id %d: %w", rec.ID, maxID, ErrOrderingViolation)
	}

	if rec.HasDate() {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM mappings WHERE date = ?)`,
			rec.Date.Format(model.DateLayout),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check date uniqueness: %w", err)
		}
		if exists {
			return fmt.Errorf("append id %d with date %s: %w", rec.ID, rec.DateString(), ErrDuplicateDate)
		}
	}

	var date sql.NullString
	if rec.HasDate() {
		date = sql.NullString{String: rec.Date.Format(model.DateLayout), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO mappings (id, date) VALUES (?, ?)`, rec.ID, date); err != nil {
		return fmt.Errorf("insert mapping: %w", err)
	}

	return tx.Commit()
}

// GetByDate returns the id mapped to the given date, or ok=false when the
// date is not in the store (weekend, holiday, or never probed).
func (m *MappingStore) GetByDate(ctx context.Context, date string) (int64, bool, error) {
	var id int64
	err := m.db.QueryRowContext(ctx, `SELECT id FROM mappings WHERE date = ?`, date).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup date %s: %w", date, err)
	}
	return id, true, nil
}

// GetRange returns all dated records with start <= date <= end, ascending by
// date. Records stored with an absent date carry nothing to filter on and
// are excluded by construction. An empty intersection is not an error.
func (m *MappingStore) GetRange(ctx context.Context, start, end string) ([]model.Record, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, date FROM mappings
		 WHERE date IS NOT NULL AND date >= ? AND date <= ?
		 ORDER BY date ASC`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query range [%s, %s]: %w", start, end, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// LastN returns the last n dated records, oldest first. Fewer than n records
// are returned when the store holds fewer dated entries.
func (m *MappingStore) LastN(ctx context.Context, n int) ([]model.Record, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, date FROM (
		     SELECT id, date FROM mappings
		     WHERE date IS NOT NULL
		     ORDER BY date DESC LIMIT ?
		 ) ORDER BY date ASC`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("query last %d: %w", n, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// MaxID returns the highest stored id, or 0 when the store is empty.
func (m *MappingStore) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := m.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM mappings`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("read max id: %w", err)
	}
	return maxID, nil
}

// Get returns the record for one id, or ok=false when the id is not stored.
func (m *MappingStore) Get(ctx context.Context, id int64) (model.Record, bool, error) {
	var date sql.NullString
	err := m.db.QueryRowContext(ctx, `SELECT date FROM mappings WHERE id = ?`, id).Scan(&date)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, fmt.Errorf("lookup id %d: %w", id, err)
	}

	rec := model.Record{ID: id}
	if date.Valid {
		d, err := model.ParseDate(date.String)
		if err != nil {
			return model.Record{}, false, fmt.Errorf("corrupt date for id %d: %w", id, err)
		}
		rec.Date = d
	}
	return rec, true, nil
}

func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	records := []model.Record{}
	for rows.Next() {
		var (
			id   int64
			date string
		)
		if err := rows.Scan(&id, &date); err != nil {
			return nil, fmt.Errorf("scan mapping row: %w", err)
		}
		d, err := model.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("corrupt date for id %d: %w", id, err)
		}
		records = append(records, model.Record{ID: id, Date: d})
	}
	return records, rows.Err()
}
