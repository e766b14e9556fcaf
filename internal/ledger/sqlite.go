package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/example/creator-ledger/internal/money"
)

// SQLiteStore is a single-node Store for development and tests. created_at is
// kept as unix nanoseconds so ordering and range filters stay integer
// comparisons.
type SQLiteStore struct {
	db        *sql.DB
	clock     Clock
	pageSize  int
	validator *Validator
}

// OpenSQLite opens path with the sqlite3 driver. ":memory:" databases are
// pinned to a single connection so every query sees the same schema.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewSQLiteStore wraps an open database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:        db,
		clock:     time.Now,
		pageSize:  DefaultPageSize,
		validator: NewValidator(),
	}
}

// WithClock overrides the created_at source.
func (s *SQLiteStore) WithClock(c Clock) *SQLiteStore {
	s.clock = c
	return s
}

// WithPageSize sets the number of rows fetched per page while iterating.
func (s *SQLiteStore) WithPageSize(n int) *SQLiteStore {
	if n > 0 {
		s.pageSize = n
	}
	return s
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	account_role TEXT NOT NULL CHECK (account_role IN ('creator', 'platform')),
	amount_minor INTEGER NOT NULL,
	currency TEXT NOT NULL CHECK (length(currency) = 3),
	event_type TEXT NOT NULL CHECK (event_type IN ('payment', 'platform_fee', 'refund', 'platform_fee_refund')),
	source_object_id TEXT NOT NULL,
	memo TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	UNIQUE (source_object_id, event_type)
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_created ON ledger_entries(account_id, created_at, id);

CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
BEFORE UPDATE ON ledger_entries
BEGIN
	SELECT RAISE(ABORT, 'ledger_entries is append-only');
END;

CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
BEFORE DELETE ON ledger_entries
BEGIN
	SELECT RAISE(ABORT, 'ledger_entries is append-only');
END;
`

// Migrate creates the ledger schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// AppendBatch inserts the drafts in one transaction.
func (s *SQLiteStore) AppendBatch(ctx context.Context, drafts []Draft) ([]Entry, error) {
	if err := s.validator.ValidateBatch(drafts); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	createdAt := s.clock().UTC()
	entries := make([]Entry, 0, len(drafts))

	for _, d := range drafts {
		entry := newEntry(uuid.NewString(), d, createdAt)
		memo, err := encodeMemo(d.Memo)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (
				id, account_id, account_role, amount_minor, currency,
				event_type, source_object_id, memo, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.ID, entry.AccountID, string(entry.Role), entry.Amount, entry.Currency,
			string(entry.EventType), entry.SourceObjectID, memo, createdAt.UnixNano())
		if err != nil {
			if isSQLiteUniqueViolation(err) {
				return nil, &DuplicateEventError{SourceObjectID: d.SourceObjectID, EventType: d.EventType}
			}
			return nil, unavailable("insert entry", err)
		}

		entries = append(entries, entry)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}

	return entries, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

const sqliteEntryColumns = `id, account_id, account_role, amount_minor, currency,
	event_type, source_object_id, memo, created_at`

// QueryByAccount pages through the (account_id, created_at, id) index.
func (s *SQLiteStore) QueryByAccount(ctx context.Context, accountID string, r Range) iter.Seq2[Entry, error] {
	pageSize := s.pageSize
	return paginate(func(cur pageCursor) ([]Entry, error) {
		query := `SELECT ` + sqliteEntryColumns + ` FROM ledger_entries WHERE account_id = ?`
		args := []interface{}{accountID}

		query, args = appendRange(query, args, r)
		if cur.started {
			ts := cur.createdAt.UnixNano()
			query += " AND (created_at > ? OR (created_at = ? AND id > ?))"
			args = append(args, ts, ts, cur.id)
		}
		query += " ORDER BY created_at ASC, id ASC LIMIT ?"
		args = append(args, pageSize)

		return s.queryEntries(ctx, "query by account", query, args...)
	}, pageSize)
}

// QueryBySource returns the entries created for one processor object.
func (s *SQLiteStore) QueryBySource(ctx context.Context, sourceObjectID string) ([]Entry, error) {
	return s.queryEntries(ctx, "query by source", `
		SELECT `+sqliteEntryColumns+`
		FROM ledger_entries
		WHERE source_object_id = ?
		ORDER BY created_at ASC, id ASC
	`, sourceObjectID)
}

func (s *SQLiteStore) queryEntries(ctx context.Context, op, query string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var role, eventType, memo string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.AccountID, &role, &e.Amount, &e.Currency,
			&eventType, &e.SourceObjectID, &memo, &createdAt); err != nil {
			return nil, unavailable(op, fmt.Errorf("failed to scan entry: %w", err))
		}
		e.Role = Role(role)
		e.EventType = EventType(eventType)
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		if e.Memo, err = decodeMemo([]byte(memo)); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}

	return entries, nil
}

// SumByAccount reduces with SQLite's 64-bit integer SUM.
func (s *SQLiteStore) SumByAccount(ctx context.Context, accountID, currency string, r Range) (money.Money, error) {
	query := `SELECT COALESCE(SUM(amount_minor), 0) FROM ledger_entries WHERE account_id = ? AND currency = ?`
	args := []interface{}{accountID, currency}
	query, args = appendRange(query, args, r)

	var total int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return money.Money{}, unavailable("sum by account", err)
	}
	return money.New(total, currency), nil
}

// Applied reports whether (sourceObjectID, eventType) exists.
func (s *SQLiteStore) Applied(ctx context.Context, sourceObjectID string, eventType EventType) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE source_object_id = ? AND event_type = ?)",
		sourceObjectID, string(eventType)).Scan(&exists)
	if err != nil {
		return false, unavailable("applied", err)
	}
	return exists, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return unavailable("ping", s.db.PingContext(ctx))
}

func appendRange(query string, args []interface{}, r Range) (string, []interface{}) {
	if !r.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, r.Since.UnixNano())
	}
	if !r.Until.IsZero() {
		query += " AND created_at < ?"
		args = append(args, r.Until.UnixNano())
	}
	return query, args
}
