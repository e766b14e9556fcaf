package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/creator-ledger/internal/money"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
)

// PgxPool is the subset of *pgxpool.Pool the store uses.
type PgxPool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore is the production Store. PostgreSQL is the source of truth
// and enforces both uniqueness and append-only semantics.
type PostgresStore struct {
	Pool       PgxPool
	Timeout    time.Duration
	MaxRetries int
	PageSize   int

	clock     Clock
	validator *Validator
}

// NewPostgresStore creates a new PostgreSQL ledger store.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	return &PostgresStore{
		Pool:       pool,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		PageSize:   DefaultPageSize,
		clock:      time.Now,
		validator:  NewValidator(),
	}
}

// WithClock overrides the created_at source.
func (s *PostgresStore) WithClock(c Clock) *PostgresStore {
	s.clock = c
	return s
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id UUID PRIMARY KEY,
		account_id TEXT NOT NULL,
		account_role TEXT NOT NULL CHECK (account_role IN ('creator', 'platform')),
		amount_minor BIGINT NOT NULL,
		currency TEXT NOT NULL CHECK (length(currency) = 3),
		event_type TEXT NOT NULL CHECK (event_type IN ('payment', 'platform_fee', 'refund', 'platform_fee_refund')),
		source_object_id TEXT NOT NULL,
		memo JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT ledger_entries_source_event_key UNIQUE (source_object_id, event_type)
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_account_created_idx
		ON ledger_entries (account_id, created_at, id)`,
	`CREATE OR REPLACE FUNCTION ledger_entries_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'ledger_entries is append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS ledger_entries_no_mutation ON ledger_entries`,
	`CREATE TRIGGER ledger_entries_no_mutation
		BEFORE UPDATE OR DELETE ON ledger_entries
		FOR EACH ROW EXECUTE FUNCTION ledger_entries_append_only()`,
}

// Migrate creates the ledger schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresMigrations {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// AppendBatch inserts all drafts in one SERIALIZABLE transaction, retrying
// serialization failures.
func (s *PostgresStore) AppendBatch(ctx context.Context, drafts []Draft) ([]Entry, error) {
	if err := s.validator.ValidateBatch(drafts); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < s.maxRetries(); attempt++ {
		entries, err := s.appendBatchOnce(ctx, drafts)
		if err == nil {
			return entries, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, unavailable("append batch", ctx.Err())
			case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
			}
			continue
		}
		return nil, err
	}

	return nil, unavailable("append batch", fmt.Errorf("failed after %d retries due to serialization failure: %w", s.maxRetries(), lastErr))
}

func (s *PostgresStore) appendBatchOnce(ctx context.Context, drafts []Draft) ([]Entry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	tx, err := s.Pool.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, unavailable("begin transaction", err)
	}
	defer tx.Rollback(queryCtx)

	createdAt := s.clock().UTC().Truncate(time.Microsecond)
	entries := make([]Entry, 0, len(drafts))

	for _, d := range drafts {
		entry := newEntry(uuid.NewString(), d, createdAt)
		memo, err := encodeMemo(d.Memo)
		if err != nil {
			return nil, err
		}

		_, err = tx.Exec(queryCtx, `
			INSERT INTO ledger_entries (
				id, account_id, account_role, amount_minor, currency,
				event_type, source_object_id, memo, created_at
			) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
		`, entry.ID, entry.AccountID, string(entry.Role), entry.Amount, entry.Currency,
			string(entry.EventType), entry.SourceObjectID, memo, entry.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				switch pgErr.Code {
				case pgUniqueViolation:
					return nil, &DuplicateEventError{SourceObjectID: d.SourceObjectID, EventType: d.EventType}
				case pgSerializationFailure:
					return nil, err
				}
			}
			return nil, unavailable("insert entry", err)
		}

		entries = append(entries, entry)
	}

	if err := tx.Commit(queryCtx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure {
			return nil, err
		}
		return nil, unavailable("commit", err)
	}

	return entries, nil
}

const pgEntryColumns = `id::text, account_id, account_role, amount_minor, currency,
	event_type, source_object_id, memo, created_at`

// QueryByAccount pages through the (account_id, created_at, id) index.
func (s *PostgresStore) QueryByAccount(ctx context.Context, accountID string, r Range) iter.Seq2[Entry, error] {
	pageSize := s.pageSize()
	return paginate(func(cur pageCursor) ([]Entry, error) {
		query := `SELECT ` + pgEntryColumns + ` FROM ledger_entries WHERE account_id = $1`
		args := []interface{}{accountID}
		argCount := 2

		if !r.Since.IsZero() {
			query += fmt.Sprintf(" AND created_at >= $%d", argCount)
			args = append(args, r.Since)
			argCount++
		}
		if !r.Until.IsZero() {
			query += fmt.Sprintf(" AND created_at < $%d", argCount)
			args = append(args, r.Until)
			argCount++
		}
		if cur.started {
			query += fmt.Sprintf(" AND (created_at, id) > ($%d, $%d::uuid)", argCount, argCount+1)
			args = append(args, cur.createdAt, cur.id)
			argCount += 2
		}
		query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d", argCount)
		args = append(args, pageSize)

		return s.queryEntries(ctx, "query by account", query, args...)
	}, pageSize)
}

// QueryBySource returns the entries created for one processor object.
func (s *PostgresStore) QueryBySource(ctx context.Context, sourceObjectID string) ([]Entry, error) {
	return s.queryEntries(ctx, "query by source", `
		SELECT `+pgEntryColumns+`
		FROM ledger_entries
		WHERE source_object_id = $1
		ORDER BY created_at ASC, id ASC
	`, sourceObjectID)
}

func (s *PostgresStore) queryEntries(ctx context.Context, op, query string, args ...interface{}) ([]Entry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var role, eventType string
		var memo []byte
		if err := rows.Scan(&e.ID, &e.AccountID, &role, &e.Amount, &e.Currency,
			&eventType, &e.SourceObjectID, &memo, &e.CreatedAt); err != nil {
			return nil, unavailable(op, fmt.Errorf("failed to scan entry: %w", err))
		}
		e.Role = Role(role)
		e.EventType = EventType(eventType)
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Memo, err = decodeMemo(memo); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}

	return entries, nil
}

// SumByAccount reduces on the server with BIGINT arithmetic.
func (s *PostgresStore) SumByAccount(ctx context.Context, accountID, currency string, r Range) (money.Money, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	query := `SELECT COALESCE(SUM(amount_minor), 0)::BIGINT FROM ledger_entries WHERE account_id = $1 AND currency = $2`
	args := []interface{}{accountID, currency}
	argCount := 3
	if !r.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, r.Since)
		argCount++
	}
	if !r.Until.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", argCount)
		args = append(args, r.Until)
	}

	var total int64
	if err := s.Pool.QueryRow(queryCtx, query, args...).Scan(&total); err != nil {
		return money.Money{}, unavailable("sum by account", err)
	}

	return money.New(total, currency), nil
}

// Applied reports whether (sourceObjectID, eventType) exists.
func (s *PostgresStore) Applied(ctx context.Context, sourceObjectID string, eventType EventType) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	var exists bool
	err := s.Pool.QueryRow(queryCtx,
		"SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE source_object_id = $1 AND event_type = $2)",
		sourceObjectID, string(eventType)).Scan(&exists)
	if err != nil {
		return false, unavailable("applied", err)
	}
	return exists, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	return unavailable("ping", s.Pool.Ping(queryCtx))
}

func (s *PostgresStore) timeout() time.Duration {
	if s.Timeout <= 0 {
		return 5 * time.Second
	}
	return s.Timeout
}

func (s *PostgresStore) maxRetries() int {
	if s.MaxRetries <= 0 {
		return 1
	}
	return s.MaxRetries
}

func (s *PostgresStore) pageSize() int {
	if s.PageSize <= 0 {
		return DefaultPageSize
	}
	return s.PageSize
}

func encodeMemo(m Memo) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode memo: %w", err)
	}
	return string(b), nil
}

func decodeMemo(b []byte) (Memo, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m Memo
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode memo: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
