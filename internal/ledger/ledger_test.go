package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SimpleMockPool provides a simplified mock for testing
type SimpleMockPool struct {
	beginFunc    func(ctx context.Context) (pgx.Tx, error)
	execFunc     func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	queryFunc    func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	queryRowFunc func(ctx context.Context, sql string, args ...interface{}) pgx.Row
	pingErr      error
}

func (m *SimpleMockPool) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if m.beginFunc != nil {
		return m.beginFunc(ctx)
	}
	return &mockTx{}, nil
}

func (m *SimpleMockPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (m *SimpleMockPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *SimpleMockPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{err: pgx.ErrNoRows}
}

func (m *SimpleMockPool) Ping(context.Context) error {
	return m.pingErr
}

// mockTx overrides the methods AppendBatch uses. Anything else panics through
// the nil embedded interface.
type mockTx struct {
	pgx.Tx
	execFunc   func(sql string, args ...interface{}) error
	commitErr  error
	inserts    [][]interface{}
	committed  bool
	rolledBack bool
}

func (tx *mockTx) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if tx.execFunc != nil {
		if err := tx.execFunc(sql, args...); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	tx.inserts = append(tx.inserts, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (tx *mockTx) Commit(context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *mockTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type mockRow struct {
	values []interface{}
	err    error
}

func (r *mockRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type mockRows struct {
	pgx.Rows
	rows   [][]interface{}
	pos    int
	err    error
	closed bool
}

func (r *mockRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *mockRows) Scan(dest ...interface{}) error {
	return assign(dest, r.rows[r.pos-1])
}

func (r *mockRows) Close() { r.closed = true }

func (r *mockRows) Err() error { return r.err }

func assign(dest, values []interface{}) error {
	for i, d := range dest {
		if i >= len(values) {
			break
		}
		switch v := d.(type) {
		case *string:
			*v = values[i].(string)
		case *int64:
			*v = values[i].(int64)
		case *bool:
			*v = values[i].(bool)
		case *[]byte:
			*v = []byte(values[i].(string))
		case *time.Time:
			*v = values[i].(time.Time)
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

func entryRow(id, account string, amount int64, createdAt time.Time) []interface{} {
	return []interface{}{id, account, "creator", amount, "usd", "payment", "in_" + id, `{"invoice":"in_` + id + `"}`, createdAt}
}

func paymentDrafts(source string, gross, fee int64) []Draft {
	return []Draft{
		{AccountID: "creator_1", Role: RoleCreator, Amount: gross - fee, Currency: "usd", EventType: EventPayment, SourceObjectID: source},
		{AccountID: DefaultPlatformAccountID, Role: RolePlatform, Amount: fee, Currency: "usd", EventType: EventPlatformFee, SourceObjectID: source},
	}
}

func refundDrafts(source string, refunded, fee int64) []Draft {
	return []Draft{
		{AccountID: "creator_1", Role: RoleCreator, Amount: -(refunded - fee), Currency: "usd", EventType: EventRefund, SourceObjectID: source},
		{AccountID: DefaultPlatformAccountID, Role: RolePlatform, Amount: -fee, Currency: "usd", EventType: EventPlatformFeeRefund, SourceObjectID: source},
	}
}

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestPostgresStore_AppendBatch(t *testing.T) {
	ctx := context.Background()
	tx := &mockTx{}
	pool := &SimpleMockPool{beginFunc: func(context.Context) (pgx.Tx, error) { return tx, nil }}

	now := time.Date(2024, 3, 5, 10, 0, 0, 123456789, time.UTC)
	store := NewPostgresStore(pool).WithClock(fixedClock(now))

	entries, err := store.AppendBatch(ctx, paymentDrafts("in_123", 2000, 200))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.True(t, tx.committed)
	assert.Len(t, tx.inserts, 2)
	assert.Equal(t, int64(1800), entries[0].Amount)
	assert.Equal(t, int64(200), entries[1].Amount)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.Equal(t, now.Truncate(time.Microsecond), entries[0].CreatedAt)
	assert.Equal(t, entries[0].CreatedAt, entries[1].CreatedAt)
	assert.Equal(t, "{}", tx.inserts[0][7])
}

func TestPostgresStore_AppendBatchDuplicate(t *testing.T) {
	ctx := context.Background()
	tx := &mockTx{
		execFunc: func(sql string, args ...interface{}) error {
			if args[5] == string(EventPlatformFee) {
				return &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "ledger_entries_source_event_key"}
			}
			return nil
		},
	}
	pool := &SimpleMockPool{beginFunc: func(context.Context) (pgx.Tx, error) { return tx, nil }}
	store := NewPostgresStore(pool)

	entries, err := store.AppendBatch(ctx, paymentDrafts("in_123", 2000, 200))
	require.Error(t, err)
	assert.Nil(t, entries)
	assert.True(t, IsDuplicate(err))
	assert.False(t, IsUnavailable(err))

	var dup *DuplicateEventError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "in_123", dup.SourceObjectID)
	assert.Equal(t, EventPlatformFee, dup.EventType)

	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestPostgresStore_AppendBatchBeginFailure(t *testing.T) {
	cause := errors.New("connection refused")
	pool := &SimpleMockPool{beginFunc: func(context.Context) (pgx.Tx, error) { return nil, cause }}
	store := NewPostgresStore(pool)

	_, err := store.AppendBatch(context.Background(), paymentDrafts("in_123", 2000, 200))
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsDuplicate(err))
}

func TestPostgresStore_AppendBatchRetriesSerializationFailure(t *testing.T) {
	attempts := 0
	pool := &SimpleMockPool{beginFunc: func(context.Context) (pgx.Tx, error) {
		attempts++
		if attempts < 3 {
			return &mockTx{commitErr: &pgconn.PgError{Code: pgSerializationFailure}}, nil
		}
		return &mockTx{}, nil
	}}
	store := NewPostgresStore(pool)

	entries, err := store.AppendBatch(context.Background(), paymentDrafts("in_123", 2000, 200))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 3, attempts)
}

func TestPostgresStore_AppendBatchSerializationExhausted(t *testing.T) {
	attempts := 0
	pool := &SimpleMockPool{beginFunc: func(context.Context) (pgx.Tx, error) {
		attempts++
		return &mockTx{commitErr: &pgconn.PgError{Code: pgSerializationFailure}}, nil
	}}
	store := NewPostgresStore(pool)

	_, err := store.AppendBatch(context.Background(), paymentDrafts("in_123", 2000, 200))
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, 3, attempts)
}

func TestPostgresStore_AppendBatchStopsRetryingWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	pool := &SimpleMockPool{beginFunc: func(context.Context) (pgx.Tx, error) {
		attempts++
		cancel()
		return &mockTx{commitErr: &pgconn.PgError{Code: pgSerializationFailure}}, nil
	}}
	store := NewPostgresStore(pool)

	_, err := store.AppendBatch(ctx, paymentDrafts("in_123", 2000, 200))
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestPostgresStore_AppendBatchRejectsInvalidBatch(t *testing.T) {
	pool := &SimpleMockPool{beginFunc: func(context.Context) (pgx.Tx, error) {
		t.Fatal("transaction must not be opened for an invalid batch")
		return nil, nil
	}}
	store := NewPostgresStore(pool)

	drafts := paymentDrafts("in_123", 2000, 200)
	drafts[1].SourceObjectID = "in_456"

	_, err := store.AppendBatch(context.Background(), drafts)
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestPostgresStore_QueryByAccountPages(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pages := [][][]interface{}{
		{entryRow("a", "creator_1", 100, base), entryRow("b", "creator_1", 200, base.Add(time.Hour))},
		{entryRow("c", "creator_1", 300, base.Add(2*time.Hour))},
	}

	var calls []string
	var cursorArgs []interface{}
	pool := &SimpleMockPool{queryFunc: func(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
		calls = append(calls, sql)
		page := pages[len(calls)-1]
		if len(calls) == 2 {
			cursorArgs = args
		}
		return &mockRows{rows: page}, nil
	}}

	store := NewPostgresStore(pool)
	store.PageSize = 2

	entries, err := Collect(store.QueryByAccount(context.Background(), "creator_1", Range{}))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
	assert.Equal(t, Memo{"invoice": "in_a"}, entries[0].Memo)

	require.Len(t, calls, 2)
	assert.NotContains(t, calls[0], "(created_at, id) >")
	assert.Contains(t, calls[1], "(created_at, id) >")
	assert.Equal(t, []interface{}{"creator_1", base.Add(time.Hour), "b", 2}, cursorArgs)
}

func TestPostgresStore_QueryByAccountRangeArgs(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	var gotSQL string
	var gotArgs []interface{}
	pool := &SimpleMockPool{queryFunc: func(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
		gotSQL, gotArgs = sql, args
		return &mockRows{}, nil
	}}

	entries, err := Collect(NewPostgresStore(pool).QueryByAccount(context.Background(), "creator_1", Range{Since: since, Until: until}))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Contains(t, gotSQL, "created_at >= $2")
	assert.Contains(t, gotSQL, "created_at < $3")
	assert.Contains(t, gotSQL, "LIMIT $4")
	assert.Equal(t, []interface{}{"creator_1", since, until, DefaultPageSize}, gotArgs)
}

func TestPostgresStore_QueryByAccountYieldsError(t *testing.T) {
	pool := &SimpleMockPool{queryFunc: func(context.Context, string, ...interface{}) (pgx.Rows, error) {
		return nil, errors.New("conn closed")
	}}

	var sawErr error
	for _, err := range NewPostgresStore(pool).QueryByAccount(context.Background(), "creator_1", Range{}) {
		sawErr = err
	}
	assert.True(t, IsUnavailable(sawErr))
}

func TestPostgresStore_SumByAccount(t *testing.T) {
	var gotArgs []interface{}
	pool := &SimpleMockPool{queryRowFunc: func(_ context.Context, sql string, args ...interface{}) pgx.Row {
		gotArgs = args
		require.True(t, strings.Contains(sql, "COALESCE(SUM(amount_minor), 0)"))
		return &mockRow{values: []interface{}{int64(1800)}}
	}}

	total, err := NewPostgresStore(pool).SumByAccount(context.Background(), "creator_1", "usd", Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(1800), total.Amount)
	assert.Equal(t, "usd", total.Currency)
	assert.Equal(t, []interface{}{"creator_1", "usd"}, gotArgs)
}

func TestPostgresStore_SumByAccountUnavailable(t *testing.T) {
	pool := &SimpleMockPool{queryRowFunc: func(context.Context, string, ...interface{}) pgx.Row {
		return &mockRow{err: errors.New("timeout")}
	}}

	_, err := NewPostgresStore(pool).SumByAccount(context.Background(), "creator_1", "usd", Range{})
	assert.True(t, IsUnavailable(err))
}

func TestPostgresStore_Applied(t *testing.T) {
	pool := &SimpleMockPool{queryRowFunc: func(_ context.Context, _ string, args ...interface{}) pgx.Row {
		return &mockRow{values: []interface{}{args[0] == "in_123"}}
	}}
	store := NewPostgresStore(pool)

	applied, err := store.Applied(context.Background(), "in_123", EventPayment)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.Applied(context.Background(), "in_999", EventPayment)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestPostgresStore_PingAndMigrate(t *testing.T) {
	var statements int
	pool := &SimpleMockPool{
		execFunc: func(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
			statements++
			return pgconn.NewCommandTag("CREATE"), nil
		},
	}
	store := NewPostgresStore(pool)

	require.NoError(t, store.Migrate(context.Background()))
	assert.Equal(t, len(postgresMigrations), statements)
	assert.NoError(t, store.Ping(context.Background()))

	pool.pingErr = errors.New("down")
	assert.True(t, IsUnavailable(store.Ping(context.Background())))
}

func TestStoreError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := unavailable("append batch", cause)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "append batch")
	assert.NoError(t, unavailable("noop", nil))
}

func BenchmarkPostgresStore_AppendBatch(b *testing.B) {
	ctx := context.Background()
	pool := &SimpleMockPool{}
	store := NewPostgresStore(pool)
	drafts := paymentDrafts("in_bench", 2000, 200)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.AppendBatch(ctx, drafts); err != nil {
			b.Fatal(err)
		}
	}
}
