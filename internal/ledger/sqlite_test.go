package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Minute}
	store := NewSQLiteStore(db).WithClock(clock.Now)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSQLiteStore_AppendBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	first, err := store.AppendBatch(ctx, paymentDrafts("in_123", 2000, 200))
	require.NoError(t, err)
	require.Len(t, first, 2)

	before, err := store.SumByAccount(ctx, "creator_1", "usd", Range{})
	require.NoError(t, err)

	second, err := store.AppendBatch(ctx, paymentDrafts("in_123", 2000, 200))
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	after, err := store.SumByAccount(ctx, "creator_1", "usd", Range{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(1800), after.Amount)

	rows, err := store.QueryBySource(ctx, "in_123")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSQLiteStore_AppendBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	drafts := paymentDrafts("in_123", 2000, 200)
	_, err := store.AppendBatch(ctx, drafts[1:])
	require.NoError(t, err)

	_, err = store.AppendBatch(ctx, drafts)
	var dup *DuplicateEventError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, EventPlatformFee, dup.EventType)

	applied, err := store.Applied(ctx, "in_123", EventPayment)
	require.NoError(t, err)
	assert.False(t, applied, "creator row of a rejected batch must not persist")

	balance, err := store.SumByAccount(ctx, "creator_1", "usd", Range{})
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestSQLiteStore_PairwiseConservation(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	_, err := store.AppendBatch(ctx, paymentDrafts("in_123", 2000, 200))
	require.NoError(t, err)
	_, err = store.AppendBatch(ctx, refundDrafts("ch_123", 2000, 200))
	require.NoError(t, err)

	creator, err := store.SumByAccount(ctx, "creator_1", "usd", Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), creator.Amount)

	platform, err := store.SumByAccount(ctx, DefaultPlatformAccountID, "usd", Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), platform.Amount)
}

func TestSQLiteStore_QueryByAccountOrderedAndRestartable(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t).WithPageSize(2)

	for i := 0; i < 5; i++ {
		_, err := store.AppendBatch(ctx, paymentDrafts(fmt.Sprintf("in_%d", i), 1000, 100))
		require.NoError(t, err)
	}

	seq := store.QueryByAccount(ctx, "creator_1", Range{})
	first, err := Collect(seq)
	require.NoError(t, err)
	require.Len(t, first, 5)
	for i := 1; i < len(first); i++ {
		assert.False(t, first[i].CreatedAt.Before(first[i-1].CreatedAt))
	}

	again, err := Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = store.AppendBatch(ctx, paymentDrafts("in_unrelated", 500, 50))
	require.NoError(t, err)

	later, err := Collect(store.QueryByAccount(ctx, "creator_1", Range{}))
	require.NoError(t, err)
	require.Len(t, later, 6)
	assert.Equal(t, first, later[:5])
}

func TestSQLiteStore_QueryByAccountEarlyStop(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t).WithPageSize(2)

	for i := 0; i < 4; i++ {
		_, err := store.AppendBatch(ctx, paymentDrafts(fmt.Sprintf("in_%d", i), 1000, 100))
		require.NoError(t, err)
	}

	var seen int
	for _, err := range store.QueryByAccount(ctx, "creator_1", Range{}) {
		require.NoError(t, err)
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)
}

func TestSQLiteStore_RangeBounds(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	var created []Entry
	for i := 0; i < 3; i++ {
		entries, err := store.AppendBatch(ctx, paymentDrafts(fmt.Sprintf("in_%d", i), 1000, 100))
		require.NoError(t, err)
		created = append(created, entries[0])
	}

	r := Range{Since: created[1].CreatedAt, Until: created[2].CreatedAt}
	entries, err := Collect(store.QueryByAccount(ctx, "creator_1", r))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, created[1].ID, entries[0].ID)
	assert.True(t, r.Contains(entries[0].CreatedAt))

	sum, err := store.SumByAccount(ctx, "creator_1", "usd", r)
	require.NoError(t, err)
	assert.Equal(t, int64(900), sum.Amount)
}

func TestSQLiteStore_SumFiltersCurrency(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	_, err := store.AppendBatch(ctx, paymentDrafts("in_usd", 2000, 200))
	require.NoError(t, err)

	eur := paymentDrafts("in_eur", 5000, 500)
	for i := range eur {
		eur[i].Currency = "eur"
	}
	_, err = store.AppendBatch(ctx, eur)
	require.NoError(t, err)

	usd, err := store.SumByAccount(ctx, "creator_1", "usd", Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(1800), usd.Amount)

	eurSum, err := store.SumByAccount(ctx, "creator_1", "eur", Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(4500), eurSum.Amount)
}

func TestSQLiteStore_MemoRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	drafts := paymentDrafts("in_123", 2000, 200)
	drafts[0].Memo = Memo{"invoice": "in_123", "charge": "ch_123"}
	_, err := store.AppendBatch(ctx, drafts)
	require.NoError(t, err)

	rows, err := store.QueryBySource(ctx, "in_123")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, e := range rows {
		switch e.EventType {
		case EventPayment:
			assert.Equal(t, Memo{"invoice": "in_123", "charge": "ch_123"}, e.Memo)
		case EventPlatformFee:
			assert.Nil(t, e.Memo)
		}
	}
}

func TestSQLiteStore_EntriesAreImmutable(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	_, err := store.AppendBatch(ctx, paymentDrafts("in_123", 2000, 200))
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, "UPDATE ledger_entries SET amount_minor = 0")
	assert.Error(t, err)
	_, err = store.db.ExecContext(ctx, "DELETE FROM ledger_entries")
	assert.Error(t, err)
}

func TestGuard_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(newTestSQLiteStore(t))

	claimed, err := guard.Claimed(ctx, Key{SourceObjectID: "in_123", EventType: EventPayment})
	require.NoError(t, err)
	assert.False(t, claimed)

	ok, entries, err := guard.Claim(ctx, paymentDrafts("in_123", 2000, 200))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, entries, 2)

	ok, entries, err = guard.Claim(ctx, paymentDrafts("in_123", 2000, 200))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, entries)

	claimed, err = guard.Claimed(ctx, Key{SourceObjectID: "in_123", EventType: EventPayment})
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestGuard_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	guard := NewGuard(store)

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := guard.Claim(ctx, paymentDrafts("in_race", 2000, 200))
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	rows, err := store.QueryBySource(ctx, "in_race")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
