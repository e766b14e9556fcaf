package ledger

import (
	"context"
	"iter"
	"time"

	"github.com/example/creator-ledger/internal/money"
)

// Store is the append-only persistence contract for ledger entries.
//
// The unique constraint on (source_object_id, event_type) is the only
// synchronisation point between concurrent writers; no implementation may
// rely on an in-process lock for idempotency.
type Store interface {
	// AppendBatch persists every draft of one external event atomically and
	// assigns ID and CreatedAt. It returns a *DuplicateEventError when any key
	// of the batch already exists, in which case nothing is written.
	AppendBatch(ctx context.Context, drafts []Draft) ([]Entry, error)

	// QueryByAccount yields the account's entries in created_at order.
	// Iteration is lazy and may be restarted; the sequence stops at the first
	// error, which is yielded alongside a zero Entry.
	QueryByAccount(ctx context.Context, accountID string, r Range) iter.Seq2[Entry, error]

	// QueryBySource returns every entry created for one processor object.
	QueryBySource(ctx context.Context, sourceObjectID string) ([]Entry, error)

	// SumByAccount reduces the account's entries in currency with integer
	// arithmetic.
	SumByAccount(ctx context.Context, accountID, currency string, r Range) (money.Money, error)

	// Applied reports whether the key has already been claimed.
	Applied(ctx context.Context, sourceObjectID string, eventType EventType) (bool, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// Clock supplies created_at timestamps. Stores default to time.Now.
type Clock func() time.Time

// DefaultPageSize is the number of rows fetched per round trip while
// iterating an account.
const DefaultPageSize = 500

// pageCursor is the keyset position of the last yielded row.
type pageCursor struct {
	createdAt time.Time
	id        string
	started   bool
}

// paginate turns a page fetcher into a lazy sequence. Each page is fully read
// and its rows closed before anything is yielded, so no connection is held
// while the consumer runs.
func paginate(fetch func(cur pageCursor) ([]Entry, error), pageSize int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var cur pageCursor
		for {
			page, err := fetch(cur)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			cur = pageCursor{createdAt: last.CreatedAt, id: last.ID, started: true}
		}
	}
}

// Collect drains a sequence into a slice.
func Collect(seq iter.Seq2[Entry, error]) ([]Entry, error) {
	var out []Entry
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
