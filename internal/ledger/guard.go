package ledger

import (
	"context"
	"errors"
)

// Guard is the idempotency check-and-set for webhook deliveries. It owns no
// state: the claim is the insert itself, made atomic by the store's unique
// constraint on (source_object_id, event_type), so any number of processes
// may race on the same key.
type Guard struct {
	store Store
}

// NewGuard returns a Guard backed by store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Claim records the batch if none of its keys were claimed before and
// returns true with the persisted entries. When the batch was already
// applied it returns false and a nil error; nothing is written.
func (g *Guard) Claim(ctx context.Context, drafts []Draft) (bool, []Entry, error) {
	entries, err := g.store.AppendBatch(ctx, drafts)
	if err != nil {
		var dup *DuplicateEventError
		if errors.As(err, &dup) {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, entries, nil
}

// Claimed reports whether key was applied, without side effects.
func (g *Guard) Claimed(ctx context.Context, key Key) (bool, error) {
	return g.store.Applied(ctx, key.SourceObjectID, key.EventType)
}
