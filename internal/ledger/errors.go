package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateEvent means the batch's idempotency key was already applied.
	// Callers treat it as success.
	ErrDuplicateEvent = errors.New("ledger: duplicate event")

	// ErrStoreUnavailable marks a transient storage failure. The webhook should
	// be answered with a retryable status so the processor redelivers it.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")

	// ErrInvalidBatch is returned for drafts that break the batch rules before
	// any write is attempted.
	ErrInvalidBatch = errors.New("ledger: invalid batch")
)

// DuplicateEventError carries the key that collided.
type DuplicateEventError struct {
	SourceObjectID string
	EventType      EventType
}

func (e *DuplicateEventError) Error() string {
	if e.EventType == "" {
		return fmt.Sprintf("ledger: duplicate event for source %s", e.SourceObjectID)
	}
	return fmt.Sprintf("ledger: duplicate event %s for source %s", e.EventType, e.SourceObjectID)
}

func (e *DuplicateEventError) Is(target error) bool {
	return target == ErrDuplicateEvent
}

// StoreError wraps a driver failure for operation Op. It matches both
// ErrStoreUnavailable and the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsDuplicate reports whether err signals an already-applied batch.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateEvent)
}

// IsUnavailable reports whether err is a transient storage failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
