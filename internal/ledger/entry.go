package ledger

import (
	"time"

	"github.com/example/creator-ledger/internal/money"
)

// EventType is the closed set of reasons an entry can exist. New kinds are
// added here, never as free text.
type EventType string

const (
	EventPayment           EventType = "payment"
	EventPlatformFee       EventType = "platform_fee"
	EventRefund            EventType = "refund"
	EventPlatformFeeRefund EventType = "platform_fee_refund"
)

// EventTypes returns every known EventType.
func EventTypes() []EventType {
	return []EventType{EventPayment, EventPlatformFee, EventRefund, EventPlatformFeeRefund}
}

// Valid reports whether t is a member of the enumeration.
func (t EventType) Valid() bool {
	switch t {
	case EventPayment, EventPlatformFee, EventRefund, EventPlatformFeeRefund:
		return true
	}
	return false
}

// Role tags the owner of an account.
type Role string

const (
	RoleCreator  Role = "creator"
	RolePlatform Role = "platform"
)

// DefaultPlatformAccountID is the well-known platform account used when
// configuration does not override it.
const DefaultPlatformAccountID = "platform"

// Account identifies a ledger account. Accounts are referenced, never created,
// and carry no stored balance.
type Account struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Memo is an audit annotation. It is stored verbatim and never interpreted.
type Memo map[string]string

// Draft is an entry before persistence: no ID and no CreatedAt yet.
type Draft struct {
	AccountID      string    `json:"account_id"`
	Role           Role      `json:"role"`
	Amount         int64     `json:"amount_minor_units"`
	Currency       string    `json:"currency"`
	EventType      EventType `json:"event_type"`
	SourceObjectID string    `json:"source_object_id"`
	Memo           Memo      `json:"memo,omitempty"`
}

// Money returns the signed amount as a Money value.
func (d Draft) Money() money.Money {
	return money.New(d.Amount, d.Currency)
}

// Key returns the idempotency key of the draft.
func (d Draft) Key() Key {
	return Key{SourceObjectID: d.SourceObjectID, EventType: d.EventType}
}

// Entry is an immutable ledger row. Positive amounts credit the account,
// negative amounts debit it.
type Entry struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Role           Role      `json:"role"`
	Amount         int64     `json:"amount_minor_units"`
	Currency       string    `json:"currency"`
	EventType      EventType `json:"event_type"`
	SourceObjectID string    `json:"source_object_id"`
	Memo           Memo      `json:"memo,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Money returns the signed amount as a Money value.
func (e Entry) Money() money.Money {
	return money.New(e.Amount, e.Currency)
}

// Account returns the account the entry posts to.
func (e Entry) Account() Account {
	return Account{ID: e.AccountID, Role: e.Role}
}

// Key returns the idempotency key the entry was persisted under.
func (e Entry) Key() Key {
	return Key{SourceObjectID: e.SourceObjectID, EventType: e.EventType}
}

// Key is the idempotency key: one mapping per (source object, event type).
type Key struct {
	SourceObjectID string
	EventType      EventType
}

func (k Key) String() string {
	return k.SourceObjectID + "/" + string(k.EventType)
}

// Range bounds a query on created_at. Since is inclusive, Until is exclusive,
// and a zero time leaves that side open.
type Range struct {
	Since time.Time
	Until time.Time
}

// Contains reports whether ts falls inside the range.
func (r Range) Contains(ts time.Time) bool {
	if !r.Since.IsZero() && ts.Before(r.Since) {
		return false
	}
	if !r.Until.IsZero() && !ts.Before(r.Until) {
		return false
	}
	return true
}

func newEntry(id string, d Draft, createdAt time.Time) Entry {
	return Entry{
		ID:             id,
		AccountID:      d.AccountID,
		Role:           d.Role,
		Amount:         d.Amount,
		Currency:       d.Currency,
		EventType:      d.EventType,
		SourceObjectID: d.SourceObjectID,
		Memo:           d.Memo,
		CreatedAt:      createdAt,
	}
}
