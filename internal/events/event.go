// Package events turns verified payment-processor webhooks into a closed set
// of typed events and maps them onto ledger drafts.
package events

// Kind is the processor's event name.
type Kind string

const (
	KindPaymentSucceeded         Kind = "payment_succeeded"
	KindRefund                   Kind = "refund"
	KindChargebackFundsWithdrawn Kind = "chargeback_funds_withdrawn"
)

// Supported reports whether k moves money in the ledger.
func (k Kind) Supported() bool {
	switch k {
	case KindPaymentSucceeded, KindRefund, KindChargebackFundsWithdrawn:
		return true
	}
	return false
}

// Event is one of PaymentSucceeded, Reversal, Unresolved or Unsupported.
type Event interface {
	Kind() Kind
	SourceObjectID() string
	event()
}

// PaymentSucceeded is new money collected for a creator. Fee is the
// platform's share of Gross.
type PaymentSucceeded struct {
	CreatorID string
	Source    string
	ChargeID  string
	Gross     int64
	Fee       int64
	Currency  string
}

func (e PaymentSucceeded) Kind() Kind             { return KindPaymentSucceeded }
func (e PaymentSucceeded) SourceObjectID() string { return e.Source }
func (PaymentSucceeded) event()                   {}

// Reversal removes money from a creator: a refund or a chargeback whose funds
// were withdrawn. Fee is the platform fee charged on the underlying charge and
// is reversed in full.
type Reversal struct {
	Reason    Kind
	CreatorID string
	Source    string
	ChargeID  string
	Refunded  int64
	Fee       int64
	Currency  string
}

func (e Reversal) Kind() Kind             { return e.Reason }
func (e Reversal) SourceObjectID() string { return e.Source }
func (Reversal) event()                   {}

// Unresolved is a supported kind whose creator could not be determined.
// It maps to nothing.
type Unresolved struct {
	EventKind Kind
	Source    string
}

func (e Unresolved) Kind() Kind             { return e.EventKind }
func (e Unresolved) SourceObjectID() string { return e.Source }
func (Unresolved) event()                   {}

// Unsupported is any event kind the ledger does not track.
type Unsupported struct {
	EventKind Kind
	Source    string
}

func (e Unsupported) Kind() Kind             { return e.EventKind }
func (e Unsupported) SourceObjectID() string { return e.Source }
func (Unsupported) event()                   {}
