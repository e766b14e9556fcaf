package events

import (
	"maps"

	"github.com/example/creator-ledger/internal/ledger"
)

// Mapper translates events into ledger drafts. It is pure and safe for
// concurrent use.
type Mapper struct {
	PlatformAccountID string
}

// NewMapper returns a Mapper crediting fees to platformAccountID, or to
// ledger.DefaultPlatformAccountID when empty.
func NewMapper(platformAccountID string) *Mapper {
	if platformAccountID == "" {
		platformAccountID = ledger.DefaultPlatformAccountID
	}
	return &Mapper{PlatformAccountID: platformAccountID}
}

// Map never fails. Kinds the ledger does not track, and events without a
// creator, yield no drafts. Zero amounts still yield drafts.
func (m *Mapper) Map(ev Event) []ledger.Draft {
	switch e := ev.(type) {
	case PaymentSucceeded:
		return m.payment(e)
	case Reversal:
		return m.reversal(e)
	default:
		return nil
	}
}

// payment splits gross into the creator's net and the platform fee. The two
// drafts sum to gross.
func (m *Mapper) payment(e PaymentSucceeded) []ledger.Draft {
	memo := ledger.Memo{"invoice": e.Source}
	if e.ChargeID != "" {
		memo["charge"] = e.ChargeID
	}

	return []ledger.Draft{
		{
			AccountID:      e.CreatorID,
			Role:           ledger.RoleCreator,
			Amount:         e.Gross - e.Fee,
			Currency:       e.Currency,
			EventType:      ledger.EventPayment,
			SourceObjectID: e.Source,
			Memo:           memo,
		},
		{
			AccountID:      m.PlatformAccountID,
			Role:           ledger.RolePlatform,
			Amount:         e.Fee,
			Currency:       e.Currency,
			EventType:      ledger.EventPlatformFee,
			SourceObjectID: e.Source,
			Memo:           maps.Clone(memo),
		},
	}
}

// reversal mirrors payment with negated amounts. The two drafts sum to
// -refunded.
func (m *Mapper) reversal(e Reversal) []ledger.Draft {
	memo := ledger.Memo{"reason": string(e.Reason)}
	switch e.Reason {
	case KindChargebackFundsWithdrawn:
		memo["dispute"] = e.Source
		if e.ChargeID != "" {
			memo["charge"] = e.ChargeID
		}
	default:
		memo["charge"] = e.Source
		if e.ChargeID != "" {
			memo["charge"] = e.ChargeID
			memo["refund"] = e.Source
		}
	}

	return []ledger.Draft{
		{
			AccountID:      e.CreatorID,
			Role:           ledger.RoleCreator,
			Amount:         -(e.Refunded - e.Fee),
			Currency:       e.Currency,
			EventType:      ledger.EventRefund,
			SourceObjectID: e.Source,
			Memo:           memo,
		},
		{
			AccountID:      m.PlatformAccountID,
			Role:           ledger.RolePlatform,
			Amount:         -e.Fee,
			Currency:       e.Currency,
			EventType:      ledger.EventPlatformFeeRefund,
			SourceObjectID: e.Source,
			Memo:           maps.Clone(memo),
		},
	}
}
