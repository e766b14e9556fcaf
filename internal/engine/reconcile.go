package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/creator-ledger/internal/ledger"
	"github.com/example/creator-ledger/internal/metrics"
)

// ErrChargeNotFound is returned when the payment source has no entries.
var ErrChargeNotFound = errors.New("engine: charge not found")

// ChargeReport audits one charge lineage: the original payment and every
// reversal linked to it.
type ChargeReport struct {
	PaymentSourceID   string                   `json:"payment_source_id"`
	ReversalSourceIDs []string                 `json:"reversal_source_ids"`
	CreatorAccountID  string                   `json:"creator_account_id"`
	NetByAccount      map[string]int64         `json:"net_by_account"`
	Entries           []ledger.Entry           `json:"entries"`
	Lineage           *ledger.ValidationResult `json:"lineage"`
}

// Balanced reports whether the creator's share nets to zero, which holds once
// the charge is fully reversed.
func (r ChargeReport) Balanced() bool {
	return r.Lineage != nil && r.Lineage.IsValid
}

// ReconcileCharge loads the entries of a payment and its reversals and checks
// the creator's lineage.
func (e *Engine) ReconcileCharge(ctx context.Context, paymentSourceID string, reversalSourceIDs ...string) (ChargeReport, error) {
	storeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	defer metrics.ObserveStore("query_by_source", start)

	payment, err := e.store.QueryBySource(storeCtx, paymentSourceID)
	if err != nil {
		return ChargeReport{}, fmt.Errorf("failed to load payment %s: %w", paymentSourceID, err)
	}

	report := ChargeReport{
		PaymentSourceID:   paymentSourceID,
		ReversalSourceIDs: reversalSourceIDs,
		NetByAccount:      make(map[string]int64),
	}
	for _, entry := range payment {
		if acct := entry.Account(); acct.Role == ledger.RoleCreator && entry.EventType == ledger.EventPayment {
			report.CreatorAccountID = acct.ID
		}
	}
	if report.CreatorAccountID == "" {
		return ChargeReport{}, fmt.Errorf("%w: %s", ErrChargeNotFound, paymentSourceID)
	}

	report.Entries = append(report.Entries, payment...)
	for _, src := range reversalSourceIDs {
		reversal, err := e.store.QueryBySource(storeCtx, src)
		if err != nil {
			return ChargeReport{}, fmt.Errorf("failed to load reversal %s: %w", src, err)
		}
		report.Entries = append(report.Entries, reversal...)
	}

	for _, entry := range report.Entries {
		report.NetByAccount[entry.AccountID] += entry.Amount
	}
	report.Lineage = e.validator.ValidateLineage(report.CreatorAccountID, report.Entries)
	report.Lineage.SourceObjectID = paymentSourceID

	if !report.Balanced() {
		e.logger.InfoContext(ctx, "charge lineage open",
			"source_object_id", paymentSourceID,
			"creator", report.CreatorAccountID,
			"net", report.NetByAccount[report.CreatorAccountID],
		)
	}

	return report, nil
}
