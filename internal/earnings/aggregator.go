// Package earnings derives creator-facing balances and monthly rollups from
// the ledger. Nothing here is stored; every figure is recomputed from entries.
package earnings

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"github.com/example/creator-ledger/internal/ledger"
	"github.com/example/creator-ledger/internal/money"
)

// Reader is the read side of ledger.Store.
type Reader interface {
	QueryByAccount(ctx context.Context, accountID string, r ledger.Range) iter.Seq2[ledger.Entry, error]
	SumByAccount(ctx context.Context, accountID, currency string, r ledger.Range) (money.Money, error)
}

// MonthlyBucket aggregates one UTC calendar month. Gross sums payment
// entries, Net sums every entry.
type MonthlyBucket struct {
	Month string      `json:"month"`
	Gross money.Money `json:"gross"`
	Net   money.Money `json:"net"`
}

// Summary is the earnings view rendered by the reporting layer.
type Summary struct {
	CreatorID  string          `json:"creator_id"`
	TotalGross money.Money     `json:"total_gross"`
	TotalNet   money.Money     `json:"total_net"`
	Currency   string          `json:"currency"`
	Monthly    []MonthlyBucket `json:"monthly"`
}

// Aggregator computes read-side projections. It keeps no state.
type Aggregator struct {
	reader Reader
}

// NewAggregator creates an Aggregator over reader.
func NewAggregator(reader Reader) *Aggregator {
	return &Aggregator{reader: reader}
}

// CurrentBalance sums every entry of accountID in currency.
func (a *Aggregator) CurrentBalance(ctx context.Context, accountID, currency string) (money.Money, error) {
	balance, err := a.reader.SumByAccount(ctx, accountID, currency, ledger.Range{})
	if err != nil {
		return money.Money{}, fmt.Errorf("failed to compute balance for %s: %w", accountID, err)
	}
	return balance, nil
}

// MonthlyRollup groups accountID's entries in currency by month of
// created_at, oldest first.
func (a *Aggregator) MonthlyRollup(ctx context.Context, accountID, currency string) ([]MonthlyBucket, error) {
	return a.rollup(ctx, accountID, currency)
}

// Earnings returns totals and the monthly breakdown from a single scan, so
// TotalNet always equals the sum of the monthly nets.
func (a *Aggregator) Earnings(ctx context.Context, creatorID, currency string) (Summary, error) {
	buckets, err := a.rollup(ctx, creatorID, currency)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		CreatorID:  creatorID,
		TotalGross: money.Zero(currency),
		TotalNet:   money.Zero(currency),
		Currency:   currency,
		Monthly:    buckets,
	}
	for _, b := range buckets {
		summary.TotalGross = summary.TotalGross.MustAdd(b.Gross)
		summary.TotalNet = summary.TotalNet.MustAdd(b.Net)
	}
	return summary, nil
}

func (a *Aggregator) rollup(ctx context.Context, accountID, currency string) ([]MonthlyBucket, error) {
	byMonth := make(map[string]*MonthlyBucket)

	for entry, err := range a.reader.QueryByAccount(ctx, accountID, ledger.Range{}) {
		if err != nil {
			return nil, fmt.Errorf("failed to scan entries for %s: %w", accountID, err)
		}
		if entry.Currency != currency {
			continue
		}

		month := entry.CreatedAt.UTC().Format("2006-01")
		b, ok := byMonth[month]
		if !ok {
			b = &MonthlyBucket{Month: month, Gross: money.Zero(currency), Net: money.Zero(currency)}
			byMonth[month] = b
		}

		amount := entry.Money()
		if entry.EventType == ledger.EventPayment {
			b.Gross = b.Gross.MustAdd(amount)
		}
		b.Net = b.Net.MustAdd(amount)
	}

	buckets := make([]MonthlyBucket, 0, len(byMonth))
	for _, b := range byMonth {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Month < buckets[j].Month })

	return buckets, nil
}
