package ledger

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Validator checks ledger invariants. It holds no state and never touches
// storage; stores call ValidateBatch before writing and the engine uses
// ValidateLineage for reconciliation reports.
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	IsValid        bool                   `json:"is_valid"`
	ValidationType string                 `json:"validation_type"`
	Message        string                 `json:"message"`
	AccountID      string                 `json:"account_id,omitempty"`
	SourceObjectID string                 `json:"source_object_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

var currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)

// ValidateCurrencyCode checks the processor's lowercase ISO 4217 convention.
// The result is advisory: the mapper passes unknown codes through untouched.
func (v *Validator) ValidateCurrencyCode(currencyCode string) *ValidationResult {
	if len(currencyCode) != 3 {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "currency_code",
			Message:        "currency code must be exactly 3 characters",
			Timestamp:      time.Now(),
		}
	}

	matched := currencyPattern.MatchString(currencyCode)
	msg := fmt.Sprintf("currency code '%s' is valid", currencyCode)
	if !matched {
		msg = fmt.Sprintf("currency code '%s' must contain only lowercase letters (ISO 4217, processor convention)", currencyCode)
	}

	return &ValidationResult{
		IsValid:        matched,
		ValidationType: "currency_code",
		Message:        msg,
		Timestamp:      time.Now(),
	}
}

// ValidateBatch enforces the write rules for one external event: at least one
// draft, a single source object, a single currency, known event types,
// non-empty accounts and no key repeated inside the batch.
func (v *Validator) ValidateBatch(drafts []Draft) error {
	if len(drafts) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidBatch)
	}

	source := drafts[0].SourceObjectID
	currency := drafts[0].Currency
	if source == "" {
		return fmt.Errorf("%w: source object id is required", ErrInvalidBatch)
	}

	seen := make(map[Key]bool, len(drafts))
	for i, d := range drafts {
		if d.SourceObjectID != source {
			return fmt.Errorf("%w: draft %d references source %s, batch is for %s", ErrInvalidBatch, i, d.SourceObjectID, source)
		}
		if d.Currency != currency {
			return fmt.Errorf("%w: draft %d currency %q differs from %q", ErrInvalidBatch, i, d.Currency, currency)
		}
		if d.AccountID == "" {
			return fmt.Errorf("%w: draft %d has no account", ErrInvalidBatch, i)
		}
		if !d.EventType.Valid() {
			return fmt.Errorf("%w: draft %d has unknown event type %q", ErrInvalidBatch, i, d.EventType)
		}
		if seen[d.Key()] {
			return fmt.Errorf("%w: key %s repeated in batch", ErrInvalidBatch, d.Key())
		}
		seen[d.Key()] = true
	}

	return nil
}

// ValidateLineage checks that every entry tied to one underlying charge
// (the original payment plus all of its reversals) nets to zero on
// accountID. It only holds once the charge has been fully reversed.
func (v *Validator) ValidateLineage(accountID string, entries []Entry) *ValidationResult {
	var net int64
	currencies := map[string]bool{}
	sources := map[string]bool{}
	for _, e := range entries {
		if e.AccountID != accountID {
			continue
		}
		net += e.Amount
		currencies[e.Currency] = true
		sources[e.SourceObjectID] = true
	}

	details := map[string]interface{}{
		"net_amount": net,
		"sources":    sortedKeys(sources),
	}

	if len(currencies) > 1 {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "lineage_conservation",
			Message:        fmt.Sprintf("lineage spans %d currencies", len(currencies)),
			AccountID:      accountID,
			Timestamp:      time.Now(),
			Details:        details,
		}
	}

	if net != 0 {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "lineage_conservation",
			Message:        fmt.Sprintf("lineage does not net to zero: %d minor units remain", net),
			AccountID:      accountID,
			Timestamp:      time.Now(),
			Details:        details,
		}
	}

	return &ValidationResult{
		IsValid:        true,
		ValidationType: "lineage_conservation",
		Message:        "lineage nets to zero",
		AccountID:      accountID,
		Timestamp:      time.Now(),
		Details:        details,
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
