// Package money provides a fixed-point currency value. Amounts are held in
// the currency's minor units (cents, pence, yen) as int64; there is no
// floating point anywhere in this package.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch is returned when arithmetic is attempted between two
// values of different currencies. Reaching it means a caller mixed ledgers.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Money is a signed amount in minor units plus an ISO 4217 code.
// The code is carried as supplied by the payment processor (lowercase by
// convention) and is never normalised or validated here.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// New returns a Money of amount minor units in currency.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Zero returns a zero value in currency.
func Zero(currency string) Money {
	return Money{Currency: currency}
}

// Add returns m + other. Currencies must match exactly.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Sub returns m - other. Currencies must match exactly.
func (m Money) Sub(other Money) (Money, error) {
	return m.Add(other.Negate())
}

// Negate flips the sign and keeps the currency.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// MustAdd is Add for values already known to share a currency.
// It panics on ErrCurrencyMismatch.
func (m Money) MustAdd(other Money) Money {
	sum, err := m.Add(other)
	if err != nil {
		panic(err)
	}
	return sum
}

// Sum adds values into a zero of currency.
func Sum(currency string, values ...Money) (Money, error) {
	total := Zero(currency)
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal reports whether amount and currency are both identical.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// Decimal converts to major units for display, e.g. 1800 usd -> 18.00.
// Never feed the result back into ledger arithmetic.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -Exponent(m.Currency))
}

// Display renders the major-unit amount with the currency's fixed precision.
func (m Money) Display() string {
	return m.Decimal().StringFixed(Exponent(m.Currency))
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Display(), m.Currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %q vs %q", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

// zeroDecimal lists the currencies the processor treats as having no minor unit.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true,
	"xpf": true,
}

// threeDecimal lists currencies with three minor-unit digits.
var threeDecimal = map[string]bool{
	"bhd": true, "jod": true, "kwd": true, "omr": true, "tnd": true,
}

// Exponent returns the number of minor-unit digits for currency.
// Unknown codes default to two.
func Exponent(currency string) int32 {
	c := strings.ToLower(currency)
	switch {
	case zeroDecimal[c]:
		return 0
	case threeDecimal[c]:
		return 3
	default:
		return 2
	}
}
