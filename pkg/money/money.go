// Package money provides a currency-tagged decimal amount. Amounts keep full
// precision through intermediate arithmetic; Round is applied by callers only
// at line and total boundaries.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnits lists ISO 4217 currencies whose minor unit count differs from 2.
var minorUnits = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// MinorUnits returns the number of decimal places used by the currency.
func MinorUnits(currency string) int32 {
	if n, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return n
	}
	return 2
}

// Money is an amount in a single currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// New creates a Money value. The currency code is upper-cased.
func New(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(currency)}
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return New(decimal.Zero, currency)
}

// Parse creates a Money value from a decimal string such as "19.99".
func Parse(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return New(d, currency), nil
}

// MustParse is like Parse but panics on malformed input. Intended for constants and tests.
func MustParse(amount, currency string) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMinor creates a Money value from an integer count of minor units (e.g. cents).
func FromMinor(minor int64, currency string) Money {
	return New(decimal.New(minor, -MinorUnits(currency)), currency)
}

// SameCurrency reports whether every value shares the currency of m.
func (m Money) SameCurrency(others ...Money) bool {
	for _, o := range others {
		if o.Currency != m.Currency {
			return false
		}
	}
	return true
}

func (m Money) mustMatch(o Money) {
	if m.Currency != o.Currency {
		panic(fmt.Sprintf("money: currency mismatch %s vs %s", m.Currency, o.Currency))
	}
}

// Add returns m + o. It panics if the currencies differ; callers check
// SameCurrency where amounts enter the engine.
func (m Money) Add(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}
}

// Sub returns m - o. It panics if the currencies differ.
func (m Money) Sub(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency}
}

// Mul multiplies the amount by a decimal factor.
func (m Money) Mul(f decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(f), Currency: m.Currency}
}

// MulInt multiplies the amount by an integer quantity.
func (m Money) MulInt(n int) Money {
	return m.Mul(decimal.NewFromInt(int64(n)))
}

// Percent returns pct percent of m.
func (m Money) Percent(pct decimal.Decimal) Money {
	return m.Mul(pct).Div(decimal.NewFromInt(100))
}

// Div divides the amount by d. Division keeps shopspring's default precision.
func (m Money) Div(d decimal.Decimal) Money {
	return Money{Amount: m.Amount.Div(d), Currency: m.Currency}
}

// Round rounds half away from zero to the currency's minor units.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(MinorUnits(m.Currency)), Currency: m.Currency}
}

// Minor returns the rounded amount as an integer count of minor units.
func (m Money) Minor() int64 {
	return m.Round().Amount.Shift(MinorUnits(m.Currency)).IntPart()
}

// Cmp compares m and o: -1 if m < o, 0 if equal, +1 if m > o.
func (m Money) Cmp(o Money) int {
	m.mustMatch(o)
	return m.Amount.Cmp(o.Amount)
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// LessThan reports m < o.
func (m Money) LessThan(o Money) bool { return m.Cmp(o) < 0 }

// GreaterThan reports m > o.
func (m Money) GreaterThan(o Money) bool { return m.Cmp(o) > 0 }

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// NonNegative clamps a negative amount to zero.
func (m Money) NonNegative() Money {
	if m.IsNegative() {
		return Zero(m.Currency)
	}
	return m
}

// Sum adds values in the given currency; an empty list yields zero.
func Sum(currency string, values ...Money) Money {
	total := Zero(currency)
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// String formats the rounded amount with its currency, e.g. "USD 18.00".
func (m Money) String() string {
	return m.Currency + " " + m.Amount.StringFixed(MinorUnits(m.Currency))
}
