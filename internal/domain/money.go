package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

// ErrCurrencyMismatch indicates arithmetic was attempted across different currencies.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Money holds an amount in the smallest currency unit together with its ISO 4217 code.
// Monetary fields never use floating point; rate computations round half-to-even.
type Money struct {
	Amount   int64
	Currency string
}

// NewMoney validates the currency code and returns the Money value.
func NewMoney(amount int64, code string) (Money, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, err := currency.ParseISO(code); err != nil {
		return Money{}, fmt.Errorf("money: invalid currency %q: %w", code, err)
	}
	return Money{Amount: amount, Currency: code}, nil
}

// Zero returns a zero amount in the same currency.
func (m Money) Zero() Money {
	return Money{Amount: 0, Currency: m.Currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Add returns m + other, failing on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Sub returns m - other, failing on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// MulInt returns m multiplied by the given quantity.
func (m Money) MulInt(n int64) Money {
	return Money{Amount: m.Amount * n, Currency: m.Currency}
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

// RoundHalfEven rounds to the nearest minor unit, ties to even.
func RoundHalfEven(x float64) int64 {
	return int64(math.RoundToEven(x))
}

// ExclusiveTax computes tax added on top of a tax-exclusive subtotal.
func ExclusiveTax(subtotal Money, rate float64) Money {
	return Money{
		Amount:   RoundHalfEven(float64(subtotal.Amount) * rate),
		Currency: subtotal.Currency,
	}
}

// InclusiveTax extracts the tax portion already contained in a tax-inclusive subtotal.
func InclusiveTax(subtotal Money, rate float64) Money {
	if rate <= 0 {
		return subtotal.Zero()
	}
	return Money{
		Amount:   RoundHalfEven(float64(subtotal.Amount) * rate / (1 + rate)),
		Currency: subtotal.Currency,
	}
}
