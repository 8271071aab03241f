package valueobject

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency represents a currency code (ISO 4217)
type Currency string

const (
	EUR Currency = "EUR" // Euro (default)
	USD Currency = "USD" // US Dollar
	GBP Currency = "GBP" // British Pound
	CHF Currency = "CHF" // Swiss Franc
	JPY Currency = "JPY" // Japanese Yen
	CNY Currency = "CNY" // Chinese Yuan
)

// DefaultCurrency is the default currency for the system
const DefaultCurrency = EUR

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[Currency]bool{
	JPY: true,
	"KRW": true,
	"VND": true,
	"CLP": true,
	"ISK": true,
}

// IsValid reports whether the currency looks like an ISO 4217 code
func (c Currency) IsValid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// String returns the currency code
func (c Currency) String() string {
	return string(c)
}

// MinorUnits returns the number of decimal places of the currency's minor unit
func (c Currency) MinorUnits() int32 {
	if zeroDecimalCurrencies[c] {
		return 0
	}
	return 2
}

// Epsilon returns one minor unit of the currency (0.01 for EUR, 1 for JPY).
// Monetary totals closer than this are considered equal.
func (c Currency) Epsilon() decimal.Decimal {
	return decimal.New(1, -c.MinorUnits())
}

// OnMinorGrid reports whether a has no digits below the minor unit
func (c Currency) OnMinorGrid(a decimal.Decimal) bool {
	return a.Equal(a.Truncate(c.MinorUnits()))
}

// ApproxEqual reports whether a and b differ by strictly less than one minor unit
func (c Currency) ApproxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(c.Epsilon())
}

// ApproxZero reports whether a is within one minor unit of zero
func (c Currency) ApproxZero(a decimal.Decimal) bool {
	return c.ApproxEqual(a, decimal.Zero)
}

// Money is a value object representing monetary amounts.
// It is immutable - all operations return new Money instances
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney creates a new Money with the specified amount and currency
func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if currency == "" {
		return Money{}, errors.New("currency cannot be empty")
	}
	if !currency.IsValid() {
		return Money{}, fmt.Errorf("invalid currency code: %q", currency)
	}
	return Money{amount: amount, currency: currency}, nil
}

// MustMoney creates Money and panics on an invalid currency. Intended for
// constants and tests.
func MustMoney(amount string, currency Currency) Money {
	m, err := NewMoneyFromString(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// NewMoneyFromString creates Money from a string representation
func NewMoneyFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount string: %w", err)
	}
	return NewMoney(d, currency)
}

// Zero returns a zero-value Money in the specified currency
func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Amount returns the decimal amount
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the currency code
func (m Money) Currency() Currency {
	return m.currency
}

// IsZero returns true if the amount is within one minor unit of zero
func (m Money) IsZero() bool {
	return m.currency.ApproxZero(m.amount)
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// IsNegative returns true if the amount is negative
func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// Add returns a new Money with the sum of both amounts
// Returns error if currencies don't match
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot add money with different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Subtract returns a new Money with the difference
// Returns error if currencies don't match
func (m Money) Subtract(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot subtract money with different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Equals returns true if both values share a currency and are within one minor unit
func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.currency.ApproxEqual(m.amount, other.amount)
}

// GreaterThan returns true if this Money exceeds the other by at least one minor unit
func (m Money) GreaterThan(other Money) (bool, error) {
	if m.currency != other.currency {
		return false, fmt.Errorf("cannot compare money with different currencies: %s and %s", m.currency, other.currency)
	}
	return m.amount.GreaterThan(other.amount) && !m.currency.ApproxEqual(m.amount, other.amount), nil
}

// Round returns the amount rounded to the currency's minor unit
func (m Money) Round() Money {
	return Money{amount: m.amount.Round(m.currency.MinorUnits()), currency: m.currency}
}

// String returns a string representation of the Money
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(m.currency.MinorUnits()), m.currency)
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string   `json:"amount"`
		Currency Currency `json:"currency"`
	}{
		Amount:   m.amount.StringFixed(m.currency.MinorUnits()),
		Currency: m.currency,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		Amount   string   `json:"amount"`
		Currency Currency `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := NewMoneyFromString(v.Amount, v.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
