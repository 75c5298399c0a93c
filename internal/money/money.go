// Package money provides exact fixed-point amounts for ledger arithmetic.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Cents is an amount expressed in hundredths of the currency unit.
type Cents int64

// Zero is the empty amount.
const Zero Cents = 0

// ErrPrecision indicates an amount carries more than two decimal places.
var ErrPrecision = errors.New("money: amount has more than two decimal places")

var printer = message.NewPrinter(language.AmericanEnglish)

// FromDecimal converts a decimal amount into cents without rounding.
func FromDecimal(d decimal.Decimal) (Cents, error) {
	shifted := d.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrPrecision, d.String())
	}
	return Cents(shifted.IntPart()), nil
}

// Parse reads a decimal string such as "5200000.00" into cents.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	s = strings.TrimPrefix(s, "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants in tests and seeds.
func MustParse(s string) Cents {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// FromUnits builds an amount from whole currency units.
func FromUnits(units int64) Cents {
	return Cents(units * 100)
}

// Decimal returns the amount as a decimal in currency units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String renders the plain decimal form, e.g. "150000000.00".
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// Format renders the amount for people, e.g. "$150,000,000.00".
func (c Cents) Format() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%s.%02d", sign, printer.Sprintf("%d", v/100), v%100)
}

// Abs returns the absolute amount.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}

// IsZero reports whether the amount is zero.
func (c Cents) IsZero() bool { return c == 0 }

// MarshalJSON encodes the amount as a fixed two-decimal string.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON accepts both JSON strings and numbers.
func (c *Cents) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Sum adds the supplied amounts.
func Sum(values ...Cents) Cents {
	var total Cents
	for _, v := range values {
		total += v
	}
	return total
}
