// Package money carries integer-cent amounts and their two-decimal rendering.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in the smallest currency unit.
type Cents int64

var hundred = decimal.NewFromInt(100)

// FromDecimal converts a dollar amount into cents, rounding half away from zero.
func FromDecimal(amount decimal.Decimal) Cents {
	return Cents(amount.Mul(hundred).Round(0).IntPart())
}

// Parse reads a dollar string such as "13.50".
func Parse(value string) (Cents, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return FromDecimal(d), nil
}

// Decimal returns the dollar value.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) Int64() int64 {
	return int64(c)
}

// String renders two fixed decimals, e.g. "90.00".
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// Dollars renders the amount with a currency sign, e.g. "$9.75".
func (c Cents) Dollars() string {
	if c < 0 {
		return "-$" + (-c).String()
	}
	return "$" + c.String()
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts a dollar string or a JSON number.
func (c *Cents) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := Parse(s)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*c = FromDecimal(d)
	return nil
}

// Percent returns floor(c * pct / 100) for non-negative amounts.
func (c Cents) Percent(pct int64) Cents {
	return Cents(int64(c) * pct / 100)
}
