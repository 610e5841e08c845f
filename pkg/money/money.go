// Package money converts between integer minor units and the decimal
// strings used on the HTTP surface. Everything behind the API works in cents.
package money

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

const minorDigits = 2

// Amount is a minor-unit amount that reads and writes as a decimal string.
type Amount int64

// Cents returns the amount in minor units.
func (a Amount) Cents() int64 { return int64(a) }

func (a Amount) String() string {
	return Format(int64(a))
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts "123.45" or 123.45.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(data, `"`))
	cents, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = Amount(cents)
	return nil
}

// Format renders cents as a fixed two-place decimal, e.g. 50000 -> "500.00".
func Format(cents int64) string {
	return decimal.NewFromInt(cents).Shift(-minorDigits).StringFixed(minorDigits)
}

// Parse reads a decimal string into cents. More than two fractional digits
// is an error rather than a silent rounding.
func Parse(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	shifted := d.Shift(minorDigits)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", value, minorDigits)
	}
	if shifted.Abs().GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, fmt.Errorf("amount %q out of range", value)
	}
	return shifted.IntPart(), nil
}
