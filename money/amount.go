// Package money holds exact decimal amounts. Floats never touch donation
// values: minimums, the multiple-of-18 rule and gateway payloads all work on
// the decimal representation.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type Amount struct {
	value decimal.Decimal
}

var (
	_ json.Unmarshaler = (*Amount)(nil)
	_ json.Marshaler   = (*Amount)(nil)
)

func FromString(s string) (a Amount, err error) {
	a.value, err = decimal.NewFromString(s)
	if err != nil {
		return a, fmt.Errorf("failed to parse amount: %w", err)
	}
	return a, nil
}

// MustParse is meant for constants and tests
func MustParse(s string) (a Amount) {
	a, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

func FromInt(v int64) (a Amount) {
	return Amount{value: decimal.NewFromInt(v)}
}

// FromMinor builds an amount from an integer count of minor units,
// eg. FromMinor(1999, 2) is 19.99
func FromMinor(units int64, minorUnits int32) (a Amount) {
	return Amount{value: decimal.New(units, -minorUnits)}
}

// Minor converts to an integer count of minor units. exact is false when the
// amount carries more precision than minorUnits allows.
func (a Amount) Minor(minorUnits int32) (units int64, exact bool) {
	shifted := a.value.Shift(minorUnits)
	return shifted.IntPart(), shifted.Equal(shifted.Truncate(0))
}

// FitsMinorUnits reports whether a can be expressed with minorUnits decimals
func (a Amount) FitsMinorUnits(minorUnits int32) bool {
	return a.value.Equal(a.value.Truncate(minorUnits))
}

// IsMultipleOf reports whether a is an exact multiple of n major units
func (a Amount) IsMultipleOf(n int64) bool {
	if n == 0 {
		return false
	}
	return a.value.Mod(decimal.NewFromInt(n)).IsZero()
}

func (a Amount) IsPositive() bool { return a.value.IsPositive() }

func (a Amount) IsZero() bool { return a.value.IsZero() }

func (a Amount) Cmp(b Amount) int { return a.value.Cmp(b.value) }

func (a Amount) LessThan(b Amount) bool { return a.value.LessThan(b.value) }

func (a Amount) Equal(b Amount) bool { return a.value.Equal(b.value) }

func (a Amount) Sub(b Amount) (r Amount) { return Amount{value: a.value.Sub(b.value)} }

func (a Amount) Add(b Amount) (r Amount) { return Amount{value: a.value.Add(b.value)} }

func (a Amount) String() string { return a.value.String() }

// StringFixed renders a with exactly minorUnits decimals
func (a Amount) StringFixed(minorUnits int32) string { return a.value.StringFixed(minorUnits) }

func (a *Amount) UnmarshalJSON(b []byte) (err error) {
	var asString string
	err = json.Unmarshal(b, &asString)
	if err != nil {
		// Plain JSON numbers are accepted too
		var number json.Number
		err = json.Unmarshal(b, &number)
		if err != nil {
			return fmt.Errorf("amount must be a string or a number: %w", err)
		}
		asString = number.String()
	}

	parsed, err := FromString(asString)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Amount) MarshalJSON() (b []byte, err error) {
	return []byte("\"" + a.value.String() + "\""), nil
}
