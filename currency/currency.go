package currency

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"anarchy.ttfm/donations/money"
)

// Code is an ISO 4217 alphabetic code
type Code string

const (
	USD Code = "USD"
	EUR Code = "EUR"
	GBP Code = "GBP"
	ILS Code = "ILS"
	CAD Code = "CAD"
	AUD Code = "AUD"
	CHF Code = "CHF"
	JPY Code = "JPY"
)

var ErrUnsupportedCurrency = errors.New("unsupported currency")

type Info struct {
	Code Code
	// Decimals of the currency minor unit
	MinorUnits int32
	// Smallest donation accepted in this currency
	Minimum money.Amount
}

// Table lists the supported currencies
type Table map[Code]Info

// Default is the table used unless the configuration provides its own minimums
func Default() (t Table) {
	return Table{
		USD: {Code: USD, MinorUnits: 2, Minimum: money.MustParse("1.00")},
		EUR: {Code: EUR, MinorUnits: 2, Minimum: money.MustParse("1.00")},
		GBP: {Code: GBP, MinorUnits: 2, Minimum: money.MustParse("1.00")},
		ILS: {Code: ILS, MinorUnits: 2, Minimum: money.MustParse("5.00")},
		CAD: {Code: CAD, MinorUnits: 2, Minimum: money.MustParse("1.00")},
		AUD: {Code: AUD, MinorUnits: 2, Minimum: money.MustParse("1.00")},
		CHF: {Code: CHF, MinorUnits: 2, Minimum: money.MustParse("1.00")},
		JPY: {Code: JPY, MinorUnits: 0, Minimum: money.MustParse("100")},
	}
}

// Normalize upper cases and trims a code as received from clients
func Normalize(raw string) (c Code) {
	return Code(strings.ToUpper(strings.TrimSpace(raw)))
}

// Lookup returns the currency info or ErrUnsupportedCurrency
func (t Table) Lookup(c Code) (info Info, err error) {
	info, found := t[c]
	if !found {
		return info, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, c)
	}
	return info, nil
}

// Validate if the provided currency is supported
func (t Table) Validate(c Code) (err error) {
	_, err = t.Lookup(c)
	return err
}

// Codes returns the supported codes sorted
func (t Table) Codes() (codes []Code) {
	codes = make([]Code, 0, len(t))
	for code := range t {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// WithMinimums overrides the minimum of the listed currencies. Unknown codes
// are added with two minor units.
func (t Table) WithMinimums(minimums map[Code]money.Amount) (out Table) {
	out = make(Table, len(t))
	for code, info := range t {
		out[code] = info
	}
	for code, minimum := range minimums {
		info, found := out[code]
		if !found {
			info = Info{Code: code, MinorUnits: 2}
		}
		info.Minimum = minimum
		out[code] = info
	}
	return out
}
