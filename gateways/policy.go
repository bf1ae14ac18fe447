package gateways

import (
	"fmt"
	"slices"
	"strings"

	"anarchy.ttfm/donations/currency"
)

// Policy is the deterministic routing rule:
// currency == home OR country == home => Regional, otherwise International.
type Policy struct {
	HomeCurrency currency.Code
	HomeCountry  string
	// Extra currencies the regional gateway accepts from foreign donors
	RegionalCurrencies []currency.Code
	// Provider names accepted as payment method hints, eg. "stripe"
	Providers map[string]Route
}

// Default routes a currency/country pair. It is total: every input yields a route.
func (p Policy) Default(c currency.Code, country string) (r Route) {
	if c == p.HomeCurrency || strings.EqualFold(country, p.HomeCountry) {
		return Regional
	}
	return International
}

// Compatible reports whether route r may process the pair. Domestic traffic
// must stay on the regional gateway.
func (p Policy) Compatible(r Route, c currency.Code, country string) bool {
	domestic := c == p.HomeCurrency || strings.EqualFold(country, p.HomeCountry)
	return Match(r,
		func() bool { return domestic || slices.Contains(p.RegionalCurrencies, c) },
		func() bool { return !domestic },
	)
}

// Resolve maps a payment method's gateway hint to a route. Route tags are
// accepted as well as configured provider names.
func (p Policy) Resolve(provider string) (r Route, err error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if route, found := p.Providers[name]; found {
		return route, nil
	}
	r, err = ParseRoute(name)
	if err != nil {
		return r, fmt.Errorf("failed to resolve provider hint: %w", err)
	}
	return r, nil
}
