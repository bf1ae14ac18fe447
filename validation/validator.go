// Package validation decides whether a donation request may enter the
// pipeline. Rules run in a fixed order and the first violation is returned.
package validation

import (
	"fmt"
	"strings"
	"time"

	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/money"
)

// Chai is the multiple required of Chai amounts, in major units
const Chai = 18

type Request struct {
	Amount      money.Amount
	Currency    currency.Code
	Chai        bool
	Method      donation.PaymentMethod
	CountryCode string
	Recurring   bool
	Frequency   donation.Frequency
}

// Validated is a request that passed every rule, with the route it resolved to
type Validated struct {
	Request
	Currency currency.Info
	Route    gateways.Route
}

type Config struct {
	// Supported currencies and their minimums
	Currencies currency.Table
	// Routing policy used to judge gateway hints
	Policy gateways.Policy
	// Reference timezone of card expiry checks
	Location *time.Location
}

type Validator struct {
	currencies currency.Table
	policy     gateways.Policy
	location   *time.Location
}

func New(config Config) (v *Validator) {
	v = &Validator{
		currencies: config.Currencies,
		policy:     config.Policy,
		location:   config.Location,
	}
	if v.currencies == nil {
		v.currencies = currency.Default()
	}
	if v.location == nil {
		v.location = time.UTC
	}
	return v
}

func fail(rule, format string, args ...any) (err *donation.ValidationError) {
	return &donation.ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Validate checks req at reference time now. It has no side effects.
func (v *Validator) Validate(req Request, now time.Time) (validated Validated, err error) {
	info, err := v.currencies.Lookup(req.Currency)
	if err != nil {
		return validated, fail(donation.RuleCurrency, "currency %q is not supported", req.Currency)
	}

	if !req.Amount.IsPositive() {
		return validated, fail(donation.RuleAmount, "amount must be greater than zero")
	}
	if !req.Amount.FitsMinorUnits(info.MinorUnits) {
		return validated, fail(donation.RulePrecision, "%s allows %d decimals", info.Code, info.MinorUnits)
	}
	if req.Amount.LessThan(info.Minimum) {
		return validated, fail(donation.RuleMinimum, "minimum donation is %s %s", info.Minimum.StringFixed(info.MinorUnits), info.Code)
	}
	if req.Chai && !req.Amount.IsMultipleOf(Chai) {
		return validated, fail(donation.RuleChai, "chai amounts must be a multiple of %d", Chai)
	}
	if req.Recurring && !req.Frequency.Valid() {
		return validated, fail(donation.RuleRecurrence, "unknown recurring frequency %q", req.Frequency)
	}

	method := req.Method
	err = method.Type.Validate()
	if err != nil {
		return validated, fail(donation.RuleMethod, "%v", err)
	}
	if method.Token == "" {
		return validated, fail(donation.RuleMethod, "payment method is not tokenized")
	}
	if method.Currency != "" && method.Currency != req.Currency {
		return validated, fail(donation.RuleMethodCurrency, "payment method only accepts %s", method.Currency)
	}

	route := v.policy.Default(req.Currency, req.CountryCode)
	if method.Provider != "" {
		route, err = v.policy.Resolve(method.Provider)
		if err != nil {
			return validated, fail(donation.RuleGateway, "unknown gateway %q", method.Provider)
		}
		if !v.policy.Compatible(route, req.Currency, req.CountryCode) {
			return validated, fail(donation.RuleGateway, "gateway %s cannot process %s from %q", route, req.Currency, req.CountryCode)
		}
	}

	if method.Type == gateways.MethodRegionalDebit {
		home := v.policy.HomeCountry
		domestic := strings.EqualFold(method.Country, home) && strings.EqualFold(req.CountryCode, home)
		regional := gateways.Match(route,
			func() bool { return true },
			func() bool { return false },
		)
		if !domestic || !regional {
			return validated, fail(donation.RuleRegionalDebit, "regional debit is only valid in %s through the regional gateway", home)
		}
	}

	if method.Type.IsCard() {
		err = v.checkExpiry(method, now)
		if err != nil {
			return validated, err
		}
	}

	return Validated{Request: req, Currency: info, Route: route}, nil
}

// checkExpiry accepts a card through the last instant of its expiry month in
// the reference timezone
func (v *Validator) checkExpiry(method donation.PaymentMethod, now time.Time) (err error) {
	if method.ExpiryMonth < 1 || method.ExpiryMonth > 12 || method.ExpiryYear < 1 {
		return fail(donation.RuleExpiry, "card expiry is missing or malformed")
	}
	expires := time.Date(method.ExpiryYear, time.Month(method.ExpiryMonth)+1, 1, 0, 0, 0, 0, v.location)
	if !now.Before(expires) {
		return fail(donation.RuleExpiry, "card expired %02d/%d", method.ExpiryMonth, method.ExpiryYear)
	}
	return nil
}
