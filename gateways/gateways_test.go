package gateways_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/gateways"
	"github.com/stretchr/testify/assert"
)

func testPolicy() gateways.Policy {
	return gateways.Policy{
		HomeCurrency:       currency.ILS,
		HomeCountry:        "IL",
		RegionalCurrencies: []currency.Code{currency.USD, currency.EUR},
		Providers: map[string]gateways.Route{
			"stripe":   gateways.International,
			"tranzila": gateways.Regional,
		},
	}
}

func Test_Policy(t *testing.T) {
	policy := testPolicy()

	t.Run("Default", func(t *testing.T) {
		type Test struct {
			Currency currency.Code
			Country  string
			Expect   gateways.Route
		}
		tests := []Test{
			{Currency: currency.ILS, Country: "IL", Expect: gateways.Regional},
			{Currency: currency.ILS, Country: "US", Expect: gateways.Regional},
			{Currency: currency.USD, Country: "IL", Expect: gateways.Regional},
			{Currency: currency.USD, Country: "il", Expect: gateways.Regional},
			{Currency: currency.USD, Country: "US", Expect: gateways.International},
			{Currency: currency.EUR, Country: "FR", Expect: gateways.International},
			{Currency: currency.JPY, Country: "JP", Expect: gateways.International},
		}
		for _, test := range tests {
			t.Run(fmt.Sprintf("%s-%s", test.Currency, test.Country), func(t *testing.T) {
				assertions := assert.New(t)
				for range 3 {
					assertions.Equal(test.Expect, policy.Default(test.Currency, test.Country))
				}
				assertions.True(policy.Compatible(test.Expect, test.Currency, test.Country), "default route must be compatible")
			})
		}
	})
	t.Run("Compatible", func(t *testing.T) {
		assertions := assert.New(t)

		assertions.False(policy.Compatible(gateways.International, currency.ILS, "IL"))
		assertions.False(policy.Compatible(gateways.International, currency.USD, "IL"))
		assertions.True(policy.Compatible(gateways.Regional, currency.USD, "US"))
		assertions.False(policy.Compatible(gateways.Regional, currency.JPY, "JP"))
		assertions.True(policy.Compatible(gateways.Regional, currency.JPY, "IL"))
	})
	t.Run("Resolve", func(t *testing.T) {
		assertions := assert.New(t)

		r, err := policy.Resolve("Stripe")
		assertions.Nil(err)
		assertions.Equal(gateways.International, r)

		r, err = policy.Resolve("regional")
		assertions.Nil(err)
		assertions.Equal(gateways.Regional, r)

		_, err = policy.Resolve("paypal")
		assertions.ErrorIs(err, gateways.ErrUnknownRoute)
	})
}

func Test_Route(t *testing.T) {
	t.Run("Text", func(t *testing.T) {
		assertions := assert.New(t)

		var value struct {
			Route gateways.Route `json:"route"`
		}
		value.Route = gateways.Regional
		contents, err := json.Marshal(value)
		assertions.Nil(err)
		assertions.JSONEq(`{"route":"regional"}`, string(contents))

		err = json.Unmarshal([]byte(`{"route":"international"}`), &value)
		assertions.Nil(err)
		assertions.Equal(gateways.International, value.Route)

		err = json.Unmarshal([]byte(`{"route":""}`), &value)
		assertions.Nil(err)
		assertions.True(value.Route.IsZero())

		err = json.Unmarshal([]byte(`{"route":"moon"}`), &value)
		assertions.ErrorIs(err, gateways.ErrUnknownRoute)
	})
	t.Run("Match", func(t *testing.T) {
		assertions := assert.New(t)

		name := func(r gateways.Route) string {
			return gateways.Match(r, func() string { return "R" }, func() string { return "I" })
		}
		assertions.Equal("R", name(gateways.Regional))
		assertions.Equal("I", name(gateways.International))
		assertions.Panics(func() { name(gateways.Route{}) })
	})
	t.Run("Set", func(t *testing.T) {
		assertions := assert.New(t)

		var set gateways.Set
		_, err := set.For(gateways.Regional)
		assertions.ErrorIs(err, gateways.ErrNoGateway)
		_, err = set.For(gateways.Route{})
		assertions.ErrorIs(err, gateways.ErrNoGateway)
	})
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func Test_Errors(t *testing.T) {
	assertions := assert.New(t)

	assertions.True(gateways.IsRetryable(gateways.Retryable(gateways.CodeUnavailable, "503")))
	assertions.True(gateways.IsRetryable(fmt.Errorf("wrapped: %w", gateways.Retryable(gateways.CodeNetworkTimeout, ""))))
	assertions.False(gateways.IsRetryable(gateways.Permanent(gateways.CodeDeclined, "insufficient funds")))
	assertions.True(gateways.IsRetryable(context.DeadlineExceeded))
	assertions.True(gateways.IsRetryable(timeoutError{}))
	assertions.False(gateways.IsRetryable(errors.New("boom")))
	assertions.False(gateways.IsRetryable(nil))

	normalized := gateways.Normalize(context.DeadlineExceeded)
	assertions.Equal(gateways.CodeNetworkTimeout, normalized.Code)
	assertions.True(normalized.Retryable)
	assertions.False(gateways.Normalize(errors.New("boom")).Retryable)
	assertions.Nil(gateways.Normalize(nil))

	exhausted := &gateways.Error{Code: gateways.CodeUnavailable, Retryable: true, AttemptsExhausted: true, Attempts: 4}
	assertions.Contains(exhausted.Error(), "gave up after 4 attempts")
	assertions.Nil(gateways.MethodRegionalDebit.Validate())
	assertions.ErrorIs(gateways.MethodType("cash").Validate(), gateways.ErrInvalidMethodType)
}
