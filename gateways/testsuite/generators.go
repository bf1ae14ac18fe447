package testsuite

import (
	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/money"
	"anarchy.ttfm/donations/random"
)

// DataGenerator defines an interface for test data generation.
type DataGenerator interface {
	// Amount and currency of a charge
	Charge() (amount money.Amount, code currency.Code)
	// Tokenized instrument accepted by the gateway
	Method() (method gateways.TokenizedMethod)
}

type MockGenerator struct{}

func (g *MockGenerator) Charge() (amount money.Amount, code currency.Code) {
	return money.FromInt(18), currency.USD
}

func (g *MockGenerator) Method() (method gateways.TokenizedMethod) {
	return gateways.TokenizedMethod{
		Token:       "tok_" + random.String(random.PseudoRand, random.CharsetAlphaNumeric, 16),
		Type:        gateways.MethodCreditCard,
		LastFour:    "4242",
		ExpiryMonth: 12,
		ExpiryYear:  2099,
	}
}
