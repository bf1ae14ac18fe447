package routing

import (
	"fmt"

	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/money"
	"anarchy.ttfm/donations/validation"
)

// GatewaySelection is the routed gateway with the minimized request it will
// receive. It only ever holds tokens and masked fields.
type GatewaySelection struct {
	Route      gateways.Route
	Gateway    gateways.Gateway
	Submission gateways.Submission
}

type Config struct {
	Gateways gateways.Set
}

type Router struct {
	gateways gateways.Set
}

func New(config Config) (r *Router) {
	return &Router{gateways: config.Gateways}
}

// Route resolves the gateway of a validated donation and builds its submission
func (r *Router) Route(d *donation.Donation, v validation.Validated) (selection GatewaySelection, err error) {
	units, _ := v.Amount.Minor(v.Currency.MinorUnits)
	return r.build(v.Route, d, money.FromMinor(units, v.Currency.MinorUnits), v.Currency.Code, v.Method)
}

// Selection rebuilds the selection of an already routed donation, used when
// a scheduled or replayed donation reaches the gateway
func (r *Router) Selection(d *donation.Donation) (selection GatewaySelection, err error) {
	return r.build(d.Route, d, d.Amount, d.Currency, d.PaymentMethod)
}

func (r *Router) build(route gateways.Route, d *donation.Donation, amount money.Amount, code currency.Code, method donation.PaymentMethod) (selection GatewaySelection, err error) {
	g, err := r.gateways.For(route)
	if err != nil {
		return selection, fmt.Errorf("failed to select gateway for %s: %w", route, err)
	}

	selection = GatewaySelection{
		Route:   route,
		Gateway: g,
		Submission: gateways.Submission{
			IdempotencyKey: d.IdempotencyKey,
			Amount:         amount,
			Currency:       code,
			Method:         method.Tokenized(),
			Metadata: map[string]string{
				"donationId":    d.Id,
				"associationId": d.AssociationId,
			},
		},
	}
	return selection, nil
}

// Gateway returns the gateway of an already routed donation
func (r *Router) Gateway(route gateways.Route) (g gateways.Gateway, err error) {
	return r.gateways.For(route)
}
