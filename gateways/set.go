package gateways

import "errors"

var ErrNoGateway = errors.New("no gateway configured for route")

// Set holds one gateway per route
type Set struct {
	Regional      Gateway
	International Gateway
}

func (s Set) For(r Route) (g Gateway, err error) {
	if r.IsZero() {
		return nil, ErrNoGateway
	}
	g = Match(r,
		func() Gateway { return s.Regional },
		func() Gateway { return s.International },
	)
	if g == nil {
		return nil, ErrNoGateway
	}
	return g, nil
}
