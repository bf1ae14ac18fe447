package gateways

import (
	"errors"
	"fmt"
)

var ErrUnknownRoute = errors.New("unknown gateway route")

// Route is the gateway choice for a donation. The only values are Regional
// and International; consumers branch on it exclusively through Match.
type Route struct {
	tag string
}

var (
	Regional      = Route{tag: "regional"}
	International = Route{tag: "international"}
)

func ParseRoute(s string) (r Route, err error) {
	switch s {
	case Regional.tag:
		return Regional, nil
	case International.tag:
		return International, nil
	default:
		return r, fmt.Errorf("%w: %q", ErrUnknownRoute, s)
	}
}

// IsZero reports a donation that was not routed yet
func (r Route) IsZero() bool { return r.tag == "" }

func (r Route) String() string {
	if r.IsZero() {
		return "unrouted"
	}
	return r.tag
}

func (r Route) MarshalText() (text []byte, err error) {
	return []byte(r.tag), nil
}

func (r *Route) UnmarshalText(text []byte) (err error) {
	if len(text) == 0 {
		*r = Route{}
		return nil
	}
	*r, err = ParseRoute(string(text))
	return err
}

// Match calls the handler of the route variant. Both handlers are required so
// every caller handles every gateway. Matching an unrouted value panics.
func Match[T any](r Route, regional func() T, international func() T) T {
	switch r {
	case Regional:
		return regional()
	case International:
		return international()
	default:
		panic(fmt.Sprintf("gateways: match on %s route", r))
	}
}
