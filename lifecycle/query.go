package lifecycle

import (
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/events"
)

// Get returns a donation by its current or retired temporary id
func (c *Controller) Get(id string) (d donation.Donation, err error) {
	id, err = c.resolve(id)
	if err != nil {
		return d, err
	}
	return c.load(id)
}

// Observe subscribes to the status of id. The current status is returned
// alongside; later changes arrive on the subscription until it is
// cancelled. Subscriptions survive the promotion of a temporary id.
func (c *Controller) Observe(id string) (sub *events.Subscription, current events.Update, err error) {
	id, err = c.resolve(id)
	if err != nil {
		return nil, current, err
	}

	// Subscribing first, so no change between the read and the
	// subscription is lost
	sub = c.bus.Subscribe(id)
	d, err := c.load(id)
	if err != nil {
		sub.Cancel()
		return nil, current, err
	}
	return sub, events.UpdateOf(&d), nil
}
