package lifecycle

import (
	"context"
	"fmt"

	"anarchy.ttfm/donations/audit"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/retry"
)

// Refund returns the funds of a completed donation through the gateway that
// charged it
func (c *Controller) Refund(ctx context.Context, id, reason string) (d donation.Donation, err error) {
	id, err = c.resolve(id)
	if err != nil {
		return d, err
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	d, err = c.load(id)
	if err != nil {
		return d, err
	}
	err = c.refundLocked(ctx, &d, reason)
	return d, err
}

func (c *Controller) refundLocked(ctx context.Context, d *donation.Donation, reason string) (err error) {
	if !d.Status.CanTransition(donation.StatusRefunded) {
		return &donation.TransitionError{Id: d.Id, From: d.Status, To: donation.StatusRefunded}
	}

	g, err := c.router.Gateway(d.Route)
	if err != nil {
		return fmt.Errorf("failed to select gateway of %s: %w", d.Id, err)
	}

	req := gateways.RefundRequest{
		IdempotencyKey: "refund:" + d.IdempotencyKey,
		TransactionId:  d.TransactionId,
		Amount:         d.Amount,
		Currency:       d.Currency,
		Reason:         reason,
	}
	refund, err := retry.Do(ctx, c.retry, func(ctx context.Context) (gateways.Refund, error) {
		return g.Refund(ctx, req)
	}, c.observe(d, audit.EventGatewayRefund, d.Route))
	if err != nil {
		return fmt.Errorf("failed to refund %s: %w", d.Id, gateways.Normalize(err))
	}

	return c.transition(d, donation.StatusRefunded,
		donation.WithRefundId(refund.RefundId),
		donation.WithDetails(map[string]any{"reason": reason}),
	)
}

// Dispute records a chargeback opened against a completed donation
func (c *Controller) Dispute(ctx context.Context, id, reason string) (d donation.Donation, err error) {
	id, err = c.resolve(id)
	if err != nil {
		return d, err
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	d, err = c.load(id)
	if err != nil {
		return d, err
	}
	err = c.transition(&d, donation.StatusDisputed, donation.WithDetails(map[string]any{"reason": reason}))
	return d, err
}
