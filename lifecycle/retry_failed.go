package lifecycle

import (
	"context"
	"time"

	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/gateways"
)

// RetryFailed starts a new donation from a failed one. When the source failed
// on a transient error the gateway may have received the charge, so the new
// donation keeps the idempotency key and a late acknowledgement is collapsed
// into the original charge.
func (c *Controller) RetryFailed(ctx context.Context, id string) (d donation.Donation, err error) {
	id, err = c.resolve(id)
	if err != nil {
		return d, err
	}

	unlock := c.locks.Lock(id)
	source, err := c.load(id)
	unlock()
	if err != nil {
		return d, err
	}
	if source.Status != donation.StatusFailed {
		return d, &donation.TransitionError{Id: source.Id, From: source.Status, To: donation.StatusPending}
	}

	d = source.Clone()
	d.Id = ""
	d.Temporary = false
	d.RetryOf = source.Id
	if !source.AttemptsExhausted && !source.ErrorRetryable {
		d.IdempotencyKey = ""
	}
	d.Status = donation.StatusPending
	d.TransactionId = ""
	d.RefundId = ""
	d.Route = gateways.Route{}
	d.Error = ""
	d.ErrorCode = ""
	d.AttemptsExhausted = false
	d.ErrorRetryable = false
	d.ScheduledFor = time.Time{}
	d.NextOccurrence = time.Time{}
	d.AuditTrail = nil
	d.CreatedAt = c.clock.Now()
	d.UpdatedAt = d.CreatedAt

	err = c.admit(&d, c.online(), map[string]any{"retryOf": source.Id})
	return d, err
}
