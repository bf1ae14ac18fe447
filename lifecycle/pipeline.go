package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"anarchy.ttfm/donations/audit"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/retry"
	"github.com/google/uuid"
)

// errDeferred stops a pass that must be resumed later: a replay that ran out
// of transient retries, a backoff cut short by the caller, a settlement still
// pending or a scheduled donation.
var errDeferred = errors.New("deferred")

// pass is one run of the pipeline over a locked donation
type pass struct {
	d       *donation.Donation
	replay  bool
	unlocks []func()
	// Failure that ended the pass
	cause error
}

func (p *pass) release() {
	for _, unlock := range p.unlocks {
		unlock()
	}
}

// Process advances id as far as it can go right now. It holds the lock of
// the donation for the whole run.
func (c *Controller) Process(ctx context.Context, id string) (d donation.Donation, err error) {
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
	if d.Temporary {
		// Temporary donations only move through the offline replay
		return d, nil
	}

	p := &pass{d: &d}
	defer p.release()

	err = c.run(ctx, p)
	if errors.Is(err, errDeferred) {
		return d, nil
	}
	return d, err
}

func (c *Controller) run(ctx context.Context, p *pass) (err error) {
	for {
		switch p.d.Status {
		case donation.StatusPending:
			err = c.transition(p.d, donation.StatusValidating)
		case donation.StatusValidating:
			err = c.validate(p)
		case donation.StatusScheduled:
			err = c.release(p)
		case donation.StatusProcessing:
			err = c.submit(ctx, p)
		case donation.StatusVerifying:
			err = c.verify(ctx, p)
		default:
			return p.cause
		}
		if err != nil {
			return err
		}
	}
}

func (c *Controller) transition(d *donation.Donation, to donation.Status, opts ...donation.TransitionOption) (err error) {
	_, err = c.recorder.Transition(d, to, opts...)
	if err != nil {
		return err
	}
	return c.save(d)
}

// finish stores a final state. Temporary donations leave the queue with it.
func (c *Controller) finish(p *pass, to donation.Status, cause error, opts ...donation.TransitionOption) (err error) {
	p.cause = cause
	_, err = c.recorder.Transition(p.d, to, opts...)
	if err != nil {
		return err
	}
	if p.d.Temporary {
		return c.save(p.d, c.dequeue(p.d.Id))
	}
	return c.save(p.d)
}

// validate runs every rule again, checks the association and routes
func (c *Controller) validate(p *pass) (err error) {
	d := p.d
	now := c.clock.Now()

	validated, err := c.validator.Validate(validationRequest(d), now)
	if err == nil {
		err = c.checkAssociation(d.AssociationId)
	}
	if err != nil {
		var verr *donation.ValidationError
		rule := "unknown"
		if errors.As(err, &verr) {
			rule = verr.Rule
		}
		c.recorder.Record(d, audit.EventValidationFailed, map[string]any{"rule": rule, "message": err.Error()}, true)
		return c.finish(p, donation.StatusCancelled, err, donation.WithFailure(err, "validation."+rule, false))
	}
	c.recorder.Record(d, audit.EventValidationPassed, nil, false)

	selection, err := c.router.Route(d, validated)
	if err != nil {
		return fmt.Errorf("failed to route %s: %w", d.Id, err)
	}
	c.recorder.Record(d, audit.EventGatewayRouted, map[string]any{"route": selection.Route.String()}, false)

	if d.ShabbatCompliant && c.window.Enabled() && c.window.Restricted(now) {
		err = c.transition(d, donation.StatusScheduled,
			donation.WithRoute(selection.Route),
			donation.WithScheduledFor(c.window.Ends(now)),
		)
		if err != nil {
			return err
		}
		if d.Temporary {
			err = c.promoteLocked(p)
			if err != nil {
				return err
			}
		}
		return errDeferred
	}

	return c.transition(d, donation.StatusProcessing, donation.WithRoute(selection.Route))
}

// release moves a scheduled donation on once its window closed
func (c *Controller) release(p *pass) (err error) {
	now := c.clock.Now()
	if now.Before(p.d.ScheduledFor) || (c.window.Enabled() && c.window.Restricted(now)) {
		return errDeferred
	}
	return c.transition(p.d, donation.StatusProcessing)
}

// submit sends the donation to its gateway under the retry policy. Every
// attempt, retries included, carries the same idempotency key.
func (c *Controller) submit(ctx context.Context, p *pass) (err error) {
	d := p.d

	selection, err := c.router.Selection(d)
	if err != nil {
		return fmt.Errorf("failed to prepare submission of %s: %w", d.Id, err)
	}

	receipt, err := retry.Do(ctx, c.retry, func(ctx context.Context) (gateways.Receipt, error) {
		return selection.Gateway.Submit(ctx, selection.Submission)
	}, c.observe(d, audit.EventGatewayCall, selection.Route))
	if err == nil {
		err = c.transition(d, donation.StatusVerifying, donation.WithTransactionId(receipt.TransactionId))
		if err != nil {
			return err
		}
		if d.Temporary {
			return c.promoteLocked(p)
		}
		return nil
	}

	gerr := gateways.Normalize(err)
	if errors.Is(err, retry.ErrInterrupted) {
		// The charge may exist. The donation stays in PROCESSING and is
		// submitted again under the same key.
		c.recorder.Record(d, audit.EventGatewayInterrupted, map[string]any{"attempts": gerr.Attempts, "code": gerr.Code}, false)
		p.cause = gerr
		err = c.save(d)
		if err != nil {
			return err
		}
		return errDeferred
	}
	if gerr.AttemptsExhausted && p.replay {
		c.recorder.Record(d, audit.EventReplayDeferred, map[string]any{"attempts": gerr.Attempts}, false)
		p.cause = gerr
		err = c.save(d)
		if err != nil {
			return err
		}
		return errDeferred
	}

	log.Printf("ERROR|PROCESSING|DONATIONS: %s failed: %v", d.Id, gerr)
	return c.finish(p, donation.StatusFailed, gerr, donation.WithFailure(gerr, gerr.Code, gerr.AttemptsExhausted))
}

// verify asks the gateway for the settlement. Pending settlements and
// transient verification failures leave the donation in VERIFYING for the
// sweep: the charge was acknowledged and must not be failed on a guess.
func (c *Controller) verify(ctx context.Context, p *pass) (err error) {
	d := p.d

	g, err := c.router.Gateway(d.Route)
	if err != nil {
		return fmt.Errorf("failed to select gateway of %s: %w", d.Id, err)
	}

	req := gateways.VerifyRequest{IdempotencyKey: d.IdempotencyKey, TransactionId: d.TransactionId}
	settlement, err := retry.Do(ctx, c.retry, func(ctx context.Context) (gateways.Settlement, error) {
		return g.Verify(ctx, req)
	}, c.observe(d, audit.EventGatewayVerify, d.Route))
	if err != nil {
		gerr := gateways.Normalize(err)
		if gerr.Retryable || errors.Is(err, retry.ErrInterrupted) {
			err = c.save(d)
			if err != nil {
				return err
			}
			return errDeferred
		}
		return c.finish(p, donation.StatusFailed, gerr, donation.WithFailure(gerr, gerr.Code, false))
	}

	switch settlement.Status {
	case gateways.SettlementSettled:
		if d.RecurringActive() {
			d.NextOccurrence = d.RecurringFrequency.Next(d.CreatedAt)
		}
		return c.finish(p, donation.StatusCompleted, nil)
	case gateways.SettlementRejected:
		gerr := gateways.Permanent(gateways.CodeSettlementRejected, "settlement rejected")
		return c.finish(p, donation.StatusFailed, gerr, donation.WithFailure(gerr, gerr.Code, false))
	default:
		err = c.save(d)
		if err != nil {
			return err
		}
		return errDeferred
	}
}

// observe appends one audit entry per gateway attempt and persists it
// right away, so a crash mid retry keeps the attempts already made
func (c *Controller) observe(d *donation.Donation, eventType string, route gateways.Route) func(a retry.Attempt) {
	return func(a retry.Attempt) {
		details := map[string]any{
			"attempt":  a.Number,
			"route":    route.String(),
			"duration": a.Duration.String(),
		}
		sensitive := false
		if a.Err == nil {
			details["outcome"] = "ok"
		} else {
			gerr := gateways.Normalize(a.Err)
			details["outcome"] = "error"
			details["code"] = gerr.Code
			details["retryable"] = gerr.Retryable
			details["error"] = gerr.Error()
			sensitive = true
		}
		if a.Delay > 0 {
			details["backoff"] = a.Delay.String()
		}
		c.recorder.Record(d, eventType, details, sensitive)

		err := c.save(d)
		if err != nil {
			log.Println("ERROR|PROCESSING|DONATIONS:", err)
		}
	}
}

// promoteLocked promotes the temporary donation of p and keeps the new id
// locked until the pass ends
func (c *Controller) promoteLocked(p *pass) (err error) {
	serverId := uuid.NewString()
	p.unlocks = append(p.unlocks, c.locks.Lock(serverId))
	return c.promote(p.d, serverId)
}
