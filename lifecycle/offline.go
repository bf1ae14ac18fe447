package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/offline"
)

// Replay runs a queued donation through the pipeline. Transient gateway
// failures keep it at the head of its queue in PROCESSING.
func (c *Controller) Replay(ctx context.Context, entry offline.Entry) (outcome offline.Outcome, err error) {
	unlock := c.locks.Lock(entry.TemporaryId)
	defer unlock()

	d, err := c.load(entry.TemporaryId)
	if errors.Is(err, donation.ErrNotFound) {
		_, found, perr := c.promoted(entry.TemporaryId)
		if perr != nil {
			return offline.OutcomeRetry, perr
		}
		err = c.db.Update(c.dequeue(entry.TemporaryId))
		if err != nil {
			return offline.OutcomeRetry, fmt.Errorf("failed to dequeue %s: %w", entry.TemporaryId, err)
		}
		if found {
			return offline.OutcomeSynced, nil
		}
		return offline.OutcomeCancelled, nil
	}
	if err != nil {
		return offline.OutcomeRetry, err
	}

	if d.Status == donation.StatusCancelled {
		err = c.db.Update(c.dequeue(d.Id))
		if err != nil {
			return offline.OutcomeRetry, fmt.Errorf("failed to dequeue %s: %w", d.Id, err)
		}
		return offline.OutcomeCancelled, nil
	}

	p := &pass{d: &d, replay: true}
	defer p.release()

	err = c.run(ctx, p)
	switch {
	case !d.Temporary:
		if err != nil && !errors.Is(err, errDeferred) && !d.Status.Terminal() {
			log.Printf("ERROR|SYNC|REPLAY: %s synced as %s but stopped: %v", entry.TemporaryId, d.Id, err)
		}
		return offline.OutcomeSynced, nil
	case d.Status == donation.StatusFailed, d.Status == donation.StatusCancelled:
		return offline.OutcomeFailed, p.cause
	case errors.Is(err, errDeferred):
		return offline.OutcomeRetry, p.cause
	case err != nil:
		return offline.OutcomeRetry, err
	default:
		return offline.OutcomeRetry, fmt.Errorf("replay of %s stopped in %s", d.Id, d.Status)
	}
}

// Abandon fails a queued donation whose replay budget is spent. Donations
// never submitted are cancelled instead.
func (c *Controller) Abandon(ctx context.Context, entry offline.Entry, cause error) (err error) {
	unlock := c.locks.Lock(entry.TemporaryId)
	defer unlock()

	d, err := c.load(entry.TemporaryId)
	if errors.Is(err, donation.ErrNotFound) {
		return c.db.Update(c.dequeue(entry.TemporaryId))
	}
	if err != nil {
		return err
	}

	switch d.Status {
	case donation.StatusProcessing:
		gerr := gateways.Normalize(cause)
		if gerr == nil {
			gerr = gateways.Retryable(gateways.CodeUnavailable, "replay attempts exhausted")
		}
		_, err = c.recorder.Transition(&d, donation.StatusFailed,
			donation.WithFailure(gerr, gerr.Code, true),
			donation.WithDetails(map[string]any{"replays": entry.Attempts}),
		)
	case donation.StatusPending, donation.StatusValidating:
		_, err = c.recorder.Transition(&d, donation.StatusCancelled,
			donation.WithDetails(map[string]any{"replays": entry.Attempts}),
		)
	default:
		return c.db.Update(c.dequeue(d.Id))
	}
	if err != nil {
		return err
	}
	log.Printf("ERROR|SYNC|REPLAY: abandoned %s after %d replays: %v", d.Id, entry.Attempts, cause)
	return c.save(&d, c.dequeue(d.Id))
}
