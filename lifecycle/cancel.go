package lifecycle

import (
	"context"
	"errors"
	"log"

	"anarchy.ttfm/donations/audit"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/random"
	badger "github.com/dgraph-io/badger/v4"
)

// Cancel stops a donation on behalf of the donor. Donations not yet submitted
// are cancelled, queued ones leave the queue without any gateway call. A
// donation being processed is waited for; once completed it is refunded.
func (c *Controller) Cancel(ctx context.Context, id string) (d donation.Donation, err error) {
	if random.IsTemporaryId(id) {
		serverId, found, err := c.promoted(id)
		if err != nil {
			return d, err
		}
		if found {
			return c.cancelPromoted(id, serverId)
		}
	}

	unlock := c.locks.Lock(id)
	d, err = c.load(id)
	if errors.Is(err, donation.ErrNotFound) && random.IsTemporaryId(id) {
		// Promoted while we waited for the lock
		unlock()
		serverId, found, perr := c.promoted(id)
		if perr != nil {
			return d, perr
		}
		if found {
			return c.cancelPromoted(id, serverId)
		}
		return d, err
	}
	defer unlock()
	if err != nil {
		return d, err
	}

	switch d.Status {
	case donation.StatusPending, donation.StatusValidating:
		err = c.cancelLocked(&d, map[string]any{"by": "donor"})
		return d, err
	case donation.StatusCompleted:
		err = c.refundLocked(ctx, &d, "cancelled by donor")
		return d, err
	default:
		return d, &donation.TransitionError{Id: d.Id, From: d.Status, To: donation.StatusCancelled}
	}
}

func (c *Controller) cancelLocked(d *donation.Donation, details map[string]any) (err error) {
	_, err = c.recorder.Transition(d, donation.StatusCancelled, donation.WithDetails(details))
	if err != nil {
		return err
	}
	if d.Temporary {
		return c.save(d, c.dequeue(d.Id))
	}
	return c.save(d)
}

// cancelPromoted settles a cancellation addressed to a temporary id that was
// synced meanwhile. The cancellation wins while the server donation has not
// been submitted; otherwise the conflict cannot be resolved.
func (c *Controller) cancelPromoted(temporaryId, serverId string) (d donation.Donation, err error) {
	unlock := c.locks.Lock(serverId)
	defer unlock()

	d, err = c.load(serverId)
	if err != nil {
		return d, err
	}

	conflict := &donation.SyncConflictError{TemporaryId: temporaryId, ServerId: serverId, Status: d.Status}
	switch d.Status {
	case donation.StatusPending, donation.StatusValidating:
		conflict.Resolved = true
		c.recorder.Record(&d, audit.EventSyncConflict, map[string]any{"temporaryId": temporaryId, "resolved": true}, false)
		err = c.cancelLocked(&d, map[string]any{"by": "donor", "temporaryId": temporaryId})
		return d, err
	default:
		c.recorder.Record(&d, audit.EventSyncConflict, map[string]any{"temporaryId": temporaryId, "resolved": false, "status": string(d.Status)}, false)
		err = c.save(&d)
		if err != nil {
			log.Println("ERROR|SYNC|CONFLICT:", err)
		}
		return d, conflict
	}
}

// CancelRecurring stops a recurring series. The addressed instance is
// cancelled too when it was not submitted yet.
func (c *Controller) CancelRecurring(ctx context.Context, id string) (d donation.Donation, err error) {
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
	if !d.Recurring {
		return d, donation.ErrNotRecurring
	}
	if !d.RecurringCancelledAt.IsZero() {
		return d, nil
	}

	d.RecurringCancelledAt = c.clock.Now()
	c.recorder.Record(&d, audit.EventRecurringCancelled, map[string]any{"series": seriesRoot(&d)}, false)

	markSeries := func(txn *badger.Txn) (err error) {
		return txn.Set(SeriesCancelledKey(seriesRoot(&d)), []byte(d.Id))
	}

	switch d.Status {
	case donation.StatusPending, donation.StatusValidating:
		_, err = c.recorder.Transition(&d, donation.StatusCancelled, donation.WithDetails(map[string]any{"by": "donor", "recurring": true}))
		if err != nil {
			return d, err
		}
		if d.Temporary {
			return d, c.save(&d, markSeries, c.dequeue(d.Id))
		}
	}
	return d, c.save(&d, markSeries)
}
