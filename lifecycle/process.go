package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"anarchy.ttfm/donations/audit"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/utils"
	badger "github.com/dgraph-io/badger/v4"
)

// Streams the ids stored under an index prefix. ids must be consumed entirely.
func (c *Controller) streamIndex(prefix []byte) (ids chan string, err chan error) {
	ids = make(chan string, 1_000)
	err = make(chan error, 1)
	go func() {
		defer close(ids)
		defer close(err)

		err <- c.db.View(func(txn *badger.Txn) (err error) {
			options := badger.DefaultIteratorOptions
			options.Prefix = prefix
			options.PrefetchValues = true
			it := txn.NewIterator(options)
			defer it.Close()

			for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
				var id string
				err = it.Item().Value(func(val []byte) (err error) {
					id = string(val)
					return nil
				})
				if err != nil {
					log.Println("failed to retrieve index entry:", err) // The rest may still be readable
					continue
				}
				ids <- id
			}
			return nil
		})
	}()
	return ids, err
}

// sweep runs fn over every id of an index, bounded by the worker pool
func (c *Controller) sweep(ctx context.Context, prefix []byte, fn func(ctx context.Context, id string) (err error)) (processed int, err error) {
	ids, errCh := c.streamIndex(prefix)
	defer utils.ConsumeChannel(errCh)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for id := range ids {
		if ctx.Err() != nil {
			break
		}

		c.jobs.Get()
		wg.Add(1)
		go func() {
			defer c.jobs.Put()
			defer wg.Done()

			err := fn(ctx, id)
			if err != nil {
				log.Printf("ERROR|PROCESSING|%s: %v", id, err)
				return
			}
			mu.Lock()
			processed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	utils.ConsumeChannel(ids)
	err = <-errCh
	if err != nil {
		return processed, fmt.Errorf("failed to stream %s: %w", prefix, err)
	}
	return processed, ctx.Err()
}

func (c *Controller) advance(ctx context.Context, id string) (err error) {
	_, err = c.Process(ctx, id)
	return err
}

// ProcessScheduled releases Shabbat scheduled donations whose window closed
func (c *Controller) ProcessScheduled(ctx context.Context) (processed int, err error) {
	return c.sweep(ctx, donation.ScheduledPrefix, c.advance)
}

// ProcessProcessing resumes donations left in PROCESSING by an interrupted
// or crashed run
func (c *Controller) ProcessProcessing(ctx context.Context) (processed int, err error) {
	return c.sweep(ctx, donation.ProcessingPrefix, c.resume)
}

// resume submits id again under its idempotency key, so the gateway collapses
// the call into any charge the earlier run made
func (c *Controller) resume(ctx context.Context, id string) (err error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	d, err := c.load(id)
	if err != nil {
		return err
	}
	if d.Status != donation.StatusProcessing || d.Temporary {
		return nil
	}
	c.recorder.Record(&d, audit.EventResumed, nil, false)

	p := &pass{d: &d}
	defer p.release()

	err = c.run(ctx, p)
	if errors.Is(err, errDeferred) {
		return nil
	}
	return err
}

// ProcessVerifying asks the gateways again about unsettled charges
func (c *Controller) ProcessVerifying(ctx context.Context) (processed int, err error) {
	return c.sweep(ctx, donation.VerifyingPrefix, c.advance)
}

// ProcessRecurring creates the due instances of every active series
func (c *Controller) ProcessRecurring(ctx context.Context) (processed int, err error) {
	return c.sweep(ctx, donation.RecurringPrefix, c.occurrence)
}

// occurrence creates the next instance of the series id belongs to when due.
// The completed instance hands the series over to its child.
func (c *Controller) occurrence(ctx context.Context, id string) (err error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	d, err := c.load(id)
	if err != nil {
		return err
	}

	now := c.clock.Now()
	if d.NextOccurrence.IsZero() || now.Before(d.NextOccurrence) {
		return nil
	}

	root := seriesRoot(&d)
	cancelled, err := c.seriesCancelled(root)
	if err != nil {
		return err
	}
	if cancelled || !d.RecurringActive() {
		d.NextOccurrence = time.Time{}
		return c.save(&d)
	}

	child := donation.Donation{
		ParentId:           root,
		UserId:             d.UserId,
		AssociationId:      d.AssociationId,
		CountryCode:        d.CountryCode,
		Amount:             d.Amount,
		Currency:           d.Currency,
		PaymentMethod:      d.PaymentMethod,
		Status:             donation.StatusPending,
		Anonymous:          d.Anonymous,
		Recurring:          true,
		RecurringFrequency: d.RecurringFrequency,
		ShabbatCompliant:   d.ShabbatCompliant,
		Chai:               d.Chai,
		Dedication:         d.Dedication,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = c.admit(&child, c.online(), map[string]any{"parentId": root, "occurrence": d.NextOccurrence})
	if err != nil {
		return fmt.Errorf("failed to create occurrence of %s: %w", root, err)
	}

	c.recorder.Record(&d, audit.EventRecurringNext, map[string]any{"childId": child.Id, "occurrence": d.NextOccurrence}, false)
	d.NextOccurrence = time.Time{}
	return c.save(&d)
}

func (c *Controller) seriesCancelled(root string) (cancelled bool, err error) {
	err = c.db.View(func(txn *badger.Txn) (err error) {
		_, err = txn.Get(SeriesCancelledKey(root))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to query series: %w", err)
	}
	return cancelled, nil
}

// ProcessAll runs every sweep once
func (c *Controller) ProcessAll(ctx context.Context) (err error) {
	sweeps := []struct {
		name string
		fn   func(ctx context.Context) (int, error)
	}{
		{name: "SCHEDULED", fn: c.ProcessScheduled},
		{name: "PROCESSING", fn: c.ProcessProcessing},
		{name: "VERIFYING", fn: c.ProcessVerifying},
		{name: "RECURRING", fn: c.ProcessRecurring},
	}
	var errs []error
	for _, sweep := range sweeps {
		processed, err := sweep.fn(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s sweep: %w", sweep.name, err))
			continue
		}
		if processed > 0 {
			log.Printf("INFO|PROCESSING|%s: %d donations", sweep.name, processed)
		}
	}
	return errors.Join(errs...)
}
