package lifecycle

import (
	"errors"
	"fmt"
	"log"

	"anarchy.ttfm/donations/audit"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/events"
	"anarchy.ttfm/donations/offline"
	"anarchy.ttfm/donations/random"
	badger "github.com/dgraph-io/badger/v4"
)

// SeriesCancelledKey marks a recurring series that must not produce more instances
func SeriesCancelledKey(rootId string) (key []byte) {
	return []byte(fmt.Sprintf("/series-cancelled/%s", rootId))
}

func seriesRoot(d *donation.Donation) (id string) {
	if d.ParentId != "" {
		return d.ParentId
	}
	return d.Id
}

func (c *Controller) seal(d donation.Donation) (stored donation.Donation, err error) {
	if c.cipher == nil {
		return d, nil
	}
	d.Dedication, err = c.cipher.Encrypt(d.Dedication)
	if err != nil {
		return d, fmt.Errorf("failed to encrypt dedication: %w", err)
	}
	d.PaymentMethod.Token, err = c.cipher.Encrypt(d.PaymentMethod.Token)
	if err != nil {
		return d, fmt.Errorf("failed to encrypt token: %w", err)
	}
	return d, nil
}

func (c *Controller) open(d *donation.Donation) (err error) {
	if c.cipher == nil {
		return nil
	}
	d.Dedication, err = c.cipher.Decrypt(d.Dedication)
	if err != nil {
		return fmt.Errorf("failed to decrypt dedication: %w", err)
	}
	d.PaymentMethod.Token, err = c.cipher.Decrypt(d.PaymentMethod.Token)
	if err != nil {
		return fmt.Errorf("failed to decrypt token: %w", err)
	}
	return nil
}

func getDonation(txn *badger.Txn, id string) (d donation.Donation, err error) {
	item, err := txn.Get(donation.DonationKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return d, donation.ErrNotFound
		}
		return d, fmt.Errorf("failed to query donation: %w", err)
	}
	err = item.Value(func(val []byte) (err error) {
		return d.FromBytes(val)
	})
	if err != nil {
		return d, fmt.Errorf("failed to unmarshal donation: %w", err)
	}
	return d, nil
}

// load reads a donation by its current id and checks its fingerprint
func (c *Controller) load(id string) (d donation.Donation, err error) {
	err = c.db.View(func(txn *badger.Txn) (err error) {
		d, err = getDonation(txn, id)
		return err
	})
	if err != nil {
		return d, err
	}

	err = c.machine.Verify(&d)
	if err != nil {
		return d, fmt.Errorf("failed to verify %s: %w", id, err)
	}
	err = c.open(&d)
	if err != nil {
		return d, err
	}
	return d, nil
}

// promoted returns the server id that replaced a temporary id
func (c *Controller) promoted(temporaryId string) (serverId string, found bool, err error) {
	err = c.db.View(func(txn *badger.Txn) (err error) {
		item, err := txn.Get(donation.PromotedKey(temporaryId))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		serverId, found = string(value), true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to query promotion: %w", err)
	}
	return serverId, found, nil
}

// resolve maps retired temporary ids to their server id
func (c *Controller) resolve(id string) (current string, err error) {
	if !random.IsTemporaryId(id) {
		return id, nil
	}
	serverId, found, err := c.promoted(id)
	if err != nil {
		return "", err
	}
	if found {
		return serverId, nil
	}
	return id, nil
}

// setIndexes keeps the sweep indexes in line with the status
func setIndexes(txn *badger.Txn, d *donation.Donation) (err error) {
	indexes := []struct {
		key    []byte
		active bool
	}{
		{key: donation.ScheduledKey(d.Id), active: d.Status == donation.StatusScheduled},
		{key: donation.ProcessingKey(d.Id), active: d.Status == donation.StatusProcessing && !d.Temporary},
		{key: donation.VerifyingKey(d.Id), active: d.Status == donation.StatusVerifying},
		{key: donation.RecurringKey(d.Id), active: d.Status == donation.StatusCompleted && d.RecurringActive() && !d.NextOccurrence.IsZero()},
	}
	for _, index := range indexes {
		if index.active {
			err = txn.Set(index.key, []byte(d.Id))
		} else {
			err = txn.Delete(index.key)
		}
		if err != nil {
			return fmt.Errorf("failed to update index: %w", err)
		}
	}
	return nil
}

// save persists d, runs extra inside the same transaction and publishes the
// new status
func (c *Controller) save(d *donation.Donation, extra ...func(txn *badger.Txn) (err error)) (err error) {
	stored, err := c.seal(*d)
	if err != nil {
		return err
	}

	err = c.db.Update(func(txn *badger.Txn) (err error) {
		err = txn.Set(donation.DonationKey(d.Id), stored.Bytes())
		if err != nil {
			return fmt.Errorf("failed to set donation: %w", err)
		}
		err = setIndexes(txn, d)
		if err != nil {
			return err
		}
		for _, fn := range extra {
			err = fn(txn)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save donation %s: %w", d.Id, err)
	}

	c.bus.Publish(events.UpdateOf(d))
	return nil
}

// dequeue removes a temporary id from the offline queue inside txn
func (c *Controller) dequeue(temporaryId string) func(txn *badger.Txn) (err error) {
	return func(txn *badger.Txn) (err error) {
		err = c.queue.Remove(txn, temporaryId)
		if errors.Is(err, offline.ErrNotQueued) {
			return nil
		}
		return err
	}
}

// promote swaps the temporary identity of d for a server id. The server
// record, the removal of the temporary record and queue entry and the
// tombstone commit together. The caller holds the lock of serverId.
func (c *Controller) promote(d *donation.Donation, serverId string) (err error) {
	temporaryId := d.Id

	promotedDonation := d.Clone()
	promotedDonation.Id = serverId
	promotedDonation.Temporary = false
	c.recorder.Record(&promotedDonation, audit.EventPromoted, map[string]any{"temporaryId": temporaryId}, false)
	c.machine.Seal(&promotedDonation)

	stored, err := c.seal(promotedDonation)
	if err != nil {
		return err
	}

	err = c.db.Update(func(txn *badger.Txn) (err error) {
		err = txn.Set(donation.DonationKey(serverId), stored.Bytes())
		if err != nil {
			return fmt.Errorf("failed to set server record: %w", err)
		}
		err = setIndexes(txn, &promotedDonation)
		if err != nil {
			return err
		}
		err = txn.Delete(donation.DonationKey(temporaryId))
		if err != nil {
			return fmt.Errorf("failed to delete temporary record: %w", err)
		}
		err = setIndexes(txn, &donation.Donation{Id: temporaryId})
		if err != nil {
			return err
		}
		err = c.dequeue(temporaryId)(txn)
		if err != nil {
			return err
		}
		return txn.Set(donation.PromotedKey(temporaryId), []byte(serverId))
	})
	if err != nil {
		return fmt.Errorf("failed to promote %s: %w", temporaryId, err)
	}

	*d = promotedDonation
	c.recorder.Link(temporaryId, serverId)
	c.bus.Rekey(temporaryId, serverId)
	c.bus.Publish(events.UpdateOf(d))
	log.Printf("INFO|SYNC|PROMOTE: %s is now %s", temporaryId, serverId)
	return nil
}
