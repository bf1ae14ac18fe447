package lifecycle

import (
	"fmt"
	"log"

	"anarchy.ttfm/donations/audit"
	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/money"
	"anarchy.ttfm/donations/offline"
	"anarchy.ttfm/donations/random"
	"anarchy.ttfm/donations/utils"
	"anarchy.ttfm/donations/validation"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type Request struct {
	UserId           string             `json:"userId"`
	AssociationId    string             `json:"associationId"`
	PaymentMethodId  string             `json:"paymentMethodId"`
	CountryCode      string             `json:"countryCode"`
	Amount           money.Amount       `json:"amount"`
	Currency         currency.Code      `json:"currency"`
	Anonymous        bool               `json:"isAnonymous"`
	Recurring        bool               `json:"isRecurring"`
	Frequency        donation.Frequency `json:"recurringFrequency,omitempty"`
	ShabbatCompliant bool               `json:"isShabbatCompliant"`
	Chai             bool               `json:"isChaiAmount"`
	Dedication       string             `json:"dedication,omitempty"`
}

func validationRequest(d *donation.Donation) (req validation.Request) {
	return validation.Request{
		Amount:      d.Amount,
		Currency:    d.Currency,
		Chai:        d.Chai,
		Method:      d.PaymentMethod,
		CountryCode: d.CountryCode,
		Recurring:   d.Recurring,
		Frequency:   d.RecurringFrequency,
	}
}

// Create validates req and stores the donation in PENDING. Online donations
// are driven in the background; offline ones get a temporary id and wait in
// the user's queue. A rejected request stores nothing.
func (c *Controller) Create(req Request) (d donation.Donation, err error) {
	err = offline.ValidUser(req.UserId)
	if err != nil {
		return d, &donation.ValidationError{Rule: donation.RuleUser, Message: "invalid user id"}
	}

	method, err := c.methods.Lookup(req.UserId, req.PaymentMethodId)
	if err != nil {
		return d, fmt.Errorf("failed to resolve payment method: %w", err)
	}

	now := c.clock.Now()
	d = donation.Donation{
		UserId:             req.UserId,
		AssociationId:      req.AssociationId,
		CountryCode:        req.CountryCode,
		Amount:             req.Amount,
		Currency:           currency.Normalize(string(req.Currency)),
		PaymentMethod:      method,
		Status:             donation.StatusPending,
		Anonymous:          req.Anonymous,
		Recurring:          req.Recurring,
		RecurringFrequency: req.Frequency,
		ShabbatCompliant:   req.ShabbatCompliant,
		Chai:               req.Chai,
		Dedication:         req.Dedication,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err = c.validator.Validate(validationRequest(&d), now)
	if err != nil {
		return d, err
	}

	online := c.online()
	if online {
		err = c.checkAssociation(d.AssociationId)
		if err != nil {
			return d, err
		}
	}

	err = c.admit(&d, online, map[string]any{"offline": !online})
	if err != nil {
		return d, err
	}
	return d, nil
}

func (c *Controller) checkAssociation(id string) (err error) {
	err = c.associations.CheckActive(id)
	if err != nil {
		return &donation.ValidationError{Rule: donation.RuleAssociation, Message: err.Error()}
	}
	return nil
}

// admit assigns the identity of a validated donation, stores it and either
// queues it or starts driving it
func (c *Controller) admit(d *donation.Donation, online bool, created map[string]any) (err error) {
	if online {
		d.Id = uuid.NewString()
	} else {
		d.Id = random.TemporaryId()
		d.Temporary = true
	}
	if d.IdempotencyKey == "" {
		d.IdempotencyKey = d.Id
	}

	c.recorder.Record(d, audit.EventCreated, created, false)
	c.recorder.Record(d, audit.EventValidationPassed, nil, false)

	if online {
		c.machine.Seal(d)
		err = c.save(d)
		if err != nil {
			return err
		}
		c.drive(d.Id)
		return nil
	}

	c.recorder.Record(d, audit.EventQueued, nil, false)
	c.machine.Seal(d)
	err = c.save(d, func(txn *badger.Txn) (err error) {
		_, err = c.queue.Enqueue(txn, d.UserId, d.Id, d.CreatedAt)
		return err
	})
	if err != nil {
		return err
	}
	log.Printf("INFO|OFFLINE|QUEUE: %s queued for %s", d.Id, d.UserId)
	return nil
}

// drive processes id in the background
func (c *Controller) drive(id string) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		ctx, cancel := utils.NewContext()
		defer cancel()

		_, err := c.Process(ctx, id)
		if err != nil {
			log.Println("ERROR|PROCESSING|DONATIONS:", id, err)
		}
	}()
}
