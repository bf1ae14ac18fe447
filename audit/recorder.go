// Package audit appends entries to donation audit trails and mirrors them
// to the journal.
package audit

import (
	"context"
	"log"
	"time"

	"anarchy.ttfm/donations/clock"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/utils"
)

// Event types
const (
	EventCreated            = "donation.created"
	EventValidationPassed   = "validation.passed"
	EventValidationFailed   = "validation.failed"
	EventGatewayRouted      = "gateway.routed"
	EventGatewayCall        = "gateway.call"
	EventGatewayVerify      = "gateway.verify"
	EventGatewayRefund      = "gateway.refund"
	EventGatewayInterrupted = "gateway.interrupted"
	EventResumed            = "processing.resumed"
	EventQueued             = "offline.queued"
	EventReplayDeferred     = "offline.replay_deferred"
	EventPromoted           = "offline.promoted"
	EventSyncConflict       = "sync.conflict"
	EventRecurringCancelled = "recurring.cancelled"
	EventRecurringNext      = "recurring.next"
	EventTransition         = donation.EventTransition
)

// Sink persists entries outside the donation record
type Sink interface {
	Append(ctx context.Context, donationId string, entry donation.AuditEntry) (err error)
	Link(ctx context.Context, temporaryId, serverId string, at time.Time) (err error)
}

type Config struct {
	Machine *donation.Machine
	Clock   clock.Clock
	// Optional journal
	Sink Sink
}

// Recorder is the single write path of audit trails and statuses
type Recorder struct {
	machine *donation.Machine
	clock   clock.Clock
	sink    Sink
}

func New(config Config) (r *Recorder) {
	r = &Recorder{
		machine: config.Machine,
		clock:   config.Clock,
		sink:    config.Sink,
	}
	if r.clock == nil {
		r.clock = clock.System{}
	}
	if r.machine == nil {
		r.machine = donation.NewMachine(donation.Config{})
	}
	return r
}

func (r *Recorder) Machine() (m *donation.Machine) { return r.machine }

// Record appends an entry to d and journals it
func (r *Recorder) Record(d *donation.Donation, eventType string, details map[string]any, sensitive bool) (entry donation.AuditEntry) {
	entry = d.Append(r.clock.Now(), eventType, details, sensitive)
	r.journal(d.Id, entry)
	return entry
}

// Transition moves d through the state machine and journals the entry
func (r *Recorder) Transition(d *donation.Donation, to donation.Status, opts ...donation.TransitionOption) (entry donation.AuditEntry, err error) {
	entry, err = r.machine.Transition(d, to, r.clock.Now(), opts...)
	if err != nil {
		return entry, err
	}
	r.journal(d.Id, entry)
	return entry, nil
}

// Link journals the promotion of a temporary id
func (r *Recorder) Link(temporaryId, serverId string) {
	if r.sink == nil {
		return
	}
	ctx, cancel := utils.NewContext()
	defer cancel()

	err := r.sink.Link(ctx, temporaryId, serverId, r.clock.Now())
	if err != nil {
		log.Printf("[audit] failed to link %s to %s: %v", temporaryId, serverId, err)
	}
}

// journal failures never block the pipeline; the record in the donation
// store remains authoritative
func (r *Recorder) journal(donationId string, entry donation.AuditEntry) {
	if r.sink == nil {
		return
	}
	ctx, cancel := utils.NewContext()
	defer cancel()

	err := r.sink.Append(ctx, donationId, entry)
	if err != nil {
		log.Printf("[audit] failed to journal %s #%d of %s: %v", entry.Type, entry.Seq, donationId, err)
	}
}
