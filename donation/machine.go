package donation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"anarchy.ttfm/donations/gateways"
)

var ErrTampered = errors.New("donation fingerprint mismatch")

const EventTransition = "status.transition"

type Config struct {
	// HMAC key of the fingerprint. Without it a plain SHA-256 is used,
	// which only detects accidental or naive tampering.
	Key []byte
}

// Machine owns the status of donations. It is the only code that writes
// Status, and every accepted move refreshes the fingerprint and appends
// a transition entry.
type Machine struct {
	key []byte
}

func NewMachine(config Config) (m *Machine) {
	return &Machine{key: config.Key}
}

type transition struct {
	transactionId string
	refundId      string
	scheduledFor  time.Time
	err           error
	errCode       string
	exhausted     bool
	details       map[string]any
	route         gateways.Route
}

type TransitionOption func(t *transition)

// WithTransactionId records the gateway acknowledgement
func WithTransactionId(id string) TransitionOption {
	return func(t *transition) { t.transactionId = id }
}

func WithRefundId(id string) TransitionOption {
	return func(t *transition) { t.refundId = id }
}

func WithScheduledFor(at time.Time) TransitionOption {
	return func(t *transition) { t.scheduledFor = at }
}

// WithFailure stores the failure reason on the donation
func WithFailure(err error, code string, exhausted bool) TransitionOption {
	return func(t *transition) {
		t.err = err
		t.errCode = code
		t.exhausted = exhausted
	}
}

// WithRoute records the gateway the donation was routed to
func WithRoute(r gateways.Route) TransitionOption {
	return func(t *transition) { t.route = r }
}

// WithDetails adds details to the transition entry
func WithDetails(details map[string]any) TransitionOption {
	return func(t *transition) { t.details = details }
}

// Transition moves d to status to. An illegal move returns a *TransitionError
// and leaves d untouched.
func (m *Machine) Transition(d *Donation, to Status, now time.Time, opts ...TransitionOption) (entry AuditEntry, err error) {
	from := d.Status
	if !from.CanTransition(to) {
		return entry, &TransitionError{Id: d.Id, From: from, To: to}
	}

	var t transition
	for _, opt := range opts {
		opt(&t)
	}

	d.Status = to
	d.UpdatedAt = now
	if t.transactionId != "" {
		d.TransactionId = t.transactionId
	}
	if t.refundId != "" {
		d.RefundId = t.refundId
	}
	if !t.route.IsZero() {
		d.Route = t.route
	}
	if to == StatusScheduled {
		d.ScheduledFor = t.scheduledFor
	}
	if t.err != nil {
		d.Error = t.err.Error()
		d.ErrorCode = t.errCode
		d.AttemptsExhausted = t.exhausted
		d.ErrorRetryable = t.exhausted || gateways.IsRetryable(t.err)
	}

	details := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range t.details {
		details[k] = v
	}
	if t.transactionId != "" {
		details["transactionId"] = t.transactionId
	}
	if !t.scheduledFor.IsZero() {
		details["scheduledFor"] = t.scheduledFor
	}
	if !t.route.IsZero() {
		details["route"] = t.route.String()
	}
	entry = d.Append(now, EventTransition, details, false)

	m.Seal(d)
	return entry, nil
}

// Fingerprint computes the tamper evidence of d over id, status and update time
func (m *Machine) Fingerprint(d *Donation) (fingerprint string) {
	payload := d.Id + "|" + string(d.Status) + "|" + d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if len(m.key) == 0 {
		sum := sha256.Sum256([]byte(payload))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Seal refreshes the fingerprint. Needed after identity changes, like
// promotion of a temporary id.
func (m *Machine) Seal(d *Donation) {
	d.Fingerprint = m.Fingerprint(d)
}

func (m *Machine) Verify(d *Donation) (err error) {
	if !hmac.Equal([]byte(d.Fingerprint), []byte(m.Fingerprint(d))) {
		return ErrTampered
	}
	return nil
}
