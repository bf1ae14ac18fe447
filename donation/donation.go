package donation

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/money"
)

func DonationKey(id string) (key []byte) {
	return []byte(fmt.Sprintf("/donations/%s", id))
}

// PromotedKey maps a retired temporary id to the server id that replaced it
func PromotedKey(temporaryId string) (key []byte) {
	return []byte(fmt.Sprintf("/promoted/%s", temporaryId))
}

// Index keys pointing at donations waiting for a sweep
func ScheduledKey(id string) (key []byte) {
	return []byte(fmt.Sprintf("/scheduled/%s", id))
}

// ProcessingKey points at a donation whose submission outcome is unknown
func ProcessingKey(id string) (key []byte) {
	return []byte(fmt.Sprintf("/processing/%s", id))
}

func VerifyingKey(id string) (key []byte) {
	return []byte(fmt.Sprintf("/verifying/%s", id))
}

func RecurringKey(id string) (key []byte) {
	return []byte(fmt.Sprintf("/recurring/%s", id))
}

var (
	ScheduledPrefix  = []byte("/scheduled/")
	ProcessingPrefix = []byte("/processing/")
	VerifyingPrefix  = []byte("/verifying/")
	RecurringPrefix  = []byte("/recurring/")
)

type Frequency string

const (
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	default:
		return false
	}
}

// Next returns the occurrence following t
func (f Frequency) Next(t time.Time) (next time.Time) {
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	case FrequencyYearly:
		return t.AddDate(1, 0, 0)
	default:
		return time.Time{}
	}
}

// PaymentMethod is a stored instrument. It holds masked fields and the
// gateway token only.
type PaymentMethod struct {
	Id     string              `json:"id"`
	UserId string              `json:"userId"`
	Type   gateways.MethodType `json:"type"`
	// Gateway hint. Empty means the routing policy decides
	Provider string `json:"provider,omitzero"`
	// Currency the instrument is denominated in, if restricted
	Currency currency.Code `json:"currencyCode,omitzero"`
	// Issuing country
	Country     string `json:"countryCode"`
	LastFour    string `json:"lastFour,omitzero"`
	ExpiryMonth int    `json:"expiryMonth,omitzero"`
	ExpiryYear  int    `json:"expiryYear,omitzero"`
	// Gateway token. Never exposed publicly
	Token string `json:"token,omitzero"`
}

// Tokenized is the minimized form sent to gateways
func (m *PaymentMethod) Tokenized() (t gateways.TokenizedMethod) {
	return gateways.TokenizedMethod{
		Token:       m.Token,
		Type:        m.Type,
		LastFour:    m.LastFour,
		ExpiryMonth: m.ExpiryMonth,
		ExpiryYear:  m.ExpiryYear,
	}
}

type AuditEntry struct {
	// Position in the trail, starting at 1
	Seq       int            `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"eventType"`
	Details   map[string]any `json:"details,omitempty"`
	// Sensitive entries have their details redacted in public views
	Sensitive bool `json:"sensitive,omitzero"`
}

type Donation struct {
	// Addressable identity. Temporary ids carry the tmp_ prefix
	Id        string `json:"id"`
	Temporary bool   `json:"temporary,omitzero"`
	// Sent with every gateway submission of this donation
	IdempotencyKey string `json:"idempotencyKey"`

	UserId        string         `json:"userId"`
	AssociationId string         `json:"associationId"`
	CountryCode   string         `json:"countryCode"`
	Amount        money.Amount   `json:"amount"`
	Currency      currency.Code  `json:"currency"`
	PaymentMethod PaymentMethod  `json:"paymentMethod"`
	Route         gateways.Route `json:"route,omitzero"`

	Status        Status `json:"status"`
	TransactionId string `json:"transactionId,omitzero"`
	RefundId      string `json:"refundId,omitzero"`

	Anonymous          bool      `json:"isAnonymous"`
	Recurring          bool      `json:"isRecurring"`
	RecurringFrequency Frequency `json:"recurringFrequency,omitzero"`
	ShabbatCompliant   bool      `json:"isShabbatCompliant"`
	Chai               bool      `json:"isChaiAmount"`
	// Encrypted at rest
	Dedication string `json:"dedication,omitzero"`

	// Earliest processing time of a SCHEDULED donation
	ScheduledFor time.Time `json:"scheduledFor,omitzero"`
	// Next instance of a recurring series
	NextOccurrence       time.Time `json:"nextOccurrence,omitzero"`
	RecurringCancelledAt time.Time `json:"recurringCancelledAt,omitzero"`
	// First donation of the recurring series
	ParentId string `json:"parentId,omitzero"`
	// Failed donation this one retries
	RetryOf string `json:"retryOf,omitzero"`

	// Last failure
	Error     string `json:"error,omitzero"`
	ErrorCode string `json:"errorCode,omitzero"`
	// The last failure was a spent transient retry budget
	AttemptsExhausted bool `json:"attemptsExhausted,omitzero"`
	// The last failure was transient, so the gateway may hold the charge
	ErrorRetryable bool `json:"errorRetryable,omitzero"`

	AuditTrail []AuditEntry `json:"auditTrail"`

	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Fingerprint string    `json:"fingerprint"`
}

// Append adds an entry to the end of the trail. Entries already in the trail
// are never touched.
func (d *Donation) Append(now time.Time, eventType string, details map[string]any, sensitive bool) (entry AuditEntry) {
	entry = AuditEntry{
		Seq:       len(d.AuditTrail) + 1,
		Timestamp: now,
		Type:      eventType,
		Details:   details,
		Sensitive: sensitive,
	}
	d.AuditTrail = append(d.AuditTrail, entry)
	return entry
}

// RecurringActive reports a series that still produces instances
func (d *Donation) RecurringActive() bool {
	return d.Recurring && d.RecurringCancelledAt.IsZero()
}

// Clone returns a deep copy
func (d *Donation) Clone() (c Donation) {
	c = *d
	c.AuditTrail = slices.Clone(d.AuditTrail)
	return c
}

func (d *Donation) Bytes() (bytes []byte) {
	bytes, _ = json.Marshal(d)
	return bytes
}

func (d *Donation) FromBytes(b []byte) (err error) {
	return json.Unmarshal(b, d)
}
