package donation_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/money"
	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

func newDonation() donation.Donation {
	return donation.Donation{
		Id:             "7d0d1c5e-9c0e-4f57-bb8e-6a0e0e7e2b11",
		IdempotencyKey: "7d0d1c5e-9c0e-4f57-bb8e-6a0e0e7e2b11",
		UserId:         "user-1",
		Amount:         money.FromInt(18),
		Currency:       currency.USD,
		Status:         donation.StatusPending,
		CreatedAt:      epoch,
		UpdatedAt:      epoch,
	}
}

func Test_TransitionTable(t *testing.T) {
	all := []donation.Status{
		donation.StatusPending, donation.StatusValidating, donation.StatusScheduled,
		donation.StatusProcessing, donation.StatusVerifying, donation.StatusCompleted,
		donation.StatusFailed, donation.StatusRefunded, donation.StatusDisputed, donation.StatusCancelled,
	}
	legal := map[string]bool{
		"PENDING>VALIDATING":    true,
		"PENDING>CANCELLED":     true,
		"VALIDATING>PROCESSING": true,
		"VALIDATING>SCHEDULED":  true,
		"VALIDATING>CANCELLED":  true,
		"SCHEDULED>PROCESSING":  true,
		"PROCESSING>VERIFYING":  true,
		"PROCESSING>FAILED":     true,
		"VERIFYING>COMPLETED":   true,
		"VERIFYING>FAILED":      true,
		"COMPLETED>REFUNDED":    true,
		"COMPLETED>DISPUTED":    true,
	}

	for _, from := range all {
		for _, to := range all {
			name := fmt.Sprintf("%s>%s", from, to)
			t.Run(name, func(t *testing.T) {
				assert.Equal(t, legal[name], from.CanTransition(to))
			})
		}
	}
}

func Test_Machine(t *testing.T) {
	t.Run("Happy path", func(t *testing.T) {
		assertions := assert.New(t)
		machine := donation.NewMachine(donation.Config{})
		d := newDonation()

		path := []donation.Status{donation.StatusValidating, donation.StatusProcessing, donation.StatusVerifying, donation.StatusCompleted}
		for index, to := range path {
			var opts []donation.TransitionOption
			if to == donation.StatusVerifying {
				opts = append(opts, donation.WithTransactionId("tx-1"))
			}
			entry, err := machine.Transition(&d, to, epoch.Add(time.Duration(index+1)*time.Second), opts...)
			assertions.Nil(err)
			assertions.Equal(donation.EventTransition, entry.Type)
			assertions.Equal(index+1, entry.Seq)
			assertions.Nil(machine.Verify(&d))
		}
		assertions.Equal(donation.StatusCompleted, d.Status)
		assertions.Equal("tx-1", d.TransactionId)
		assertions.Len(d.AuditTrail, 4)
	})

	t.Run("PENDING to COMPLETED is rejected", func(t *testing.T) {
		assertions := assert.New(t)
		machine := donation.NewMachine(donation.Config{})
		d := newDonation()
		machine.Seal(&d)
		before := d.Clone()

		_, err := machine.Transition(&d, donation.StatusCompleted, epoch.Add(time.Minute), donation.WithTransactionId("tx"))
		var terr *donation.TransitionError
		assertions.ErrorAs(err, &terr)
		assertions.Equal(donation.StatusPending, terr.From)
		assertions.Equal(donation.StatusCompleted, terr.To)
		assertions.Equal(before, d, "prior state preserved")
	})

	t.Run("Terminal states are immutable", func(t *testing.T) {
		assertions := assert.New(t)
		machine := donation.NewMachine(donation.Config{})
		for _, status := range []donation.Status{donation.StatusFailed, donation.StatusCancelled, donation.StatusRefunded, donation.StatusDisputed} {
			d := newDonation()
			d.Status = status
			_, err := machine.Transition(&d, donation.StatusProcessing, epoch)
			assertions.NotNil(err, status)
			assertions.Equal(status, d.Status)
		}
	})

	t.Run("Failure is recorded", func(t *testing.T) {
		assertions := assert.New(t)
		machine := donation.NewMachine(donation.Config{})
		d := newDonation()
		d.Status = donation.StatusProcessing

		gerr := gateways.Permanent(gateways.CodeDeclined, "insufficient funds")
		_, err := machine.Transition(&d, donation.StatusFailed, epoch, donation.WithFailure(gerr, gerr.Code, false))
		assertions.Nil(err)
		assertions.Equal(gateways.CodeDeclined, d.ErrorCode)
		assertions.False(d.AttemptsExhausted)
		assertions.False(d.ErrorRetryable)
	})

	t.Run("Transient failure is flagged retryable", func(t *testing.T) {
		assertions := assert.New(t)
		machine := donation.NewMachine(donation.Config{})
		d := newDonation()
		d.Status = donation.StatusProcessing

		gerr := gateways.Retryable(gateways.CodeNetworkTimeout, "response lost")
		_, err := machine.Transition(&d, donation.StatusFailed, epoch, donation.WithFailure(gerr, gerr.Code, false))
		assertions.Nil(err)
		assertions.False(d.AttemptsExhausted)
		assertions.True(d.ErrorRetryable)
	})

	t.Run("Scheduling", func(t *testing.T) {
		assertions := assert.New(t)
		machine := donation.NewMachine(donation.Config{})
		d := newDonation()
		d.Status = donation.StatusValidating

		at := epoch.Add(30 * time.Hour)
		_, err := machine.Transition(&d, donation.StatusScheduled, epoch, donation.WithScheduledFor(at))
		assertions.Nil(err)
		assertions.Equal(at, d.ScheduledFor)
	})
}

func Test_Fingerprint(t *testing.T) {
	assertions := assert.New(t)

	plain := donation.NewMachine(donation.Config{})
	keyed := donation.NewMachine(donation.Config{Key: []byte("server-secret")})

	d := newDonation()
	assertions.NotEqual(plain.Fingerprint(&d), keyed.Fingerprint(&d))
	assertions.Len(plain.Fingerprint(&d), 64)

	keyed.Seal(&d)
	assertions.Nil(keyed.Verify(&d))
	assertions.ErrorIs(plain.Verify(&d), donation.ErrTampered, "a different key is detected")

	d.Status = donation.StatusCompleted
	assertions.ErrorIs(keyed.Verify(&d), donation.ErrTampered, "status edited outside the machine")
}

func Test_Public(t *testing.T) {
	assertions := assert.New(t)

	d := newDonation()
	d.Anonymous = true
	d.Dedication = "From the Cohen family"
	d.PaymentMethod = donation.PaymentMethod{Token: "tok_secret", LastFour: "4242", Type: gateways.MethodCreditCard}
	d.Append(epoch, "validation.passed", map[string]any{"rule": "all"}, false)
	d.Append(epoch, "gateway.call", map[string]any{"error": "upstream 502 at 10.0.0.3"}, true)
	d.Append(epoch, "status.transition", map[string]any{"to": "FAILED"}, false)

	view := donation.Public(&d)
	assertions.Len(view.AuditTrail, 3)
	for index := range view.AuditTrail {
		assertions.Equal(d.AuditTrail[index].Seq, view.AuditTrail[index].Seq)
		assertions.Equal(d.AuditTrail[index].Type, view.AuditTrail[index].Type)
	}
	assertions.Equal(map[string]any{"redacted": true}, view.AuditTrail[1].Details)
	assertions.Equal("upstream 502 at 10.0.0.3", d.AuditTrail[1].Details["error"], "original untouched")
	assertions.Empty(view.PaymentMethod.Token)
	assertions.Equal("4242", view.PaymentMethod.LastFour)
	assertions.Empty(view.UserId)
	assertions.Empty(view.Dedication)
	assertions.Equal("From the Cohen family", d.Dedication, "original untouched")

	contents, err := json.Marshal(view)
	assertions.Nil(err)
	assertions.NotContains(string(contents), "tok_secret")
	assertions.NotContains(string(contents), "10.0.0.3")
	assertions.NotContains(string(contents), "Cohen")

	d.Anonymous = false
	view = donation.Public(&d)
	assertions.Equal("From the Cohen family", view.Dedication, "shown when the donor is named")
}

func Test_Bytes(t *testing.T) {
	assertions := assert.New(t)

	d := newDonation()
	d.Route = gateways.Regional
	d.Recurring = true
	d.RecurringFrequency = donation.FrequencyMonthly

	var decoded donation.Donation
	assertions.Nil(decoded.FromBytes(d.Bytes()))
	assertions.Equal(d.Route, decoded.Route)
	assertions.True(d.Amount.Equal(decoded.Amount))
	assertions.Equal(d.RecurringFrequency, decoded.RecurringFrequency)
	assertions.True(d.CreatedAt.Equal(decoded.CreatedAt))
}

func Test_Frequency(t *testing.T) {
	assertions := assert.New(t)

	assertions.Equal(epoch.AddDate(0, 0, 7), donation.FrequencyWeekly.Next(epoch))
	assertions.Equal(time.Date(2025, time.April, 3, 10, 0, 0, 0, time.UTC), donation.FrequencyMonthly.Next(epoch))
	assertions.Equal(time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC), donation.FrequencyYearly.Next(epoch))
	assertions.False(donation.Frequency("daily").Valid())
}

func Test_MessageKey(t *testing.T) {
	tests := []struct {
		Name string
		Err  error
		Key  string
	}{
		{Name: "Validation", Err: &donation.ValidationError{Rule: donation.RuleChai, Message: "not a multiple of 18"}, Key: "donation.error.validation.chai"},
		{Name: "Transition", Err: fmt.Errorf("failed: %w", &donation.TransitionError{From: donation.StatusFailed, To: donation.StatusProcessing}), Key: donation.MessageTransition},
		{Name: "Conflict", Err: &donation.SyncConflictError{TemporaryId: "tmp_1"}, Key: donation.MessageSyncConflict},
		{Name: "Not found", Err: fmt.Errorf("query: %w", donation.ErrNotFound), Key: donation.MessageNotFound},
		{Name: "Gateway retry", Err: gateways.Retryable(gateways.CodeNetworkTimeout, "timeout"), Key: donation.MessageGatewayRetry},
		{Name: "Gateway declined", Err: gateways.Permanent(gateways.CodeDeclined, "declined"), Key: donation.MessageGateway},
		{Name: "Unknown", Err: fmt.Errorf("disk on fire"), Key: donation.MessageInternal},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Key, donation.MessageKey(test.Err))
		})
	}
}
