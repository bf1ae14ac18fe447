package donation

import (
	"errors"
	"fmt"

	"anarchy.ttfm/donations/gateways"
)

var (
	ErrNotFound     = errors.New("donation not found")
	ErrNotRecurring = errors.New("donation is not recurring")
)

// Validation rules, in evaluation order
const (
	RuleUser           = "user"
	RuleCurrency       = "currency"
	RuleAmount         = "amount"
	RulePrecision      = "precision"
	RuleMinimum        = "minimum"
	RuleChai           = "chai"
	RuleRecurrence     = "recurrence"
	RuleMethod         = "payment_method"
	RuleMethodCurrency = "payment_method_currency"
	RuleGateway        = "gateway"
	RuleRegionalDebit  = "regional_debit"
	RuleExpiry         = "expiry"
	RuleAssociation    = "association"
)

// ValidationError is the first business rule a donation violates
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Rule, e.Message)
}

// TransitionError is the InvalidStatusTransition failure
type TransitionError struct {
	Id   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition of %s: %s -> %s", e.Id, e.From, e.To)
}

// SyncConflictError reports an offline replay colliding with a local cancellation
type SyncConflictError struct {
	TemporaryId string
	ServerId    string
	// Server side status at the time of the conflict
	Status Status
	// Resolved conflicts are settled in favour of the cancellation
	Resolved bool
}

func (e *SyncConflictError) Error() string {
	if e.Resolved {
		return fmt.Sprintf("sync conflict on %s resolved by cancellation", e.TemporaryId)
	}
	return fmt.Sprintf("sync conflict on %s: server donation %s already %s", e.TemporaryId, e.ServerId, e.Status)
}

// Localization keys of user visible messages
const (
	MessageValidation   = "donation.error.validation"
	MessageGateway      = "donation.error.gateway"
	MessageGatewayRetry = "donation.error.gateway.retry_later"
	MessageTransition   = "donation.error.invalid_transition"
	MessageSyncConflict = "donation.error.sync_conflict"
	MessageEncryption   = "donation.error.encryption"
	MessageNotFound     = "donation.error.not_found"
	MessageNotRecurring = "donation.error.not_recurring"
	MessageInternal     = "donation.error.internal"
)

type encryptionError interface {
	error
	EncryptionFailure() bool
}

// MessageKey maps an error kind to the key of its localized message.
// Technical details never reach the key.
func MessageKey(err error) (key string) {
	var (
		validation *ValidationError
		transition *TransitionError
		conflict   *SyncConflictError
		encryption encryptionError
	)
	switch {
	case errors.As(err, &validation):
		return MessageValidation + "." + validation.Rule
	case errors.As(err, &transition):
		return MessageTransition
	case errors.As(err, &conflict):
		return MessageSyncConflict
	case errors.As(err, &encryption):
		return MessageEncryption
	case errors.Is(err, ErrNotFound):
		return MessageNotFound
	case errors.Is(err, ErrNotRecurring):
		return MessageNotRecurring
	}
	if gerr, ok := gateways.AsError(err); ok {
		if gerr.Retryable {
			return MessageGatewayRetry
		}
		return MessageGateway
	}
	return MessageInternal
}
