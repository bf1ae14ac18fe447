package gateways

import (
	"context"
	"errors"
	"fmt"

	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/money"
)

var ErrInvalidMethodType = errors.New("invalid payment method type")

const (
	MethodCreditCard    MethodType = "credit_card"
	MethodBankTransfer  MethodType = "bank_transfer"
	MethodDirectDebit   MethodType = "direct_debit"
	MethodRegionalDebit MethodType = "regional_debit"
)

type MethodType string

func (t MethodType) Validate() (err error) {
	switch t {
	case MethodCreditCard, MethodBankTransfer, MethodDirectDebit, MethodRegionalDebit:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMethodType, t)
	}
}

// IsCard reports whether the method carries an expiry date
func (t MethodType) IsCard() bool {
	return t == MethodCreditCard
}

const (
	SettlementSettled  SettlementStatus = "settled"
	SettlementPending  SettlementStatus = "pending"
	SettlementRejected SettlementStatus = "rejected"
)

type SettlementStatus string

type (
	// TokenizedMethod is everything a gateway receives about a payment method.
	// Only the gateway token and masked fields, never a card number.
	TokenizedMethod struct {
		// Gateway issued token referencing the stored instrument
		Token string `json:"token"`
		// Kind of instrument
		Type MethodType `json:"type"`
		// Last four digits, for display and dispute matching
		LastFour string `json:"lastFour,omitzero"`
		// Card expiry
		ExpiryMonth int `json:"expiryMonth,omitzero"`
		ExpiryYear  int `json:"expiryYear,omitzero"`
	}
	Submission struct {
		// Collapses retransmissions into a single logical charge
		IdempotencyKey string `json:"idempotencyKey"`
		// Amount to charge
		Amount money.Amount `json:"amount"`
		// ISO 4217 code of the amount
		Currency currency.Code `json:"currency"`
		// Tokenized instrument
		Method TokenizedMethod `json:"tokenizedMethod"`
		// Free form references, never sensitive
		Metadata map[string]string `json:"metadata,omitempty"`
	}
	Receipt struct {
		// Gateway assigned transaction id
		TransactionId string `json:"transactionId"`
	}
	VerifyRequest struct {
		IdempotencyKey string `json:"idempotencyKey"`
		TransactionId  string `json:"transactionId"`
	}
	Settlement struct {
		TransactionId string           `json:"transactionId"`
		Status        SettlementStatus `json:"status"`
	}
	RefundRequest struct {
		IdempotencyKey string        `json:"idempotencyKey"`
		TransactionId  string        `json:"transactionId"`
		Amount         money.Amount  `json:"amount"`
		Currency       currency.Code `json:"currency"`
		Reason         string        `json:"reason,omitzero"`
	}
	Refund struct {
		RefundId string `json:"refundId"`
	}
)

// Gateway is the contract expected from an external payment processor.
// Implementations MUST treat requests bearing the same idempotency key as one
// logical operation and answer repeats with the original outcome.
// Failures are reported as *Error.
type Gateway interface {
	// Submits a charge. Success means the gateway acknowledged receipt.
	Submit(ctx context.Context, req Submission) (receipt Receipt, err error)

	// Queries the settlement of an acknowledged charge
	Verify(ctx context.Context, req VerifyRequest) (settlement Settlement, err error)

	// Refunds a settled charge
	Refund(ctx context.Context, req RefundRequest) (refund Refund, err error)
}
