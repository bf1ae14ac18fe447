package mock_test

import (
	"context"
	"testing"

	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/gateways/mock"
	"anarchy.ttfm/donations/gateways/testsuite"
	"anarchy.ttfm/donations/money"
	"github.com/stretchr/testify/assert"
)

func Test_Mock(t *testing.T) {
	testsuite.Test(t, mock.New(mock.Config{}), &testsuite.MockGenerator{})
}

func Test_ScriptedFailures(t *testing.T) {
	assertions := assert.New(t)

	m := mock.New(mock.Config{Name: "regional"})
	m.FailSubmit(
		gateways.Retryable(gateways.CodeNetworkTimeout, "timeout"),
		gateways.Permanent(gateways.CodeDeclined, "declined"),
	)

	req := gateways.Submission{
		IdempotencyKey: "donation-1",
		Amount:         money.FromInt(36),
		Currency:       currency.ILS,
		Method:         (&testsuite.MockGenerator{}).Method(),
	}
	ctx := context.Background()

	_, err := m.Submit(ctx, req)
	assertions.True(gateways.IsRetryable(err))
	_, err = m.Submit(ctx, req)
	assertions.False(gateways.IsRetryable(err))
	assertions.NotNil(err)

	receipt, err := m.Submit(ctx, req)
	assertions.Nil(err)
	assertions.Equal("regional_tx_1", receipt.TransactionId)
	assertions.Equal(3, m.SubmitCalls())
	assertions.Equal(1, m.Charges())

	req.Amount = money.FromInt(54)
	_, err = m.Submit(ctx, req)
	assertions.NotNil(err, "payload mismatch under the same key")

	charge, found := m.Charge("donation-1")
	assertions.True(found)
	assertions.Equal(receipt.TransactionId, charge.TransactionId)

	m.SetSettlement(gateways.SettlementPending)
	settlement, err := m.Verify(ctx, gateways.VerifyRequest{TransactionId: receipt.TransactionId})
	assertions.Nil(err)
	assertions.Equal(gateways.SettlementPending, settlement.Status)
	assertions.Equal(1, m.VerifyCalls())
}

func Test_DropAcknowledgements(t *testing.T) {
	assertions := assert.New(t)

	m := mock.New(mock.Config{})
	m.DropAcknowledgements(2)

	req := gateways.Submission{
		IdempotencyKey: "donation-2",
		Amount:         money.FromInt(18),
		Currency:       currency.USD,
		Method:         (&testsuite.MockGenerator{}).Method(),
	}
	ctx := context.Background()

	for range 2 {
		_, err := m.Submit(ctx, req)
		assertions.True(gateways.IsRetryable(err), "acknowledgement must look lost")
	}
	assertions.Equal(1, m.Charges(), "the processor charged once")

	receipt, err := m.Submit(ctx, req)
	assertions.Nil(err)
	charge, found := m.Charge("donation-2")
	assertions.True(found)
	assertions.Equal(charge.TransactionId, receipt.TransactionId)
}
