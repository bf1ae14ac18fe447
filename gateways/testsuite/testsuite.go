package testsuite

import (
	"sync"
	"testing"

	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/random"
	"anarchy.ttfm/donations/utils"
	"github.com/stretchr/testify/assert"
)

func key() string {
	return "key-" + random.String(random.PseudoRand, random.CharsetAlphaNumeric, 12)
}

// Test runs the contract every Gateway implementation must honor.
func Test(t *testing.T, g gateways.Gateway, gen DataGenerator) {
	submission := func() gateways.Submission {
		amount, code := gen.Charge()
		return gateways.Submission{
			IdempotencyKey: key(),
			Amount:         amount,
			Currency:       code,
			Method:         gen.Method(),
		}
	}

	t.Run("Submit", func(t *testing.T) {
		t.Parallel()
		assertions := assert.New(t)

		ctx, cancel := utils.NewContext()
		defer cancel()

		receipt, err := g.Submit(ctx, submission())
		assertions.Nil(err, "failed to submit")
		assertions.NotEmpty(receipt.TransactionId, "transaction id")
	})

	t.Run("Same idempotency key is one charge", func(t *testing.T) {
		t.Parallel()
		assertions := assert.New(t)

		ctx, cancel := utils.NewContext()
		defer cancel()

		req := submission()
		first, err := g.Submit(ctx, req)
		assertions.Nil(err, "failed to submit")
		second, err := g.Submit(ctx, req)
		assertions.Nil(err, "failed to resubmit")
		assertions.Equal(first.TransactionId, second.TransactionId)
	})

	t.Run("Concurrent retransmissions collapse", func(t *testing.T) {
		t.Parallel()
		assertions := assert.New(t)

		ctx, cancel := utils.NewContext()
		defer cancel()

		req := submission()
		ids := make(chan string, 8)
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				receipt, err := g.Submit(ctx, req)
				if err == nil {
					ids <- receipt.TransactionId
				}
			}()
		}
		wg.Wait()
		close(ids)

		distinct := map[string]bool{}
		for id := range ids {
			distinct[id] = true
		}
		assertions.Len(distinct, 1, "one logical charge")
	})

	t.Run("Verify", func(t *testing.T) {
		t.Parallel()
		assertions := assert.New(t)

		ctx, cancel := utils.NewContext()
		defer cancel()

		req := submission()
		receipt, err := g.Submit(ctx, req)
		assertions.Nil(err, "failed to submit")

		settlement, err := g.Verify(ctx, gateways.VerifyRequest{IdempotencyKey: req.IdempotencyKey, TransactionId: receipt.TransactionId})
		assertions.Nil(err, "failed to verify")
		assertions.Equal(receipt.TransactionId, settlement.TransactionId)
		assertions.Contains([]gateways.SettlementStatus{gateways.SettlementSettled, gateways.SettlementPending}, settlement.Status)

		_, err = g.Verify(ctx, gateways.VerifyRequest{TransactionId: "unknown-" + key()})
		assertions.NotNil(err, "unknown transaction")
		assertions.False(gateways.IsRetryable(err), "unknown transaction is permanent")
	})

	t.Run("Refund is idempotent", func(t *testing.T) {
		t.Parallel()
		assertions := assert.New(t)

		ctx, cancel := utils.NewContext()
		defer cancel()

		req := submission()
		receipt, err := g.Submit(ctx, req)
		assertions.Nil(err, "failed to submit")

		refundReq := gateways.RefundRequest{
			IdempotencyKey: "refund:" + req.IdempotencyKey,
			TransactionId:  receipt.TransactionId,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Reason:         "donor request",
		}
		first, err := g.Refund(ctx, refundReq)
		assertions.Nil(err, "failed to refund")
		assertions.NotEmpty(first.RefundId)

		second, err := g.Refund(ctx, refundReq)
		assertions.Nil(err, "failed to repeat refund")
		assertions.Equal(first.RefundId, second.RefundId)
	})

	t.Run("Invalid submission is permanent", func(t *testing.T) {
		t.Parallel()
		assertions := assert.New(t)

		ctx, cancel := utils.NewContext()
		defer cancel()

		req := submission()
		req.Method.Token = ""
		_, err := g.Submit(ctx, req)
		assertions.NotNil(err)
		assertions.False(gateways.IsRetryable(err))
	})
}
