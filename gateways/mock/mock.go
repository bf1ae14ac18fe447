package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anarchy.ttfm/donations/gateways"
)

type Charge struct {
	Submission    gateways.Submission
	TransactionId string
	Refund        *gateways.Refund
}

// Mock implements the gateways.Gateway interface for testing purposes.
// It deduplicates by idempotency key like a real processor must.
type Mock struct {
	mu             sync.Mutex
	name           string
	charges        map[string]*Charge // idempotency key -> charge
	transactions   map[string]string  // transaction id -> idempotency key
	refunds        map[string]gateways.Refund
	submitFailures []error
	verifyFailures []error
	dropAcks       int
	settlement     gateways.SettlementStatus
	delay          time.Duration
	submitCalls    int
	verifyCalls    int
	nextId         uint64
}

var _ gateways.Gateway = (*Mock)(nil)

type Config struct {
	// Prefix of generated transaction ids
	Name string
	// Settlement reported by Verify. Defaults to settled
	Settlement gateways.SettlementStatus
	// Latency of every call
	Delay time.Duration
}

// New creates a new Mock gateway.
func New(config Config) *Mock {
	m := &Mock{
		name:         config.Name,
		charges:      make(map[string]*Charge),
		transactions: make(map[string]string),
		refunds:      make(map[string]gateways.Refund),
		settlement:   config.Settlement,
		delay:        config.Delay,
	}
	if m.name == "" {
		m.name = "mock"
	}
	if m.settlement == "" {
		m.settlement = gateways.SettlementSettled
	}
	return m
}

// FailSubmit queues errors returned by the next Submit calls, in order
func (m *Mock) FailSubmit(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitFailures = append(m.submitFailures, errs...)
}

// FailVerify queues errors returned by the next Verify calls, in order
func (m *Mock) FailVerify(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyFailures = append(m.verifyFailures, errs...)
}

// DropAcknowledgements makes the next n submissions reach the processor
// while the caller sees a timeout, like a response lost on the way back
func (m *Mock) DropAcknowledgements(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropAcks += n
}

func (m *Mock) SetSettlement(status gateways.SettlementStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlement = status
}

// Charges returns the number of distinct logical charges
func (m *Mock) Charges() (n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.charges)
}

// SubmitCalls counts every Submit, including failed and repeated ones
func (m *Mock) SubmitCalls() (n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

func (m *Mock) VerifyCalls() (n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyCalls
}

func (m *Mock) Charge(idempotencyKey string) (charge Charge, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, found := m.charges[idempotencyKey]
	if !found {
		return charge, false
	}
	return *c, true
}

func (m *Mock) wait(ctx context.Context) (err error) {
	if m.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(m.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return gateways.Retryable(gateways.CodeNetworkTimeout, ctx.Err().Error())
	case <-timer.C:
		return nil
	}
}

func (m *Mock) Submit(ctx context.Context, req gateways.Submission) (receipt gateways.Receipt, err error) {
	err = m.wait(ctx)
	if err != nil {
		return receipt, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitCalls++
	if len(m.submitFailures) > 0 {
		err = m.submitFailures[0]
		m.submitFailures = m.submitFailures[1:]
		return receipt, err
	}

	if req.IdempotencyKey == "" {
		return receipt, gateways.Permanent(gateways.CodeInvalidRequest, "missing idempotency key")
	}
	if req.Method.Token == "" {
		return receipt, gateways.Permanent(gateways.CodeInvalidRequest, "missing payment method token")
	}
	if !req.Amount.IsPositive() {
		return receipt, gateways.Permanent(gateways.CodeInvalidRequest, "amount must be positive")
	}

	charge, found := m.charges[req.IdempotencyKey]
	if found {
		if !charge.Submission.Amount.Equal(req.Amount) || charge.Submission.Currency != req.Currency {
			return receipt, gateways.Permanent(gateways.CodeInvalidRequest, "idempotency key reused with a different payload")
		}
	} else {
		m.nextId++
		charge = &Charge{
			Submission:    req,
			TransactionId: fmt.Sprintf("%s_tx_%d", m.name, m.nextId),
		}
		m.charges[req.IdempotencyKey] = charge
		m.transactions[charge.TransactionId] = req.IdempotencyKey
	}

	// The charge stands even when its acknowledgement is lost
	if m.dropAcks > 0 {
		m.dropAcks--
		return receipt, gateways.Retryable(gateways.CodeNetworkTimeout, "response lost")
	}
	return gateways.Receipt{TransactionId: charge.TransactionId}, nil
}

func (m *Mock) Verify(ctx context.Context, req gateways.VerifyRequest) (settlement gateways.Settlement, err error) {
	err = m.wait(ctx)
	if err != nil {
		return settlement, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.verifyCalls++
	if len(m.verifyFailures) > 0 {
		err = m.verifyFailures[0]
		m.verifyFailures = m.verifyFailures[1:]
		return settlement, err
	}

	_, found := m.transactions[req.TransactionId]
	if !found {
		return settlement, gateways.Permanent(gateways.CodeNotFound, "unknown transaction")
	}
	return gateways.Settlement{TransactionId: req.TransactionId, Status: m.settlement}, nil
}

func (m *Mock) Refund(ctx context.Context, req gateways.RefundRequest) (refund gateways.Refund, err error) {
	err = m.wait(ctx)
	if err != nil {
		return refund, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	refund, found := m.refunds[req.IdempotencyKey]
	if found {
		return refund, nil
	}

	key, found := m.transactions[req.TransactionId]
	if !found {
		return refund, gateways.Permanent(gateways.CodeNotFound, "unknown transaction")
	}
	charge := m.charges[key]
	if charge.Refund != nil {
		return refund, gateways.Permanent(gateways.CodeInvalidRequest, "transaction already refunded")
	}
	if req.Amount.Cmp(charge.Submission.Amount) > 0 {
		return refund, gateways.Permanent(gateways.CodeInvalidRequest, "refund exceeds charge")
	}

	m.nextId++
	refund = gateways.Refund{RefundId: fmt.Sprintf("%s_refund_%d", m.name, m.nextId)}
	charge.Refund = &refund
	m.refunds[req.IdempotencyKey] = refund
	return refund, nil
}
