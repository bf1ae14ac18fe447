package gateways

import (
	"context"
	"errors"
	"fmt"
	"net"
)

const (
	CodeNetworkTimeout     = "network_timeout"
	CodeUnavailable        = "gateway_unavailable"
	CodeDeclined           = "declined"
	CodeInvalidRequest     = "invalid_request"
	CodeIncompatibleMethod = "incompatible_method"
	CodeSettlementRejected = "settlement_rejected"
	CodeNotFound           = "not_found"
)

// Error is the structured failure of a gateway call: {code, retryable}
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitzero"`
	// Transient failures may be retried with the same idempotency key
	Retryable bool `json:"retryable"`
	// Set by the retry coordinator once the retry budget is spent
	AttemptsExhausted bool `json:"attemptsExhausted,omitzero"`
	Attempts          int  `json:"attempts,omitzero"`
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	msg := fmt.Sprintf("gateway error %s (%s)", e.Code, kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.AttemptsExhausted {
		msg += fmt.Sprintf(": gave up after %d attempts", e.Attempts)
	}
	return msg
}

func Retryable(code, message string) (err *Error) {
	return &Error{Code: code, Message: message, Retryable: true}
}

func Permanent(code, message string) (err *Error) {
	return &Error{Code: code, Message: message}
}

// AsError extracts the structured gateway error from err
func AsError(err error) (gerr *Error, ok bool) {
	ok = errors.As(err, &gerr)
	return gerr, ok
}

// IsRetryable classifies a failure. Structured errors carry their own flag,
// timeouts and network errors are transient, anything else is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if gerr, ok := AsError(err); ok {
		return gerr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// Normalize converts any failure into a structured gateway error
func Normalize(err error) (gerr *Error) {
	if err == nil {
		return nil
	}
	if gerr, ok := AsError(err); ok {
		return gerr
	}
	if IsRetryable(err) {
		return Retryable(CodeNetworkTimeout, err.Error())
	}
	return Permanent(CodeInvalidRequest, err.Error())
}
