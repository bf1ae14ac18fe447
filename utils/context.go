package utils

import (
	"context"
	"time"
)

const DefaultTimeout = 5 * time.Minute

func NewContext() (ctx context.Context, cancel func()) {
	return NewContextWithTimeout(DefaultTimeout)
}

func NewContextWithTimeout(timeout time.Duration) (ctx context.Context, cancel func()) {
	return context.WithTimeout(context.TODO(), timeout)
}

// Detach keeps the values of parent but not its cancellation, so work that must
// finish (a gateway call already sent) survives a caller going away.
func Detach(parent context.Context) (ctx context.Context, cancel func()) {
	return context.WithTimeout(context.WithoutCancel(parent), DefaultTimeout)
}
