package httpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"anarchy.ttfm/donations/gateways"
)

const (
	ChargesPath = "/charges"
	VerifyPath  = "/verify"
	RefundsPath = "/refunds"

	IdempotencyHeader = "Idempotency-Key"
)

const StatusSuccess = "success"

type (
	// SubmitResponse is the processor acknowledgement of a charge
	SubmitResponse struct {
		Status        string `json:"status"`
		TransactionId string `json:"transactionId"`
	}
	// ErrorResponse is the body of every non 2xx reply
	ErrorResponse struct {
		Code      string `json:"code"`
		Message   string `json:"message,omitzero"`
		Retryable bool   `json:"retryable"`
	}
)

// Client talks JSON over HTTP to a payment processor.
type Client struct {
	url           string
	customHeaders map[string]string
	client        *http.Client
}

var _ gateways.Gateway = (*Client)(nil)

func New(config Config) (c *Client) {
	c = &Client{
		url:           strings.TrimSuffix(config.Url, "/"),
		customHeaders: config.CustomHeaders,
		client:        config.Client,
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	return c
}

func (c *Client) do(ctx context.Context, path, idempotencyKey string, body, out any) (err error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return gateways.Permanent(gateways.CodeInvalidRequest, fmt.Sprintf("failed to encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(payload))
	if err != nil {
		return gateways.Permanent(gateways.CodeInvalidRequest, fmt.Sprintf("failed to prepare request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, idempotencyKey)
	for key, value := range c.customHeaders {
		req.Header.Set(key, value)
	}

	res, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return gateways.Retryable(gateways.CodeNetworkTimeout, err.Error())
		}
		return gateways.Normalize(err)
	}
	defer res.Body.Close()

	contents, err := io.ReadAll(res.Body)
	if err != nil {
		return gateways.Retryable(gateways.CodeNetworkTimeout, fmt.Sprintf("failed to read response: %v", err))
	}

	if res.StatusCode/100 != 2 {
		return decodeError(res.StatusCode, contents)
	}

	err = json.Unmarshal(contents, out)
	if err != nil {
		return gateways.Retryable(gateways.CodeUnavailable, fmt.Sprintf("failed to decode response: %v", err))
	}
	return nil
}

// decodeError trusts the processor's own classification when it sends one.
// Otherwise 5xx and 429 are transient.
func decodeError(status int, contents []byte) (err *gateways.Error) {
	var res ErrorResponse
	if json.Unmarshal(contents, &res) == nil && res.Code != "" {
		return &gateways.Error{Code: res.Code, Message: res.Message, Retryable: res.Retryable}
	}

	message := fmt.Sprintf("unexpected status %d", status)
	switch {
	case status >= 500, status == http.StatusTooManyRequests:
		return gateways.Retryable(gateways.CodeUnavailable, message)
	case status == http.StatusNotFound:
		return gateways.Permanent(gateways.CodeNotFound, message)
	default:
		return gateways.Permanent(gateways.CodeInvalidRequest, message)
	}
}

func (c *Client) Submit(ctx context.Context, req gateways.Submission) (receipt gateways.Receipt, err error) {
	var res SubmitResponse
	err = c.do(ctx, ChargesPath, req.IdempotencyKey, &req, &res)
	if err != nil {
		return receipt, err
	}

	if res.Status != StatusSuccess || res.TransactionId == "" {
		return receipt, gateways.Permanent(gateways.CodeInvalidRequest, fmt.Sprintf("unexpected submit status %q", res.Status))
	}
	return gateways.Receipt{TransactionId: res.TransactionId}, nil
}

func (c *Client) Verify(ctx context.Context, req gateways.VerifyRequest) (settlement gateways.Settlement, err error) {
	err = c.do(ctx, VerifyPath, req.IdempotencyKey, &req, &settlement)
	return settlement, err
}

func (c *Client) Refund(ctx context.Context, req gateways.RefundRequest) (refund gateways.Refund, err error) {
	err = c.do(ctx, RefundsPath, req.IdempotencyKey, &req, &refund)
	return refund, err
}
