package httpgateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/gateways/httpgateway"
	"anarchy.ttfm/donations/gateways/mock"
	"anarchy.ttfm/donations/gateways/testsuite"
	"anarchy.ttfm/donations/money"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func Test_Client(t *testing.T) {
	server := httptest.NewServer(httpgateway.Handler(mock.New(mock.Config{Name: "http"})))
	t.Cleanup(server.Close)

	client := httpgateway.New(httpgateway.Config{Url: server.URL, Client: server.Client()})
	testsuite.Test(t, client, &testsuite.MockGenerator{})
}

func Test_ErrorClassification(t *testing.T) {
	m := mock.New(mock.Config{})
	server := httptest.NewServer(httpgateway.Handler(m))
	t.Cleanup(server.Close)

	client := httpgateway.New(httpgateway.Config{
		Url:           server.URL + "/",
		Client:        server.Client(),
		CustomHeaders: map[string]string{"X-Merchant": "donations"},
	})

	req := gateways.Submission{
		IdempotencyKey: "classification",
		Amount:         money.FromInt(18),
		Currency:       currency.ILS,
		Method:         (&testsuite.MockGenerator{}).Method(),
	}

	t.Run("Retryable", func(t *testing.T) {
		assertions := assert.New(t)
		m.FailSubmit(gateways.Retryable(gateways.CodeUnavailable, "maintenance"))

		_, err := client.Submit(context.Background(), req)
		gerr, ok := gateways.AsError(err)
		assertions.True(ok)
		assertions.True(gerr.Retryable)
		assertions.Equal(gateways.CodeUnavailable, gerr.Code)
	})
	t.Run("Declined", func(t *testing.T) {
		assertions := assert.New(t)
		m.FailSubmit(gateways.Permanent(gateways.CodeDeclined, "insufficient funds"))

		_, err := client.Submit(context.Background(), req)
		gerr, ok := gateways.AsError(err)
		assertions.True(ok)
		assertions.False(gerr.Retryable)
		assertions.Equal(gateways.CodeDeclined, gerr.Code)
	})
}

func Test_StatusWithoutBody(t *testing.T) {
	tests := []struct {
		Name      string
		Status    int
		Retryable bool
	}{
		{Name: "Bad gateway", Status: http.StatusBadGateway, Retryable: true},
		{Name: "Throttled", Status: http.StatusTooManyRequests, Retryable: true},
		{Name: "Bad request", Status: http.StatusBadRequest, Retryable: false},
		{Name: "Not found", Status: http.StatusNotFound, Retryable: false},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assertions := assert.New(t)

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assertions.Equal("key", r.Header.Get(httpgateway.IdempotencyHeader))
				w.WriteHeader(test.Status)
			}))
			defer server.Close()

			client := httpgateway.New(httpgateway.Config{Url: server.URL, Client: server.Client()})
			_, err := client.Verify(context.Background(), gateways.VerifyRequest{IdempotencyKey: "key", TransactionId: "tx"})
			assertions.NotNil(err)
			assertions.Equal(test.Retryable, gateways.IsRetryable(err))
		})
	}
}

func Test_TransportConfig(t *testing.T) {
	assertions := assert.New(t)

	username, password := "user", "pass"

	config := httpgateway.TransportConfig{Username: &username, Password: &password}
	client, err := config.HTTPClient()
	assertions.Nil(err)
	assertions.NotNil(client.Transport)

	config = httpgateway.TransportConfig{Socks5: "127.0.0.1:9050"}
	client, err = config.HTTPClient()
	assertions.Nil(err)
	assertions.NotNil(client.Transport)

	config = httpgateway.TransportConfig{Username: &username, Password: &password, Socks5: "127.0.0.1:9050"}
	_, err = config.HTTPClient()
	assertions.ErrorIs(err, httpgateway.ErrDigestOverSocks)
}
