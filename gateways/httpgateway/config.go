package httpgateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gabstv/httpdigest"
	"golang.org/x/net/proxy"
)

var ErrDigestOverSocks = errors.New("digest authentication over a socks5 proxy is not supported")

// Config holds the configuration of a gateway client.
type Config struct {
	// Base URL of the processor API
	// Example: https://regional.example.org/v1
	Url string
	// Custom headers to send
	CustomHeaders map[string]string
	// HTTP Client to use
	Client *http.Client
}

// TransportConfig describes how to reach the processor
type TransportConfig struct {
	// Digest credentials
	Username *string
	Password *string
	// host:port of a SOCKS5 proxy
	Socks5 string
	// Timeout of a whole request
	Timeout time.Duration
}

// HTTPClient builds the client used to reach a processor.
func (c *TransportConfig) HTTPClient() (client *http.Client, err error) {
	client = &http.Client{Timeout: c.Timeout}

	digest := c.Username != nil && c.Password != nil
	if digest && c.Socks5 != "" {
		return nil, ErrDigestOverSocks
	}

	if digest {
		client.Transport = httpdigest.New(*c.Username, *c.Password)
		return client, nil
	}

	if c.Socks5 != "" {
		dialer, err := proxy.SOCKS5("tcp", c.Socks5, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = nil
		if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = ctxDialer.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		client.Transport = transport
	}
	return client, nil
}
