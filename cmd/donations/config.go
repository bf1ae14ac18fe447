package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"anarchy.ttfm/donations/associations"
	"anarchy.ttfm/donations/audit"
	"anarchy.ttfm/donations/clock"
	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/events"
	"anarchy.ttfm/donations/fieldcrypt"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/gateways/httpgateway"
	"anarchy.ttfm/donations/gateways/mock"
	"anarchy.ttfm/donations/lifecycle"
	"anarchy.ttfm/donations/methods"
	"anarchy.ttfm/donations/money"
	"anarchy.ttfm/donations/network"
	"anarchy.ttfm/donations/offline"
	"anarchy.ttfm/donations/retry"
	"anarchy.ttfm/donations/routing"
	"anarchy.ttfm/donations/shabbat"
	"anarchy.ttfm/donations/validation"
	"github.com/dgraph-io/badger/v4"
)

// Yaml configuration reference
type (
	Provider struct {
		Url      string            `yaml:"url"`
		Username *string           `yaml:"username,omitempty"`
		Password *string           `yaml:"password,omitempty"`
		Socks5   string            `yaml:"socks5,omitempty"`
		Timeout  time.Duration     `yaml:"timeout"`
		Headers  map[string]string `yaml:"headers,omitempty"`
	}
	Window struct {
		// Empty disables Shabbat scheduling
		Timezone string `yaml:"timezone"`
		Start    string `yaml:"start"`
		End      string `yaml:"end"`
	}
	Network struct {
		// Empty means always online
		ProbeUrl string        `yaml:"probe-url"`
		Interval time.Duration `yaml:"interval"`
	}
	Config struct {
		ListenAddress      string            `yaml:"listen-address"`
		DatabasePath       string            `yaml:"database-path"`
		JournalDSN         string            `yaml:"journal-dsn"`
		ProcessInterval    time.Duration     `yaml:"process-interval"`
		HomeCurrency       string            `yaml:"home-currency"`
		HomeCountry        string            `yaml:"home-country"`
		RegionalCurrencies []string          `yaml:"regional-currencies"`
		Providers          map[string]string `yaml:"providers"`
		Minimums           map[string]string `yaml:"minimums"`
		Regional           Provider          `yaml:"regional"`
		International      Provider          `yaml:"international"`
		Retry              retry.Policy      `yaml:"retry"`
		Shabbat            Window            `yaml:"shabbat"`
		ReferenceTimezone  string            `yaml:"reference-timezone"`
		// Hex encoded HMAC key of the donation fingerprints
		FingerprintKey string `yaml:"fingerprint-key"`
		// Hex encoded 32 byte key of the field encryption
		EncryptionKey     string                     `yaml:"encryption-key"`
		Network           Network                    `yaml:"network"`
		MaxReplayAttempts int                        `yaml:"max-replay-attempts"`
		Workers           int                        `yaml:"workers"`
		Associations      []associations.Association `yaml:"associations"`
	}
)

// Service is everything Compile wires together
type Service struct {
	DB         *badger.DB
	Journal    *audit.Journal
	Queue      *offline.Queue
	Controller *lifecycle.Controller
	Sync       *offline.SyncManager
	Methods    *methods.Store
	// Nil when no probe URL is configured
	Probe *network.Probe
}

func (s *Service) Close() {
	s.Controller.Drain()
	s.Queue.Close()
	s.Journal.Close()
	s.DB.Close()
}

func (p *Provider) Gateway() (g gateways.Gateway, err error) {
	transport := httpgateway.TransportConfig{
		Username: p.Username,
		Password: p.Password,
		Socks5:   p.Socks5,
		Timeout:  p.Timeout,
	}
	client, err := transport.HTTPClient()
	if err != nil {
		return nil, err
	}
	return httpgateway.New(httpgateway.Config{
		Url:           p.Url,
		CustomHeaders: p.Headers,
		Client:        client,
	}), nil
}

func (c *Config) policy() (policy gateways.Policy, err error) {
	policy = gateways.Policy{
		HomeCurrency: currency.Normalize(c.HomeCurrency),
		HomeCountry:  c.HomeCountry,
		Providers:    make(map[string]gateways.Route, len(c.Providers)),
	}
	for _, code := range c.RegionalCurrencies {
		policy.RegionalCurrencies = append(policy.RegionalCurrencies, currency.Normalize(code))
	}
	for name, tag := range c.Providers {
		policy.Providers[name], err = gateways.ParseRoute(tag)
		if err != nil {
			return policy, fmt.Errorf("failed to parse provider %s: %w", name, err)
		}
	}
	return policy, nil
}

func (c *Config) currencies() (table currency.Table, err error) {
	minimums := make(map[currency.Code]money.Amount, len(c.Minimums))
	for code, raw := range c.Minimums {
		minimums[currency.Normalize(code)], err = money.FromString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse minimum of %s: %w", code, err)
		}
	}
	return currency.Default().WithMinimums(minimums), nil
}

func (w *Window) Compile() (window shabbat.Window, err error) {
	if w.Timezone == "" {
		return window, nil
	}
	window.Location, err = time.LoadLocation(w.Timezone)
	if err != nil {
		return window, fmt.Errorf("failed to load shabbat timezone: %w", err)
	}
	window.Start, err = shabbat.ParseWeekTime(w.Start)
	if err != nil {
		return window, err
	}
	window.End, err = shabbat.ParseWeekTime(w.End)
	if err != nil {
		return window, err
	}
	return window, nil
}

// Compile opens the stores and builds the engine. With mockGateways the
// configured providers are replaced by in-process mocks.
func (c *Config) Compile(mockGateways bool) (svc Service, err error) {
	policy, err := c.policy()
	if err != nil {
		return svc, err
	}
	table, err := c.currencies()
	if err != nil {
		return svc, err
	}
	window, err := c.Shabbat.Compile()
	if err != nil {
		return svc, err
	}

	location := time.UTC
	if c.ReferenceTimezone != "" {
		location, err = time.LoadLocation(c.ReferenceTimezone)
		if err != nil {
			return svc, fmt.Errorf("failed to load reference timezone: %w", err)
		}
	}

	fingerprintKey, err := hex.DecodeString(c.FingerprintKey)
	if err != nil {
		return svc, fmt.Errorf("failed to decode fingerprint key: %w", err)
	}

	var set gateways.Set
	if mockGateways {
		set.Regional = mock.New(mock.Config{Name: "regional"})
		set.International = mock.New(mock.Config{Name: "international"})
	} else {
		set.Regional, err = c.Regional.Gateway()
		if err != nil {
			return svc, fmt.Errorf("failed to prepare regional gateway: %w", err)
		}
		set.International, err = c.International.Gateway()
		if err != nil {
			return svc, fmt.Errorf("failed to prepare international gateway: %w", err)
		}
	}

	var (
		cipher  *fieldcrypt.Cipher
		monitor network.Monitor = network.NewSwitch(true)
	)
	if c.EncryptionKey != "" {
		cipher, err = fieldcrypt.New(fieldcrypt.Config{Key: c.EncryptionKey})
		if err != nil {
			return svc, fmt.Errorf("failed to prepare field encryption: %w", err)
		}
	}
	if c.Network.ProbeUrl != "" {
		svc.Probe = network.NewProbe(network.ProbeConfig{
			Url:      c.Network.ProbeUrl,
			Interval: c.Network.Interval,
			Client:   &http.Client{Timeout: 5 * time.Second},
		})
		monitor = svc.Probe
	}

	svc.DB, err = badger.Open(badger.DefaultOptions(c.DatabasePath))
	if err != nil {
		return svc, fmt.Errorf("failed to open database: %w", err)
	}
	svc.Journal, err = audit.OpenJournal(c.JournalDSN)
	if err != nil {
		svc.DB.Close()
		return svc, fmt.Errorf("failed to open journal: %w", err)
	}
	svc.Queue, err = offline.NewQueue(offline.QueueConfig{DB: svc.DB})
	if err != nil {
		svc.Journal.Close()
		svc.DB.Close()
		return svc, fmt.Errorf("failed to open queue: %w", err)
	}

	var methodsCipher methods.Encrypter
	var ctrlCipher lifecycle.EncryptionService
	if cipher != nil {
		methodsCipher, ctrlCipher = cipher, cipher
	}
	svc.Methods = methods.New(methods.Config{DB: svc.DB, Cipher: methodsCipher})

	clk := clock.System{}
	svc.Controller = lifecycle.New(lifecycle.Config{
		DB:    svc.DB,
		Queue: svc.Queue,
		Validator: validation.New(validation.Config{
			Currencies: table,
			Policy:     policy,
			Location:   location,
		}),
		Router: routing.New(routing.Config{Gateways: set}),
		Retry:  retry.New(retry.Config{Policy: c.Retry, Sleeper: clk}),
		Recorder: audit.New(audit.Config{
			Machine: donation.NewMachine(donation.Config{Key: fingerprintKey}),
			Clock:   clk,
			Sink:    svc.Journal,
		}),
		Bus:          events.New(events.Config{}),
		Methods:      svc.Methods,
		Associations: associations.New(associations.Config{Associations: c.Associations}),
		Cipher:       ctrlCipher,
		Network:      monitor,
		Clock:        clk,
		Window:       window,
		Workers:      c.Workers,
	})
	svc.Sync = offline.NewSyncManager(offline.SyncConfig{
		Queue:       svc.Queue,
		Replayer:    svc.Controller,
		Network:     monitor,
		MaxAttempts: c.MaxReplayAttempts,
		Workers:     c.Workers,
	})
	return svc, nil
}
