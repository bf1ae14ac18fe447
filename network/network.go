// Package network reports connectivity to the offline queue.
package network

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Monitor is the connectivity collaborator
type Monitor interface {
	Online() bool
	// Subscribe streams every connectivity change until cancel is called
	Subscribe() (changes <-chan bool, cancel func())
}

// Switch is a manually driven Monitor
type Switch struct {
	mu          sync.Mutex
	online      bool
	subscribers map[chan bool]struct{}
}

var _ Monitor = (*Switch)(nil)

func NewSwitch(online bool) (s *Switch) {
	return &Switch{online: online, subscribers: make(map[chan bool]struct{})}
}

func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set changes the state. Subscribers only hear about actual changes.
func (s *Switch) Set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.online == online {
		return
	}
	s.online = online
	for c := range s.subscribers {
		select {
		case <-c:
		default:
		}
		c <- online
	}
}

func (s *Switch) Subscribe() (changes <-chan bool, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := make(chan bool, 1)
	s.subscribers[c] = struct{}{}

	var once sync.Once
	return c, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, c)
			close(c)
		})
	}
}

const DefaultProbeInterval = 15 * time.Second

type ProbeConfig struct {
	// Endpoint answering any non 5xx status when reachable
	Url      string
	Interval time.Duration
	Client   *http.Client
}

// Probe polls an HTTP endpoint and drives a Switch with the result
type Probe struct {
	*Switch
	url      string
	interval time.Duration
	client   *http.Client
}

func NewProbe(config ProbeConfig) (p *Probe) {
	p = &Probe{
		Switch:   NewSwitch(false),
		url:      config.Url,
		interval: config.Interval,
		client:   config.Client,
	}
	if p.interval <= 0 {
		p.interval = DefaultProbeInterval
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 5 * time.Second}
	}
	return p
}

// Check probes once and updates the state
func (p *Probe) Check(ctx context.Context) (online bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err == nil {
		var res *http.Response
		res, err = p.client.Do(req)
		if err == nil {
			res.Body.Close()
			online = res.StatusCode < 500
		}
	}
	if err != nil && p.Online() {
		log.Printf("[network] probe failed: %v", err)
	}
	p.Set(online)
	return online
}

// Run probes until ctx is done
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
