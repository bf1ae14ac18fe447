// Package events fans out donation status changes to subscribers.
package events

import (
	"sync"
	"time"

	"anarchy.ttfm/donations/donation"
)

const DefaultBuffer = 16

// Update is one observed status
type Update struct {
	Id            string          `json:"id"`
	Status        donation.Status `json:"status"`
	TransactionId string          `json:"transactionId,omitzero"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	// Localization key of the last failure
	Error string `json:"error,omitzero"`
}

func UpdateOf(d *donation.Donation) (u Update) {
	u = Update{
		Id:            d.Id,
		Status:        d.Status,
		TransactionId: d.TransactionId,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.ErrorCode != "" {
		u.Error = donation.MessageGateway + "." + d.ErrorCode
	}
	return u
}

type Subscription struct {
	bus  *Bus
	c    chan Update
	once sync.Once
	key  string
}

// Updates delivers status changes until the subscription is cancelled.
// Slow subscribers lose intermediate updates, never the latest one.
func (s *Subscription) Updates() <-chan Update { return s.c }

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.c)
	})
}

// Bus is an in-process publisher keyed by donation id
type Bus struct {
	mu          sync.Mutex
	buffer      int
	subscribers map[string]map[*Subscription]struct{}
}

type Config struct {
	// Per subscriber buffered updates
	Buffer int
}

func New(config Config) (b *Bus) {
	b = &Bus{
		buffer:      config.Buffer,
		subscribers: make(map[string]map[*Subscription]struct{}),
	}
	if b.buffer <= 0 {
		b.buffer = DefaultBuffer
	}
	return b
}

func (b *Bus) Subscribe(id string) (s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s = &Subscription{bus: b, c: make(chan Update, b.buffer), key: id}
	set, found := b.subscribers[id]
	if !found {
		set = make(map[*Subscription]struct{})
		b.subscribers[id] = set
	}
	set[s] = struct{}{}
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subscribers[s.key]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subscribers, s.key)
	}
}

// Publish never blocks
func (b *Bus) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subscribers[u.Id] {
		for {
			select {
			case s.c <- u:
			default:
				// Full, drop the oldest pending update
				select {
				case <-s.c:
				default:
				}
				continue
			}
			break
		}
	}
}

// Rekey moves the subscribers of oldId to newId, used when a temporary id
// is promoted
func (b *Bus) Rekey(oldId, newId string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, found := b.subscribers[oldId]
	if !found {
		return
	}
	delete(b.subscribers, oldId)

	target, found := b.subscribers[newId]
	if !found {
		target = make(map[*Subscription]struct{})
		b.subscribers[newId] = target
	}
	for s := range set {
		s.key = newId
		target[s] = struct{}{}
	}
}

// Subscribers counts the live subscriptions of id
func (b *Bus) Subscribers(id string) (n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[id])
}
