package offline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"anarchy.ttfm/donations/network"
	"anarchy.ttfm/donations/utils"
)

var (
	ErrOffline        = errors.New("network is offline")
	ErrSyncInProgress = errors.New("sync already running for user")
)

const DefaultMaxAttempts = 5

type Outcome string

const (
	// Promoted to a server id
	OutcomeSynced Outcome = "synced"
	// Permanent failure, removed from the queue
	OutcomeFailed Outcome = "failed"
	// Cancelled before replay, removed from the queue
	OutcomeCancelled Outcome = "cancelled"
	// Transient failure, stays at the head of the queue
	OutcomeRetry Outcome = "retry"
)

// Replayer runs queued donations through the donation pipeline. Final
// outcomes remove the entry from the queue in the same transaction that
// stores the result.
type Replayer interface {
	Replay(ctx context.Context, entry Entry) (outcome Outcome, err error)
	// Abandon fails a donation whose replay budget is spent
	Abandon(ctx context.Context, entry Entry, cause error) (err error)
}

type UserReport struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	// Still queued after this run
	Pending int `json:"pending"`
	// Permanent failures and unresolvable conflicts
	Errors []error `json:"-"`
}

type Report struct {
	Users map[string]*UserReport `json:"users"`
}

// Errors collects the failures to surface, ordered by user
func (r *Report) Errors() (errs []error) {
	users := make([]string, 0, len(r.Users))
	for user := range r.Users {
		users = append(users, user)
	}
	sort.Strings(users)
	for _, user := range users {
		errs = append(errs, r.Users[user].Errors...)
	}
	return errs
}

type SyncConfig struct {
	Queue    *Queue
	Replayer Replayer
	Network  network.Monitor
	// Transient replay failures tolerated before a donation is failed
	MaxAttempts int
	// Users synced in parallel
	Workers int
}

type SyncManager struct {
	queue       *Queue
	replayer    Replayer
	network     network.Monitor
	maxAttempts int
	jobs        *utils.JobPool
	users       *utils.KeyedMutex
}

func NewSyncManager(config SyncConfig) (m *SyncManager) {
	return &SyncManager{
		queue:       config.Queue,
		replayer:    config.Replayer,
		network:     config.Network,
		maxAttempts: utils.Default(config.MaxAttempts, DefaultMaxAttempts),
		jobs:        utils.NewJobPool(utils.Default(config.Workers, 4)),
		users:       utils.NewKeyedMutex(),
	}
}

func (m *SyncManager) online() bool {
	return m.network == nil || m.network.Online()
}

// SyncUser replays the queue of userId in order. It stops at the first
// transient failure so later donations never overtake an earlier one.
func (m *SyncManager) SyncUser(ctx context.Context, userId string) (report UserReport, err error) {
	unlock, ok := m.users.TryLock(userId)
	if !ok {
		return report, ErrSyncInProgress
	}
	defer unlock()

	defer func() {
		entries, qerr := m.queue.Entries(userId)
		if qerr == nil {
			report.Pending = len(entries)
		}
	}()

	for {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !m.online() {
			return report, ErrOffline
		}

		entry, found, err := m.queue.Head(userId)
		if err != nil {
			return report, fmt.Errorf("failed to retrieve queue head: %w", err)
		}
		if !found {
			return report, nil
		}

		outcome, cause := m.replayer.Replay(ctx, entry)
		switch outcome {
		case OutcomeSynced:
			report.Synced++
		case OutcomeCancelled:
			report.Cancelled++
		case OutcomeFailed:
			report.Failed++
			if cause != nil {
				report.Errors = append(report.Errors, cause)
			}
		case OutcomeRetry:
			if ctx.Err() != nil {
				// Cut short by the caller, not a failed replay
				return report, ctx.Err()
			}
			entry.Attempts++
			if cause != nil {
				entry.LastError = cause.Error()
			}
			if entry.Attempts < m.maxAttempts {
				err = m.queue.Update(entry)
				if err != nil {
					return report, fmt.Errorf("failed to defer %s: %w", entry.TemporaryId, err)
				}
				log.Printf("INFO|SYNC|%s: deferred %s after attempt %d: %v", userId, entry.TemporaryId, entry.Attempts, cause)
				return report, nil
			}

			err = m.replayer.Abandon(ctx, entry, cause)
			if err != nil {
				return report, fmt.Errorf("failed to abandon %s: %w", entry.TemporaryId, err)
			}
			report.Failed++
			if cause != nil {
				report.Errors = append(report.Errors, cause)
			}
		default:
			// Unknown outcomes would spin on the same head forever
			return report, fmt.Errorf("replay of %s returned %q: %w", entry.TemporaryId, outcome, cause)
		}
	}
}

// SyncAll replays every user's queue. Users run in parallel, bounded by the
// worker pool.
func (m *SyncManager) SyncAll(ctx context.Context) (report Report, err error) {
	report.Users = map[string]*UserReport{}
	if !m.online() {
		return report, ErrOffline
	}

	users, err := m.queue.Users()
	if err != nil {
		return report, err
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, user := range users {
		m.jobs.Get()
		wg.Add(1)
		go func() {
			defer m.jobs.Put()
			defer wg.Done()

			userReport, err := m.SyncUser(ctx, user)
			switch {
			case errors.Is(err, ErrSyncInProgress):
				return
			case err != nil:
				log.Printf("ERROR|SYNC|%s: %v", user, err)
			}

			mu.Lock()
			defer mu.Unlock()
			report.Users[user] = &userReport
		}()
	}
	wg.Wait()
	return report, nil
}

// Run syncs every time the network comes back until ctx is done
func (m *SyncManager) Run(ctx context.Context) {
	if m.network == nil {
		return
	}
	changes, cancel := m.network.Subscribe()
	defer cancel()

	replay := func() {
		report, err := m.SyncAll(ctx)
		if err != nil {
			log.Println("ERROR|SYNC|USERS:", err)
			return
		}
		for _, err := range report.Errors() {
			log.Println("ERROR|SYNC|USERS:", err)
		}
	}

	if m.network.Online() {
		replay()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case online, open := <-changes:
			if !open {
				return
			}
			if online {
				log.Println("INFO|SYNC|USERS: network is back, replaying queues")
				replay()
			}
		}
	}
}
