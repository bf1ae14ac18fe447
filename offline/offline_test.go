package offline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"anarchy.ttfm/donations/network"
	"anarchy.ttfm/donations/offline"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
)

func newQueue(t *testing.T) (*badger.DB, *offline.Queue) {
	options := badger.
		DefaultOptions("").
		WithLogger(nil).
		WithInMemory(true)
	db, err := badger.Open(options)
	assert.Nil(t, err, "failed to open database")

	queue, err := offline.NewQueue(offline.QueueConfig{DB: db})
	assert.Nil(t, err, "failed to open queue")
	t.Cleanup(func() {
		queue.Close()
		db.Close()
	})
	return db, queue
}

func enqueue(t *testing.T, db *badger.DB, queue *offline.Queue, user string, ids ...string) {
	for _, id := range ids {
		err := db.Update(func(txn *badger.Txn) error {
			_, err := queue.Enqueue(txn, user, id, time.Now())
			return err
		})
		assert.Nil(t, err, "failed to enqueue")
	}
}

// scripted replays outcomes per temporary id and removes final ones
type scripted struct {
	mu        sync.Mutex
	db        *badger.DB
	queue     *offline.Queue
	outcomes  map[string][]offline.Outcome
	replayed  []string
	abandoned []string
	// Called during every replay
	during func()
}

func (s *scripted) remove(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.queue.Remove(txn, id)
	})
}

func (s *scripted) Replay(ctx context.Context, entry offline.Entry) (offline.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replayed = append(s.replayed, entry.TemporaryId)
	if s.during != nil {
		s.during()
	}
	outcome := offline.OutcomeSynced
	if script := s.outcomes[entry.TemporaryId]; len(script) > 0 {
		outcome = script[0]
		s.outcomes[entry.TemporaryId] = script[1:]
	}
	switch outcome {
	case offline.OutcomeRetry:
		return outcome, errors.New("gateway timeout")
	case offline.OutcomeFailed:
		return outcome, errors.Join(s.remove(entry.TemporaryId), fmt.Errorf("declined %s", entry.TemporaryId))
	default:
		return outcome, s.remove(entry.TemporaryId)
	}
}

func (s *scripted) Abandon(ctx context.Context, entry offline.Entry, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = append(s.abandoned, entry.TemporaryId)
	return s.remove(entry.TemporaryId)
}

func Test_Queue(t *testing.T) {
	assertions := assert.New(t)
	db, queue := newQueue(t)

	enqueue(t, db, queue, "alice", "tmp_a1", "tmp_a2", "tmp_a3")
	enqueue(t, db, queue, "bob", "tmp_b1")
	enqueue(t, db, queue, "alice", "tmp_a4")

	users, err := queue.Users()
	assertions.Nil(err)
	assertions.Equal([]string{"alice", "bob"}, users)

	entries, err := queue.Entries("alice")
	assertions.Nil(err)
	var ids []string
	for _, entry := range entries {
		ids = append(ids, entry.TemporaryId)
	}
	assertions.Equal([]string{"tmp_a1", "tmp_a2", "tmp_a3", "tmp_a4"}, ids, "creation order")

	err = db.Update(func(txn *badger.Txn) error { return queue.Remove(txn, "tmp_a1") })
	assertions.Nil(err)
	err = db.Update(func(txn *badger.Txn) error { return queue.Remove(txn, "tmp_a1") })
	assertions.ErrorIs(err, offline.ErrNotQueued)

	head, found, err := queue.Head("alice")
	assertions.Nil(err)
	assertions.True(found)
	assertions.Equal("tmp_a2", head.TemporaryId)

	queued, err := queue.Queued("tmp_a2")
	assertions.Nil(err)
	assertions.True(queued)
	queued, err = queue.Queued("tmp_a1")
	assertions.Nil(err)
	assertions.False(queued)

	head.Attempts = 2
	assertions.Nil(queue.Update(head))
	head, _, _ = queue.Head("alice")
	assertions.Equal(2, head.Attempts)

	err = db.Update(func(txn *badger.Txn) error {
		_, err := queue.Enqueue(txn, "eve/admin", "tmp_x", time.Now())
		return err
	})
	assertions.ErrorIs(err, offline.ErrInvalidUser)
}

func Test_Sync(t *testing.T) {
	t.Run("In order", func(t *testing.T) {
		assertions := assert.New(t)
		db, queue := newQueue(t)
		enqueue(t, db, queue, "alice", "tmp_1", "tmp_2", "tmp_3")

		replayer := &scripted{db: db, queue: queue, outcomes: map[string][]offline.Outcome{
			"tmp_2": {offline.OutcomeCancelled},
		}}
		manager := offline.NewSyncManager(offline.SyncConfig{Queue: queue, Replayer: replayer, Network: network.NewSwitch(true)})

		report, err := manager.SyncUser(context.Background(), "alice")
		assertions.Nil(err)
		assertions.Equal([]string{"tmp_1", "tmp_2", "tmp_3"}, replayer.replayed)
		assertions.Equal(2, report.Synced)
		assertions.Equal(1, report.Cancelled)
		assertions.Equal(0, report.Pending)
	})

	t.Run("Transient failure blocks later entries", func(t *testing.T) {
		assertions := assert.New(t)
		db, queue := newQueue(t)
		enqueue(t, db, queue, "alice", "tmp_1", "tmp_2")

		replayer := &scripted{db: db, queue: queue, outcomes: map[string][]offline.Outcome{
			"tmp_1": {offline.OutcomeRetry, offline.OutcomeRetry},
		}}
		manager := offline.NewSyncManager(offline.SyncConfig{Queue: queue, Replayer: replayer, MaxAttempts: 3})
		ctx := context.Background()

		report, err := manager.SyncUser(ctx, "alice")
		assertions.Nil(err)
		assertions.Equal([]string{"tmp_1"}, replayer.replayed)
		assertions.Equal(2, report.Pending)

		head, _, _ := queue.Head("alice")
		assertions.Equal("tmp_1", head.TemporaryId)
		assertions.Equal(1, head.Attempts)
		assertions.Equal("gateway timeout", head.LastError)

		_, err = manager.SyncUser(ctx, "alice")
		assertions.Nil(err)
		report, err = manager.SyncUser(ctx, "alice")
		assertions.Nil(err)
		assertions.Equal([]string{"tmp_1", "tmp_1", "tmp_1", "tmp_2"}, replayer.replayed)
		assertions.Equal(2, report.Synced)
	})

	t.Run("Capped attempts", func(t *testing.T) {
		assertions := assert.New(t)
		db, queue := newQueue(t)
		enqueue(t, db, queue, "alice", "tmp_1", "tmp_2")

		replayer := &scripted{db: db, queue: queue, outcomes: map[string][]offline.Outcome{
			"tmp_1": {offline.OutcomeRetry, offline.OutcomeRetry},
			"tmp_2": {offline.OutcomeFailed},
		}}
		manager := offline.NewSyncManager(offline.SyncConfig{Queue: queue, Replayer: replayer, MaxAttempts: 2})
		ctx := context.Background()

		_, err := manager.SyncUser(ctx, "alice")
		assertions.Nil(err)
		report, err := manager.SyncUser(ctx, "alice")
		assertions.Nil(err)

		assertions.Equal([]string{"tmp_1"}, replayer.abandoned)
		assertions.Equal(2, report.Failed)
		assertions.Len(report.Errors, 2, "surfaced to the caller")
		assertions.Equal(0, report.Pending)
	})

	t.Run("Cancelled replays keep their budget", func(t *testing.T) {
		assertions := assert.New(t)
		db, queue := newQueue(t)
		enqueue(t, db, queue, "alice", "tmp_1")

		ctx, cancel := context.WithCancel(context.Background())
		replayer := &scripted{db: db, queue: queue, during: cancel, outcomes: map[string][]offline.Outcome{
			"tmp_1": {offline.OutcomeRetry},
		}}
		manager := offline.NewSyncManager(offline.SyncConfig{Queue: queue, Replayer: replayer, MaxAttempts: 1})

		report, err := manager.SyncUser(ctx, "alice")
		assertions.ErrorIs(err, context.Canceled)
		assertions.Empty(replayer.abandoned)
		assertions.Equal(1, report.Pending)

		head, found, err := queue.Head("alice")
		assertions.Nil(err)
		assertions.True(found)
		assertions.Equal(0, head.Attempts)
	})

	t.Run("Offline", func(t *testing.T) {
		assertions := assert.New(t)
		db, queue := newQueue(t)
		enqueue(t, db, queue, "alice", "tmp_1")

		replayer := &scripted{db: db, queue: queue}
		manager := offline.NewSyncManager(offline.SyncConfig{Queue: queue, Replayer: replayer, Network: network.NewSwitch(false)})

		_, err := manager.SyncAll(context.Background())
		assertions.ErrorIs(err, offline.ErrOffline)
		assertions.Empty(replayer.replayed)
	})

	t.Run("All users", func(t *testing.T) {
		assertions := assert.New(t)
		db, queue := newQueue(t)
		for user := range 10 {
			enqueue(t, db, queue, fmt.Sprintf("user-%d", user), fmt.Sprintf("tmp_%d_1", user), fmt.Sprintf("tmp_%d_2", user))
		}

		replayer := &scripted{db: db, queue: queue}
		manager := offline.NewSyncManager(offline.SyncConfig{Queue: queue, Replayer: replayer, Workers: 3})

		report, err := manager.SyncAll(context.Background())
		assertions.Nil(err)
		assertions.Len(report.Users, 10)
		for _, user := range report.Users {
			assertions.Equal(2, user.Synced)
		}
		assertions.Empty(report.Errors())

		users, err := queue.Users()
		assertions.Nil(err)
		assertions.Empty(users)
	})

	t.Run("Network comes back", func(t *testing.T) {
		assertions := assert.New(t)
		db, queue := newQueue(t)
		enqueue(t, db, queue, "alice", "tmp_1")

		monitor := network.NewSwitch(false)
		replayer := &scripted{db: db, queue: queue}
		manager := offline.NewSyncManager(offline.SyncConfig{Queue: queue, Replayer: replayer, Network: monitor})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			manager.Run(ctx)
		}()

		monitor.Set(true)
		assertions.Eventually(func() bool {
			users, _ := queue.Users()
			return len(users) == 0
		}, 5*time.Second, 10*time.Millisecond)

		cancel()
		<-done
	})
}
