// Package offline keeps donations created without connectivity and replays
// them, per user and in creation order, once the network is back.
package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	ErrNotQueued   = errors.New("donation is not queued")
	ErrInvalidUser = errors.New("invalid user id")
)

var (
	queuePrefix = []byte("/queue/")
	sequenceKey = []byte("/sequences/queue")
)

// QueueKey orders entries by a global sequence, which follows creation order
func QueueKey(userId string, seq uint64) (key []byte) {
	return []byte(fmt.Sprintf("/queue/%s/%020d", userId, seq))
}

// QueuedKey indexes the queue key of a temporary id
func QueuedKey(temporaryId string) (key []byte) {
	return []byte(fmt.Sprintf("/queued/%s", temporaryId))
}

func userPrefix(userId string) (prefix []byte) {
	return []byte(fmt.Sprintf("/queue/%s/", userId))
}

type Entry struct {
	TemporaryId string    `json:"temporaryId"`
	UserId      string    `json:"userId"`
	Seq         uint64    `json:"seq"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	// Replays that ended in a transient failure
	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError,omitzero"`
}

func (e *Entry) Key() (key []byte) {
	return QueueKey(e.UserId, e.Seq)
}

func (e *Entry) Bytes() (bytes []byte) {
	bytes, _ = json.Marshal(e)
	return bytes
}

func (e *Entry) FromBytes(b []byte) (err error) {
	return json.Unmarshal(b, e)
}

func ValidUser(userId string) (err error) {
	if userId == "" || strings.Contains(userId, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidUser, userId)
	}
	return nil
}

type QueueConfig struct {
	DB *badger.DB
}

// Queue is a per user FIFO stored in badger
type Queue struct {
	db       *badger.DB
	sequence *badger.Sequence
}

func NewQueue(config QueueConfig) (q *Queue, err error) {
	sequence, err := config.DB.GetSequence(sequenceKey, 100)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare queue sequence: %w", err)
	}
	return &Queue{db: config.DB, sequence: sequence}, nil
}

// Close returns the leased sequence numbers
func (q *Queue) Close() (err error) {
	return q.sequence.Release()
}

// Enqueue appends temporaryId to the user's queue inside txn, so the entry
// commits together with the donation record
func (q *Queue) Enqueue(txn *badger.Txn, userId, temporaryId string, now time.Time) (entry Entry, err error) {
	err = ValidUser(userId)
	if err != nil {
		return entry, err
	}

	seq, err := q.sequence.Next()
	if err != nil {
		return entry, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	entry = Entry{TemporaryId: temporaryId, UserId: userId, Seq: seq, EnqueuedAt: now}
	err = txn.Set(entry.Key(), entry.Bytes())
	if err != nil {
		return entry, fmt.Errorf("failed to set queue entry: %w", err)
	}
	err = txn.Set(QueuedKey(temporaryId), entry.Key())
	if err != nil {
		return entry, fmt.Errorf("failed to set queue index: %w", err)
	}
	return entry, nil
}

// Remove drops the entry of temporaryId inside txn
func (q *Queue) Remove(txn *badger.Txn, temporaryId string) (err error) {
	item, err := txn.Get(QueuedKey(temporaryId))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotQueued
		}
		return fmt.Errorf("failed to query queue index: %w", err)
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return fmt.Errorf("failed to retrieve queue key: %w", err)
	}

	err = txn.Delete(key)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	err = txn.Delete(QueuedKey(temporaryId))
	if err != nil {
		return fmt.Errorf("failed to delete queue index: %w", err)
	}
	return nil
}

// Queued reports whether temporaryId still waits for replay
func (q *Queue) Queued(temporaryId string) (queued bool, err error) {
	err = q.db.View(func(txn *badger.Txn) (err error) {
		_, err = txn.Get(QueuedKey(temporaryId))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		queued = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to query queue index: %w", err)
	}
	return queued, nil
}

// Head returns the oldest entry of userId
func (q *Queue) Head(userId string) (entry Entry, found bool, err error) {
	prefix := userPrefix(userId)
	err = q.db.View(func(txn *badger.Txn) (err error) {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		options.PrefetchSize = 1
		it := txn.NewIterator(options)
		defer it.Close()

		it.Rewind()
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		found = true
		return it.Item().Value(func(val []byte) (err error) {
			return entry.FromBytes(val)
		})
	})
	if err != nil {
		return entry, false, fmt.Errorf("failed to query queue head: %w", err)
	}
	return entry, found, nil
}

// Update rewrites the bookkeeping of a still queued entry
func (q *Queue) Update(entry Entry) (err error) {
	err = q.db.Update(func(txn *badger.Txn) (err error) {
		_, err = txn.Get(entry.Key())
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotQueued
		}
		if err != nil {
			return err
		}
		return txn.Set(entry.Key(), entry.Bytes())
	})
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}
	return nil
}

// Entries lists the queue of userId in replay order
func (q *Queue) Entries(userId string) (entries []Entry, err error) {
	prefix := userPrefix(userId)
	err = q.db.View(func(txn *badger.Txn) (err error) {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			err = it.Item().Value(func(val []byte) (err error) {
				return entry.FromBytes(val)
			})
			if err != nil {
				log.Println("[queue] failed to decode entry:", err)
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return entries, nil
}

// Users lists every user with queued donations
func (q *Queue) Users() (users []string, err error) {
	err = q.db.View(func(txn *badger.Txn) (err error) {
		options := badger.DefaultIteratorOptions
		options.Prefix = queuePrefix
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		var last string
		for it.Rewind(); it.ValidForPrefix(queuePrefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(queuePrefix))
			user, _, _ := strings.Cut(rest, "/")
			if user != last {
				users = append(users, user)
				last = user
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list queued users: %w", err)
	}
	return users, nil
}
