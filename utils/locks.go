package utils

import "sync"

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex serializes work per key. Entries are reference counted and
// released once nobody holds or waits for them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyedMutex() (k *KeyedMutex) {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock function
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, found := k.entries[key]
	if !found {
		entry = &keyedEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			k.mu.Lock()
			defer k.mu.Unlock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.entries, key)
			}
		})
	}
}

// TryLock acquires key only if it is free
func (k *KeyedMutex) TryLock(key string) (unlock func(), ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, found := k.entries[key]
	if found {
		return nil, false
	}
	entry = &keyedEntry{refs: 1}
	entry.mu.Lock()
	k.entries[key] = entry

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			k.mu.Lock()
			defer k.mu.Unlock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.entries, key)
			}
		})
	}, true
}
