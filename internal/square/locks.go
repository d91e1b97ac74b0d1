package square

import (
	"context"
	"sync"
)

// keyedMutex hands out one lock per square and forgets it once nobody holds or waits on it.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[ID]*lockEntry
}

type lockEntry struct {
	token chan struct{}
	refs  int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[ID]*lockEntry)}
}

// Lock blocks until the square's lock is held or ctx ends, and returns the matching unlock func.
func (k *keyedMutex) Lock(ctx context.Context, squareID ID) (func(), error) {
	k.mu.Lock()
	entry, ok := k.entries[squareID]
	if !ok {
		entry = &lockEntry{token: make(chan struct{}, 1)}
		k.entries[squareID] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.token <- struct{}{}:
	case <-ctx.Done():
		k.release(squareID, entry)
		return nil, ctx.Err()
	}
	return func() {
		<-entry.token
		k.release(squareID, entry)
	}, nil
}

func (k *keyedMutex) release(squareID ID, entry *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, squareID)
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
