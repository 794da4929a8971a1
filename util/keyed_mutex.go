package util

import (
	"sync"
)

// A KeyedMutex provides a separate lock for every key. Locks for different
// keys do not block each other. Records are only kept while a key is locked
// or waited on.
type KeyedMutex struct {
	mu    sync.Mutex           // controls everything below
	locks map[string]*keylock // locks in use
}

type keylock struct {
	mu      sync.Mutex
	waiting int // number of holders and waiters, protected by KeyedMutex.mu
}

// Lock blocks until the lock for key is held by the caller. It returns the
// function to release it.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keylock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keylock{}
		k.locks[key] = l
	}
	l.waiting++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.waiting--
		if l.waiting == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
