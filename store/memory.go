package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var (
	// ensure Memory satisfies the Store interface
	_ Store = &Memory{}

	errWriterClosed = errors.New("writer already closed")
)

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// Open returns a ReadAtCloser and the size of the given blob. The reader sees
// the value as it was when Open was called.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}
	return nopCloser{bytes.NewReader(v)}, int64(len(v)), nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// Create returns a writer which replaces the entry for key when it is closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	return &memWriter{ms: ms, key: key}, nil
}

type memWriter struct {
	ms     *Memory
	key    string
	b      bytes.Buffer
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errWriterClosed
	}
	return w.b.Write(p)
}

func (w *memWriter) Close() error {
	if w.closed {
		return errWriterClosed
	}
	w.closed = true
	w.ms.m.Lock()
	w.ms.store[w.key] = w.b.Bytes()
	w.ms.m.Unlock()
	return nil
}

// Delete the given key from the store. It is not an error if the item does
// not exist in the store.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}

// Dump writes a listing of the contents of the store to the given writer.
// This is intended for testing and debugging.
func (ms *Memory) Dump(w io.Writer) {
	ms.m.RLock()
	defer ms.m.RUnlock()
	var keys []string
	for k := range ms.store {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := ms.store[k]
		if len(s) > 300 {
			s = s[:50]
		}
		fmt.Fprintf(w, "%s: %s\n", k, string(s))
	}
}
