// Package ledger keeps the record of titles confirmed present on disk. It is
// separate from the manifest and is only used for membership tests: a title
// whose identifier, or a file whose checksum, is in the ledger is already
// satisfied and is never downloaded again.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/store"
)

// Key is the store key the ledger is kept under.
const Key = "downloaded.json"

// An Entry records one title present on disk.
type Entry struct {
	ID        string   `json:"id"`
	Title     string   `json:"title,omitempty"`
	Checksums []string `json:"checksums,omitempty"`
}

// A CorruptError means the saved ledger could not be read. Unlike a corrupt
// manifest it is not treated as empty: the ledger cannot be rebuilt from the
// remote store, and an empty one would be saved over it by the next
// completed title.
type CorruptError struct {
	Key string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("ledger %s is corrupt: %v", e.Key, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Ledger is the in-memory copy of the ledger with indexes by identifier and
// by checksum. It is safe for concurrent use.
type Ledger struct {
	js  store.JSONStore
	key string

	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int // identifier to position in entries
	bySum   map[string]int // lower case checksum to position in entries
}

// New returns an empty ledger kept in s under Key.
func New(s store.Store) *Ledger {
	return NewKey(s, Key)
}

// NewKey is like New but uses the given store key.
func NewKey(s store.Store, key string) *Ledger {
	l := &Ledger{js: store.NewJSON(s), key: key}
	l.reset(nil)
	return l
}

func (l *Ledger) reset(entries []Entry) {
	l.entries = nil
	l.byID = make(map[string]int)
	l.bySum = make(map[string]int)
	for _, e := range entries {
		l.add(e)
	}
}

// Load replaces the in-memory ledger with the saved one. A missing ledger is
// empty. A malformed one gives a *CorruptError and leaves the in-memory
// ledger as it was.
func (l *Ledger) Load() error {
	var entries []Entry
	err := l.js.Open(l.key, &entries)
	if err == store.ErrNotFound {
		entries = nil
	} else if err != nil {
		if _, ok := err.(*store.DecodeError); ok {
			return &CorruptError{Key: l.key, Err: err}
		}
		return errors.Wrap(err, "loading ledger")
	}
	l.mu.Lock()
	l.reset(entries)
	l.mu.Unlock()
	return nil
}

// Save writes the ledger, replacing the saved one atomically.
func (l *Ledger) Save() error {
	entries := l.Entries()
	if entries == nil {
		entries = []Entry{}
	}
	return errors.Wrap(l.js.Save(l.key, entries), "saving ledger")
}

// Contains reports whether s is the identifier of a title in the ledger or
// one of the recorded checksums.
func (l *Ledger) Contains(s string) bool {
	return l.ContainsTitle(s) || l.ContainsChecksum(s)
}

// ContainsTitle reports whether the title id is in the ledger.
func (l *Ledger) ContainsTitle(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byID[id]
	return ok
}

// ContainsChecksum reports whether some title in the ledger has a file with
// the checksum sum.
func (l *Ledger) ContainsChecksum(sum string) bool {
	if sum == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.bySum[strings.ToLower(sum)]
	return ok
}

// Add records e. If the title is already present, the checksums are merged
// and a non-empty title replaces the old one.
func (l *Ledger) Add(e Entry) {
	l.mu.Lock()
	l.add(e)
	l.mu.Unlock()
}

func (l *Ledger) add(e Entry) {
	i, ok := l.byID[e.ID]
	if !ok {
		i = len(l.entries)
		l.byID[e.ID] = i
		l.entries = append(l.entries, Entry{ID: e.ID})
	}
	old := &l.entries[i]
	if e.Title != "" {
		old.Title = e.Title
	}
	for _, sum := range e.Checksums {
		sum = strings.ToLower(sum)
		if sum == "" {
			continue
		}
		if j, ok := l.bySum[sum]; ok && j == i {
			continue
		}
		l.bySum[sum] = i
		old.Checksums = append(old.Checksums, sum)
	}
	sort.Strings(old.Checksums)
}

// Entries returns a copy of the ledger in the order titles were added.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var result []Entry
	for _, e := range l.entries {
		e.Checksums = append([]string(nil), e.Checksums...)
		result = append(result, e)
	}
	return result
}

// Len returns the number of titles in the ledger.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
