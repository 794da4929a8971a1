// Package manifest keeps the durable record of the titles and files tracked
// locally, with the checksums expected from the remote store and, once a
// download has been verified, the checksums observed on disk.
//
// The manifest is a single JSON document saved in a store.Store. Saving
// replaces the document atomically. Mutations go through the Manifest so a
// read-modify-write for one title is serialized with any other for the same
// title.
package manifest

import (
	"fmt"
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/catalog"
	"github.com/ndlib/shelfsync/store"
	"github.com/ndlib/shelfsync/util"
)

// Key is the store key the manifest document is kept under.
const Key = "manifest.json"

// formatVersion is written into every saved document.
const formatVersion = 1

// A File is one selected file variant of a title together with its local
// state.
type File struct {
	catalog.FileVariant

	// LocalMD5 is the checksum of the bytes on disk, set once a download
	// has been verified.
	LocalMD5 string `json:"local_md5,omitempty"`
	// Stale means the remote file changed after it was downloaded.
	Stale bool `json:"stale,omitempty"`
	// Verify asks for the file on disk to be checked again.
	Verify bool `json:"verify,omitempty"`
}

// Downloaded reports whether a verified copy of the current remote file is
// on disk.
func (f File) Downloaded() bool {
	return f.LocalMD5 != "" && !f.Stale
}

// An Entry is the record of one title.
type Entry struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Folder        string `json:"folder"`
	Hidden        bool   `json:"hidden,omitempty"`
	CoverURL      string `json:"cover_url,omitempty"`
	BackgroundURL string `json:"background_url,omitempty"`
	Changelog     string `json:"changelog,omitempty"`
	Files         []File `json:"files"`
}

// Complete reports whether every file of the entry has been downloaded and
// needs no further checking.
func (e Entry) Complete() bool {
	for _, f := range e.Files {
		if !f.Downloaded() || f.Verify {
			return false
		}
	}
	return true
}

// FindFile returns the index of the file in the given slot, or -1.
func (e Entry) FindFile(slot catalog.Slot) int {
	for i := range e.Files {
		if e.Files[i].Slot() == slot {
			return i
		}
	}
	return -1
}

// Checksums returns the local checksums of the downloaded files.
func (e Entry) Checksums() []string {
	var result []string
	for _, f := range e.Files {
		if f.LocalMD5 != "" {
			result = append(result, f.LocalMD5)
		}
	}
	return result
}

func (e Entry) clone() Entry {
	if e.Files != nil {
		e.Files = append([]File{}, e.Files...)
	}
	return e
}

// the persisted form
type document struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// A CorruptError is returned by Load when the persisted manifest cannot be
// read. The manifest is left empty.
type CorruptError struct {
	Key string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("manifest %s is corrupt: %v", e.Key, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// ErrUnknownTitle is returned by Update for an identifier with no entry.
var ErrUnknownTitle = errors.New("title not in manifest")

// Manifest is the in-memory copy of the manifest document. It is safe for
// concurrent use.
type Manifest struct {
	js  store.JSONStore
	key string

	locks  util.KeyedMutex // serializes Update per identifier
	saveMu sync.Mutex      // serializes Save

	mu      sync.RWMutex
	entries []Entry
	index   map[string]int // identifier to position in entries
}

// New returns an empty manifest kept in s under Key. Call Load to read the
// saved one.
func New(s store.Store) *Manifest {
	return NewKey(s, Key)
}

// NewKey is like New but uses the given store key.
func NewKey(s store.Store, key string) *Manifest {
	return &Manifest{
		js:    store.NewJSON(s),
		key:   key,
		index: make(map[string]int),
	}
}

// Load replaces the in-memory manifest with the saved one and returns its
// entries. A missing document is an empty manifest. A malformed one also
// leaves the manifest empty and returns a *CorruptError, so callers may warn
// and go on.
func (m *Manifest) Load() ([]Entry, error) {
	var doc document
	err := m.js.Open(m.key, &doc)
	switch {
	case err == store.ErrNotFound:
		doc = document{}
		err = nil
	case err != nil:
		// a read failure is not corruption
		if _, ok := err.(*store.DecodeError); !ok {
			return nil, errors.Wrap(err, "loading manifest")
		}
		doc = document{}
		err = &CorruptError{Key: m.key, Err: err}
	case doc.Version > formatVersion:
		err = &CorruptError{Key: m.key, Err: errors.Errorf("unknown format version %d", doc.Version)}
		doc = document{}
	}
	m.mu.Lock()
	m.entries = nil
	m.index = make(map[string]int)
	for _, e := range doc.Entries {
		if _, ok := m.index[e.ID]; ok {
			log.Printf("manifest: duplicate entry for %s, keeping the first", e.ID)
			continue
		}
		m.index[e.ID] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	m.mu.Unlock()
	return m.Entries(), err
}

// Save writes the manifest. The saved document is replaced all at once or
// not at all.
func (m *Manifest) Save() error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	m.mu.RLock()
	doc := document{
		Version: formatVersion,
		Entries: make([]Entry, len(m.entries)),
	}
	copy(doc.Entries, m.entries)
	m.mu.RUnlock()
	return errors.Wrap(m.js.Save(m.key, doc), "saving manifest")
}

// Entries returns a copy of every entry, in manifest order.
func (m *Manifest) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		result[i] = e.clone()
	}
	return result
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Find returns a copy of the entry for id.
func (m *Manifest) Find(id string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return Entry{}, false
	}
	return m.entries[i].clone(), true
}

// Upsert adds e, or replaces the entry with the same identifier keeping its
// position.
func (m *Manifest) Upsert(e Entry) {
	e = e.clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[e.ID]; ok {
		m.entries[i] = e
		return
	}
	m.index[e.ID] = len(m.entries)
	m.entries = append(m.entries, e)
}

// Remove deletes the entry for id. It returns false if there was none.
func (m *Manifest) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return false
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	delete(m.index, id)
	for j := i; j < len(m.entries); j++ {
		m.index[m.entries[j].ID] = j
	}
	return true
}

// Update calls fn with a copy of the entry for id and stores the result if
// fn returns nil. Calls for the same id are serialized, so concurrent updates
// to one title are never lost. It returns ErrUnknownTitle if there is no
// entry.
func (m *Manifest) Update(id string, fn func(*Entry) error) error {
	unlock := m.locks.Lock(id)
	defer unlock()
	e, ok := m.Find(id)
	if !ok {
		return ErrUnknownTitle
	}
	if err := fn(&e); err != nil {
		return err
	}
	e.ID = id
	m.Upsert(e)
	return nil
}
