// Package storetest provides functions for facilitating the testing of
// anything implementing the Store interface.
package storetest

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/ndlib/shelfsync/store"
)

// Basic checks the replace-on-close semantics every store must provide:
// missing keys report store.ErrNotFound, a value is invisible until its
// writer closes, a second write replaces the first, and Delete is idempotent.
func Basic(t *testing.T, s store.Store) {
	const key = "manifest.json"

	_, _, err := s.Open(key)
	if err != store.ErrNotFound {
		t.Fatalf("Open on missing key returned %v, expected ErrNotFound", err)
	}

	w, err := s.Create(key)
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(w, "first")
	if _, _, err := s.Open(key); err != store.ErrNotFound {
		t.Errorf("value visible before Close, got err %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	expect(t, s, key, "first")

	if err := store.WriteAll(s, key, []byte("second value")); err != nil {
		t.Fatal(err)
	}
	expect(t, s, key, "second value")

	if err := s.Delete(key); err != nil {
		t.Error(err)
	}
	if err := s.Delete(key); err != nil {
		t.Error("second delete:", err)
	}
	if _, _, err := s.Open(key); err != store.ErrNotFound {
		t.Errorf("Open after delete returned %v", err)
	}
}

func expect(t *testing.T, s store.Store, key, goal string) {
	t.Helper()
	data, err := store.ReadAll(s, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != goal {
		t.Errorf("Read %q, expected %q", data, goal)
	}
}

// Stress will spawn a given number of goroutines which each repeatedly
// replace the same small set of keys and read them back. Any value read must
// be one that some writer wrote in full. It is a good test to run with the
// -race flag.
func Stress(t *testing.T, s store.Store, workers, rounds int) {
	keys := []string{"token.json", "ledger.json", "manifest.json"}
	// every value written is recorded here by its checksum
	var mu sync.Mutex
	written := make(map[[md5.Size]byte]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for j := 0; j < rounds; j++ {
				key := keys[rng.Intn(len(keys))]
				data := make([]byte, 1+rng.Intn(64*1024))
				rng.Read(data)
				mu.Lock()
				written[md5.Sum(data)] = true
				mu.Unlock()
				if err := store.WriteAll(s, key, data); err != nil {
					t.Error(err)
					return
				}
				rac, _, err := s.Open(key)
				if err != nil {
					t.Error(err)
					return
				}
				var buf bytes.Buffer
				_, err = io.Copy(&buf, store.NewReader(rac))
				rac.Close()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				ok := written[md5.Sum(buf.Bytes())]
				mu.Unlock()
				if !ok {
					t.Errorf("read torn value for %s, %d bytes", key, buf.Len())
				}
			}
		}(int64(i))
	}
	wg.Wait()
}
