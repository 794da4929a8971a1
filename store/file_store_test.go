package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ndlib/shelfsync/store"
	"github.com/ndlib/shelfsync/store/storetest"
)

func TestFileSystemBasic(t *testing.T) {
	storetest.Basic(t, store.NewFileSystem(t.TempDir()))
}

func TestFileSystemStress(t *testing.T) {
	storetest.Stress(t, store.NewFileSystem(t.TempDir()), 5, 20)
}

func TestFileSystemKeys(t *testing.T) {
	s := store.NewFileSystem(t.TempDir())
	var table = []struct {
		key string
		err error
	}{
		{"", store.ErrKeyEmpty},
		{"a/b", store.ErrKeyContainsSlash},
		{"a b", store.ErrKeyContainsWhiteSpace},
		{"a\x01b", store.ErrKeyContainsControlChar},
		{"a\xffb", store.ErrKeyContainsNonUnicode},
		{"ledger.json", nil},
	}
	for _, tab := range table {
		w, err := s.Create(tab.key)
		if err != tab.err {
			t.Errorf("Create(%q) returned %v, expected %v", tab.key, err, tab.err)
		}
		if w != nil {
			w.Close()
		}
	}
}

func TestFileSystemFailedWriteKeepsOld(t *testing.T) {
	dir := t.TempDir()
	s := store.NewFileSystem(dir)
	if err := store.WriteAll(s, "state", []byte("old")); err != nil {
		t.Fatal(err)
	}
	w, err := s.Create("state")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("partial"))
	// unlink the scratch file so the final rename fails
	scratch, _ := filepath.Glob(filepath.Join(dir, "scratch", "state.*"))
	if len(scratch) != 1 {
		t.Fatalf("expected one scratch file, found %v", scratch)
	}
	os.Remove(scratch[0])

	if err := w.Close(); err == nil {
		t.Fatal("expected Close to fail")
	}
	data, err := store.ReadAll(s, "state")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "old" {
		t.Errorf("Got %q, expected old value", data)
	}
	leftover, _ := filepath.Glob(filepath.Join(dir, "scratch", "*"))
	if len(leftover) != 0 {
		t.Errorf("scratch files left behind: %v", leftover)
	}
}

func TestReadAllMissing(t *testing.T) {
	_, err := store.ReadAll(store.NewMemory(), "nothing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}
}
