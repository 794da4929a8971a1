package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileMD5(t *testing.T) {
	dir := t.TempDir()
	var table = []struct {
		content string
		goal    string
	}{
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"abc", "900150983cd24fb0d6963f7d28e17f72"},
	}
	for i, tab := range table {
		name := filepath.Join(dir, string(rune('a'+i)))
		if err := os.WriteFile(name, []byte(tab.content), 0644); err != nil {
			t.Fatal(err)
		}
		sum, size, err := FileMD5(name)
		if err != nil {
			t.Fatal(err)
		}
		if sum != tab.goal || size != int64(len(tab.content)) {
			t.Errorf("FileMD5(%q) = (%s, %d), expected (%s, %d)",
				tab.content, sum, size, tab.goal, len(tab.content))
		}
	}
	if _, _, err := FileMD5(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Errorf("Got %v, expected not exist error", err)
	}
}

func TestKeyedMutex(t *testing.T) {
	var k KeyedMutex
	unlockA := k.Lock("a")
	// a different key is not blocked
	unlockB := k.Lock("b")
	unlockB()

	got := make(chan struct{})
	done := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(got)
		unlock()
		close(done)
	}()
	select {
	case <-got:
		t.Fatal("second Lock on held key did not block")
	default:
	}
	unlockA()
	<-done

	k.mu.Lock()
	n := len(k.locks)
	k.mu.Unlock()
	if n != 0 {
		t.Errorf("%d lock records remain", n)
	}
}
