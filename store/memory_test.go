package store_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ndlib/shelfsync/store"
	"github.com/ndlib/shelfsync/store/storetest"
)

func TestMemoryBasic(t *testing.T) {
	storetest.Basic(t, store.NewMemory())
}

func TestMemoryStress(t *testing.T) {
	storetest.Stress(t, store.NewMemory(), 10, 50)
}

func TestMemoryDump(t *testing.T) {
	s := store.NewMemory()
	store.WriteAll(s, "b", []byte("two"))
	store.WriteAll(s, "a", []byte("one"))
	var buf bytes.Buffer
	s.Dump(&buf)
	if got := buf.String(); !strings.HasPrefix(got, "a: one\nb: two\n") {
		t.Errorf("Dump returned %q", got)
	}
}
