// Package store provides a simple, goroutine safe key-value interface used to
// keep the synchronizer's state documents: the manifest, the downloaded
// ledger, the session token, and update resume information. Values are
// streams, so callers may encode directly into a store without buffering.
//
// Writing a key is atomic. A reader will either see the previous value or the
// new one, never a partial document. The FileSystem store does this with a
// scratch file that is renamed into place when the writer is closed.
package store

import (
	"errors"
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store defines the basic stream based key-value store.
//
// Create returns a writer for the key. The new value replaces any existing
// one only when the writer is closed without error. If a write fails, the
// Close will discard what was written and return that error.
//
// Since the FileSystem store uses the key as file names, keys should not
// contain forbidden filesystem characters, such as '/'.
type Store interface {
	Open(key string) (ReadAtCloser, int64, error)
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ErrNotFound is returned by Open when the key does not exist.
var ErrNotFound = errors.New("key not found")

// NewReader converts a ReaderAt into a io.Reader. It is here as a utility to
// help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for
		// an io.Reader
		err = nil
	}
	return
}

// ReadAll returns the entire value stored under key.
func ReadAll(s Store, key string) ([]byte, error) {
	rac, size, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer rac.Close()
	buf := make([]byte, size)
	n, err := rac.ReadAt(buf, 0)
	if err == io.EOF && int64(n) == size {
		err = nil
	}
	return buf[:n], err
}

// WriteAll replaces the value stored under key with data.
func WriteAll(s Store, key string, data []byte) error {
	w, err := s.Create(key)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	return err
}
