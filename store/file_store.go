package store

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
)

// FileSystem implements the simple file system based store. Every key is a
// file directly under the root directory. Values being written are kept in
// a scratch subdirectory and moved into place when their writer is closed.
type FileSystem struct {
	root string
}

const (
	// the subdir to store files while they are being written to.
	scratchdir = "scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}

	// ErrKeyContainsSlash means the key provided contains a forward slash '/'
	ErrKeyContainsSlash = errors.New("Key contains forward slash")

	// ErrKeyContainsNonUnicode means the key provided contains a Non Unicode Rune
	ErrKeyContainsNonUnicode = errors.New("Key contains Non-Unicode character")

	// ErrKeyContainsWhiteSpace  means the key provided contains WhiteSpace
	ErrKeyContainsWhiteSpace = errors.New("Key contains White Space")

	// ErrKeyContainsControlChar  means the key provided contains Control Characters
	ErrKeyContainsControlChar = errors.New("Key contains Control Characters")

	// ErrKeyEmpty means the key was the empty string
	ErrKeyEmpty = errors.New("Key is empty")
)

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root}
}

// Open returns a reader for the given object along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := isKeyValid(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(s.root, key))
	if os.IsNotExist(err) {
		return nil, 0, ErrNotFound
	} else if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create returns a writer to replace the value stored under key. Nothing is
// visible under the key until the writer is closed.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := isKeyValid(key); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, scratchdir)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	// more than one writer may be open for the same key, so each one gets
	// its own scratch file. The last one closed wins.
	f, err := os.CreateTemp(dir, key+".*")
	if err != nil {
		return nil, err
	}
	return &moveCloser{
		f:      f,
		target: filepath.Join(s.root, key),
	}, nil
}

// track the file so when it is closed, we can move it into the correct place
type moveCloser struct {
	f      *os.File
	target string
	err    error // first write error, if any
}

func (w *moveCloser) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.f.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

func (w *moveCloser) Close() error {
	source := w.f.Name()
	err := w.err
	if err == nil {
		err = w.f.Sync()
	}
	cerr := w.f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(source)
		return err
	}
	err = os.Rename(source, w.target)
	if err != nil {
		log.Println("FileSystem rename:", w.target, err)
		raven.CaptureError(err, map[string]string{"target": w.target})
		os.Remove(source)
	}
	return err
}

// Delete the given key from the store. It is not an error if the key doesn't
// exist.
func (s *FileSystem) Delete(key string) error {
	if err := isKeyValid(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, key))
	// don't report a missing file as an error
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// Some Simple Item Key Validations
func isKeyValid(key string) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if !utf8.ValidString(key) {
		return ErrKeyContainsNonUnicode
	}
	if strings.Contains(key, "/") {
		return ErrKeyContainsSlash
	}
	for _, r := range key {
		if unicode.IsSpace(r) {
			return ErrKeyContainsWhiteSpace
		}
		if unicode.IsControl(r) {
			return ErrKeyContainsControlChar
		}
	}
	return nil
}
