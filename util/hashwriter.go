package util

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"strings"
)

// A HashWriter wraps an io.Writer and also calculates the MD5 hash of the
// bytes written. Checksums are handled as lower case hex strings, the form the
// remote catalog and the manifest use.
type HashWriter struct {
	io.Writer // our io.MultiWriter
	md5       hash.Hash
	n         int64
}

// NewMD5Writer returns a HashWriter wrapping w.
func NewMD5Writer(w io.Writer) *HashWriter {
	hw := &HashWriter{md5: md5.New()}
	hw.Writer = io.MultiWriter(w, hw.md5)
	return hw
}

// NewHashWriterPlain returns a HashWriter that does not wrap an output
// stream. It will just compute the checksum of the data written to it.
func NewHashWriterPlain() *HashWriter {
	hw := &HashWriter{md5: md5.New()}
	hw.Writer = hw.md5
	return hw
}

func (hw *HashWriter) Write(p []byte) (int, error) {
	n, err := hw.Writer.Write(p)
	hw.n += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (hw *HashWriter) Size() int64 {
	return hw.n
}

// MD5 returns the hex encoded MD5 hash of everything written so far.
func (hw *HashWriter) MD5() string {
	return hex.EncodeToString(hw.md5.Sum(nil))
}

// CheckMD5 returns the MD5 hash for this writer, and compares it with the
// goal hash passed in. The comparison ignores case. If the goal is empty then
// it is treated as matching, and true is returned.
func (hw *HashWriter) CheckMD5(goal string) (string, bool) {
	computed := hw.MD5()
	return computed, MD5Equal(goal, computed)
}

// MD5Equal reports whether two hex checksums are the same. An empty goal
// matches anything.
func MD5Equal(goal, computed string) bool {
	return goal == "" || strings.EqualFold(goal, computed)
}

// VerifyStreamHash checksums the given io.Reader and compares the checksum
// against the provided md5 hex string. It returns true if it matches, and
// false otherwise. The reader is not closed when finished.
func VerifyStreamHash(r io.Reader, goal string) (bool, error) {
	hw := NewHashWriterPlain()
	_, err := io.Copy(hw, r)
	if err != nil {
		return false, err
	}
	_, ok := hw.CheckMD5(goal)
	return ok, nil
}
