package util

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// FileMD5 returns the hex MD5 checksum and the size of the named file. The
// file is memory mapped rather than read through a buffer.
func FileMD5(name string) (string, int64, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	hw := NewHashWriterPlain()
	if fi.Size() == 0 {
		// a zero length file cannot be mapped
		return hw.MD5(), 0, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return "", 0, err
	}
	defer m.Unmap()
	hw.Write(m)
	return hw.MD5(), fi.Size(), nil
}
