//go:build linux

package download

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves disk blocks for size bytes of f without changing its
// length.
func preallocate(f *os.File, size int64) error {
	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
	switch err {
	case unix.EOPNOTSUPP, unix.ENOSYS:
		// the filesystem cannot do it; the free space check has to do
		return nil
	}
	return err
}
