//go:build !linux

package download

import (
	"os"
)

// preallocate is only supported on Linux. Elsewhere the free space check is
// all we do.
func preallocate(f *os.File, size int64) error {
	return nil
}
