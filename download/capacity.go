package download

import (
	"log"
	"os"

	"github.com/shirou/gopsutil/v3/disk"
)

// freeSpace returns the bytes available to us on the filesystem holding dir.
func freeSpace(dir string) (uint64, error) {
	u, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// reserve makes sure f can grow to size bytes, failing with a
// *CapacityError if it cannot. The file's length is not changed, so the
// bytes already written still say where to resume.
func (e *Engine) reserve(f *os.File, dir string, offset, size int64) error {
	need := size - offset
	if need <= 0 {
		return nil
	}
	usage := e.usage
	if usage == nil {
		usage = freeSpace
	}
	free, err := usage(dir)
	if err != nil {
		// not knowing is no reason to refuse
		log.Printf("download: free space of %s: %v", dir, err)
	} else if int64(free) < need {
		return &CapacityError{Path: f.Name(), Need: need, Free: int64(free)}
	}
	if err := preallocate(f, size); err != nil {
		return &CapacityError{Path: f.Name(), Need: need, Free: -1, Err: err}
	}
	return nil
}
