package download

import (
	"fmt"
)

// An IntegrityError means downloaded bytes do not match the remote checksum
// or size. The bad file has been deleted or quarantined.
type IntegrityError struct {
	Path        string
	Expected    string
	Got         string
	Size        int64
	Quarantined string // where the bad file was moved, if it was kept
}

func (e *IntegrityError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("%s: got %d bytes, expected a different size", e.Path, e.Size)
	}
	return fmt.Sprintf("%s: checksum %s does not match %s", e.Path, e.Got, e.Expected)
}

// A CapacityError means there is not enough disk space for a file.
type CapacityError struct {
	Path string
	Need int64 // bytes
	Free int64 // bytes, -1 if unknown
	Err  error
}

func (e *CapacityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot allocate %d bytes for %s: %v", e.Need, e.Path, e.Err)
	}
	return fmt.Sprintf("cannot allocate %d bytes for %s: only %d bytes free", e.Need, e.Path, e.Free)
}

func (e *CapacityError) Unwrap() error { return e.Err }
