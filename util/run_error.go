package util

import (
	"fmt"
	"strings"
)

// A RunError collects the failures of the independent items of one run, so a
// caller gets a single error after every unaffected item was processed.
type RunError struct {
	Op    string  // "update" or "download"
	Total int     // number of items attempted
	Errs  []error // one per failed item
}

// NewRunError returns nil if errs is empty, and a *RunError otherwise.
func NewRunError(op string, total int, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &RunError{Op: op, Total: total, Errs: errs}
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d items failed", e.Op, len(e.Errs), e.Total)
	const most = 3
	for i, err := range e.Errs {
		if i == most {
			fmt.Fprintf(&b, "; and %d more", len(e.Errs)-most)
			break
		}
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap lets errors.Is and errors.As look at every item failure.
func (e *RunError) Unwrap() []error { return e.Errs }
