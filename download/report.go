package download

import (
	"time"

	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/util"
)

// Task outcomes.
const (
	StatusDone     = "done"     // transferred and verified
	StatusAdopted  = "adopted"  // a matching file was already in place
	StatusVerified = "verified" // an existing file checked out
	StatusDryRun   = "dryrun"   // nothing done, dry run
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// TaskResult is the outcome of one task.
type TaskResult struct {
	Task     Task
	Status   string
	Bytes    int64 // bytes transferred
	Attempts int
	Err      error
}

// Report summarizes a download run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Results  []TaskResult
	Images   []string // image files fetched
	Removed  []string // old image files deleted
	Errors   []error  // failures outside of tasks, like images
}

// Count returns the number of tasks with the given status.
func (r *Report) Count(status string) int {
	var n int
	for _, tr := range r.Results {
		if tr.Status == status {
			n++
		}
	}
	return n
}

// Bytes returns the total number of bytes transferred.
func (r *Report) Bytes() int64 {
	var n int64
	for _, tr := range r.Results {
		n += tr.Bytes
	}
	return n
}

// Err returns nil if every task succeeded, and a *util.RunError otherwise.
func (r *Report) Err() error {
	var errs []error
	for _, tr := range r.Results {
		if tr.Status == StatusFailed {
			errs = append(errs, errors.Wrapf(tr.Err, "%s/%s", tr.Task.TitleID, tr.Task.File.Name))
		}
	}
	errs = append(errs, r.Errors...)
	return util.NewRunError("download", len(r.Results), errs)
}
