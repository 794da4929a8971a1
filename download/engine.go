// Package download brings the files tracked in the manifest onto disk.
//
// Files are written to a partial file beside their final path. The length of
// the partial file is the only record of how far a transfer got, so an
// interrupted run resumes where the bytes on disk end. Once a file is
// complete it is checksummed; it is moved to its final path only if it
// matches. The manifest then records the checksum, and a title whose files
// are all present is added to the downloaded ledger.
package download

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/facebookgo/stats"
	"github.com/getsentry/raven-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/ledger"
	"github.com/ndlib/shelfsync/manifest"
	"github.com/ndlib/shelfsync/transfer"
	"github.com/ndlib/shelfsync/util"
)

// Engine runs downloads.
type Engine struct {
	Manifest *manifest.Manifest
	Ledger   *ledger.Ledger
	Fetcher  *transfer.Fetcher
	Stats    stats.Client // may be nil

	usage func(dir string) (uint64, error) // for tests, defaults to freeSpace
}

// New returns an Engine.
func New(m *manifest.Manifest, l *ledger.Ledger, f *transfer.Fetcher) *Engine {
	return &Engine{
		Manifest: m,
		Ledger:   l,
		Fetcher:  f,
	}
}

// a run holds what is shared by the workers of one Run.
type run struct {
	*Engine
	o        Options
	limiter  *util.RateCounter // nil for no limit
	ledgerMu sync.Mutex        // serializes ledger saves
}

// Run executes tasks with at most o.Parallel transfers at once. Failures of
// single tasks are in the report; the error is for the run as a whole, such
// as cancellation. When ctx is canceled no new tasks are started, and
// transfers in progress stop at their next read, leaving their partial files
// to be resumed.
func (e *Engine) Run(ctx context.Context, tasks []Task, o Options) (*Report, error) {
	report := &Report{
		RunID:   uuid.New().String(),
		Started: time.Now(),
		Results: make([]TaskResult, len(tasks)),
	}
	if o.TargetDir == "" {
		return nil, errors.New("no target directory")
	}
	if !o.DryRun {
		if err := os.MkdirAll(o.TargetDir, 0755); err != nil {
			return nil, err
		}
	}
	r := &run{Engine: e, o: o}
	if o.Limit > 0 {
		r.limiter = util.NewRateCounter(o.Limit)
		defer r.limiter.Stop()
	}
	log.Printf("download: run %s: %d tasks, %d at a time", report.RunID, len(tasks), o.Parallel)

	gate := util.NewGate(o.Parallel)
	var wg sync.WaitGroup
	for i, t := range tasks {
		report.Results[i] = TaskResult{Task: t, Status: StatusCanceled, Err: context.Canceled}
		if !gate.EnterContext(ctx) {
			report.Results[i].Err = ctx.Err()
			continue
		}
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			defer gate.Leave()
			report.Results[i] = r.do(ctx, t)
		}(i, t)
	}
	wg.Wait()

	if !o.DryRun && ctx.Err() == nil {
		r.images(ctx, report)
	}
	report.Finished = time.Now()
	log.Printf("download: run %s: %d done, %d adopted, %d verified, %d failed, %d bytes in %v",
		report.RunID, report.Count(StatusDone), report.Count(StatusAdopted),
		report.Count(StatusVerified), report.Count(StatusFailed), report.Bytes(),
		report.Finished.Sub(report.Started))
	return report, ctx.Err()
}

// do runs one task, retrying transient failures.
func (r *run) do(ctx context.Context, t Task) TaskResult {
	result := TaskResult{Task: t}
	if r.o.DryRun {
		log.Printf("download: would %s %s", t.Action, t.Dest)
		result.Status = StatusDryRun
		return result
	}
	defer stats.BumpTime(r.Stats, "download.task").End()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.o.RetryDelay
	b.MaxElapsedTime = 0
	b.Reset()
	attempts := r.o.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for {
		result.Attempts++
		status, n, err := r.attempt(ctx, t)
		result.Bytes += n
		result.Status, result.Err = status, err
		if err == nil || !transfer.IsTransient(err) || result.Attempts >= attempts {
			break
		}
		delay := b.NextBackOff()
		log.Printf("download: %s: %v, trying again in %v", t.Dest, err, delay)
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			break
		}
	}

	switch {
	case result.Err == nil:
		stats.BumpSum(r.Stats, "download.files", 1)
		stats.BumpSum(r.Stats, "download.bytes", float64(result.Bytes))
		stats.BumpHistogram(r.Stats, "download.size", float64(t.File.Size))
	case ctx.Err() != nil && errors.Is(result.Err, ctx.Err()):
		result.Status = StatusCanceled
		log.Printf("download: %s: canceled, partial file kept", t.Dest)
	default:
		result.Status = StatusFailed
		stats.BumpSum(r.Stats, "download.failures", 1)
		log.Printf("download: %s: %v", t.Dest, result.Err)
		var ie *IntegrityError
		if errors.As(result.Err, &ie) {
			stats.BumpSum(r.Stats, "download.integrity", 1)
			raven.CaptureError(result.Err, map[string]string{"title": t.TitleID, "file": t.File.Name})
		}
	}
	return result
}

// attempt makes one try at a task. It returns the status, the bytes
// transferred, and any error.
func (r *run) attempt(ctx context.Context, t Task) (string, int64, error) {
	if err := os.MkdirAll(folderOf(t), 0755); err != nil {
		return StatusFailed, 0, err
	}
	if t.Action == ActionVerify {
		sum, err := r.check(t.Dest, t.File)
		if err == nil {
			return StatusVerified, 0, r.commit(t, sum)
		}
		var ie *IntegrityError
		if !errors.As(err, &ie) {
			return StatusFailed, 0, err
		}
		// the copy on disk went bad, fetch it again
		log.Printf("download: %v", err)
	} else if sum, ok := r.adoptable(t); ok {
		os.Remove(t.Partial)
		return StatusAdopted, 0, r.commit(t, sum)
	}

	n, err := r.transfer(ctx, t)
	if err != nil {
		return StatusFailed, n, err
	}
	sum, err := r.check(t.Partial, t.File)
	if err != nil {
		return StatusFailed, n, err
	}
	if err := os.Rename(t.Partial, t.Dest); err != nil {
		return StatusFailed, n, err
	}
	return StatusDone, n, r.commit(t, sum)
}

// commit records a verified file in the manifest, and adds its title to the
// ledger once every file the options select for it is present.
func (r *run) commit(t Task, sum string) error {
	var complete bool
	var entry manifest.Entry
	err := r.Manifest.Update(t.TitleID, func(e *manifest.Entry) error {
		i := findFile(e.Files, t.File)
		if i < 0 {
			return errors.Errorf("%s is no longer in the manifest", t.File.Name)
		}
		f := &e.Files[i]
		f.LocalMD5 = sum
		f.Stale = false
		f.Verify = false
		complete = true
		for _, f := range e.Files {
			if r.o.wantFile(f) && (!f.Downloaded() || f.Verify) {
				complete = false
			}
		}
		entry = *e
		return nil
	})
	if err != nil {
		return err
	}
	if err := r.Manifest.Save(); err != nil {
		return err
	}
	if !complete {
		return nil
	}
	r.ledgerMu.Lock()
	defer r.ledgerMu.Unlock()
	r.Ledger.Add(ledger.Entry{ID: entry.ID, Title: entry.Title, Checksums: entry.Checksums()})
	log.Printf("download: %s (%s) is complete", entry.ID, entry.Title)
	return r.Ledger.Save()
}

// findFile locates the record for f, preferring the same identifier.
func findFile(files []manifest.File, f manifest.File) int {
	found := -1
	for i := range files {
		if files[i].Slot() != f.Slot() {
			continue
		}
		if files[i].ID == f.ID {
			return i
		}
		if found < 0 {
			found = i
		}
	}
	return found
}
