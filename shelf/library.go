// Package shelf is the entry point to the synchronizer. A Library ties the
// session, the remote catalog, the manifest and downloaded ledger, the update
// and download engines, and the run history together behind a few calls,
// each of which blocks until its run is over.
package shelf

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/catalog"
	"github.com/ndlib/shelfsync/config"
	"github.com/ndlib/shelfsync/download"
	"github.com/ndlib/shelfsync/history"
	"github.com/ndlib/shelfsync/ledger"
	"github.com/ndlib/shelfsync/manifest"
	"github.com/ndlib/shelfsync/session"
	"github.com/ndlib/shelfsync/store"
	"github.com/ndlib/shelfsync/transfer"
	"github.com/ndlib/shelfsync/update"
	"github.com/ndlib/shelfsync/util"
)

// Library is one synchronized game library.
type Library struct {
	Config   *config.Config
	State    store.Store
	Session  *session.Manager
	Fetcher  *transfer.Fetcher
	Catalog  *catalog.Client
	Manifest *manifest.Manifest
	Ledger   *ledger.Ledger
	Recorder history.Recorder // may be nil
	Counters *util.Counters

	updates   *update.Engine
	downloads *download.Engine

	// only one update or download at a time, since both write the manifest
	runMu sync.Mutex
}

// Open sets up the library described by c, opening its state location and
// history database.
func Open(c *config.Config) (*Library, error) {
	st, err := store.ParseLocation(c.State)
	if err != nil {
		return nil, errors.Wrapf(err, "opening state %s", c.State)
	}
	var rec history.Recorder
	if c.History.Dial != "" {
		if dbFile(c.History.Kind) && c.History.Dial != "memory" {
			if err := os.MkdirAll(filepath.Dir(c.History.Dial), 0755); err != nil {
				return nil, err
			}
		}
		rec, err = history.Open(c.History.Kind, c.History.Dial)
		if err != nil {
			return nil, errors.Wrap(err, "opening history")
		}
	}
	return New(c, st, rec)
}

func dbFile(kind string) bool {
	switch strings.ToLower(kind) {
	case "", "ql", "sqlite", "sqlite3":
		return true
	}
	return false
}

// New returns a Library keeping its state in st and recording runs in rec,
// which may be nil.
func New(c *config.Config, st store.Store, rec history.Recorder) (*Library, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	lib := &Library{
		Config:   c,
		State:    st,
		Manifest: manifest.New(st),
		Ledger:   ledger.New(st),
		Recorder: rec,
		Counters: util.NewCounters(),
	}
	auth := &session.HTTPAuth{
		BaseURL: c.AuthURL,
		Client:  &http.Client{Transport: transfer.NewTransport(), Timeout: time.Minute},
	}
	lib.Session = session.NewManager(auth, st)
	lib.Session.Skew = c.TokenSkew.Duration
	if err := lib.Session.Load(); err != nil {
		// a bad token only means logging in again
		log.Println("shelf:", err)
	}
	lib.Fetcher = transfer.New(
		transfer.WithHTTPClient(lib.Session.Client()),
		transfer.WithUserAgent(c.UserAgent),
		transfer.WithMaxRetries(c.Retries),
		transfer.WithBaseDelay(c.RetryDelay.Duration),
		transfer.WithBreakerThreshold(c.Breaker),
	)
	var err error
	lib.Catalog, err = catalog.NewClient(c.RemoteURL, lib.Fetcher)
	if err != nil {
		return nil, errors.Wrap(err, "remote url")
	}
	lib.Catalog.Reauth = func(ctx context.Context) error {
		_, err := lib.Session.Refresh(ctx)
		return err
	}
	lib.updates = update.New(lib.Catalog, lib.Manifest, lib.Ledger, st)
	lib.updates.Stats = lib.Counters
	lib.downloads = download.New(lib.Manifest, lib.Ledger, lib.Fetcher)
	lib.downloads.Stats = lib.Counters
	return lib, nil
}

// Close releases the history database.
func (lib *Library) Close() error {
	if lib.Recorder == nil {
		return nil
	}
	return lib.Recorder.Close()
}

// Login authenticates with the remote store and keeps the session token.
func (lib *Library) Login(ctx context.Context, username, password string) error {
	_, err := lib.Session.Authenticate(ctx, session.Credentials{
		Username: username,
		Password: password,
	})
	return err
}

// CheckAuth reports whether there is a usable session, refreshing the
// token if needed.
func (lib *Library) CheckAuth(ctx context.Context) error {
	return lib.Session.Check(ctx)
}

// RunUpdate reconciles the manifest with the remote catalog. The result is
// returned whenever the run got as far as reading the catalog; the error is
// then the aggregate of the titles which failed, if any.
func (lib *Library) RunUpdate(ctx context.Context, req UpdateRequest) (*update.Result, error) {
	lib.runMu.Lock()
	defer lib.runMu.Unlock()
	o := req.options(lib.Config)

	run := history.Run{ID: newRunID(), Kind: "update", Started: time.Now()}
	result, err := lib.updates.Run(ctx, o)
	run.Finished = time.Now()
	if err == nil {
		err = result.Err()
	}
	if result != nil {
		run.Items = len(result.Added) + len(result.Updated) + len(result.Unchanged) + len(result.Failures)
		run.Failed = len(result.Failures)
	}
	lib.recordRun(run, err)
	return result, err
}

// RunDownload plans and runs the downloads for the manifest. The report is
// returned whenever the run started; the error is then cancellation or the
// aggregate of the tasks which failed.
func (lib *Library) RunDownload(ctx context.Context, req DownloadRequest) (*download.Report, error) {
	lib.runMu.Lock()
	defer lib.runMu.Unlock()
	o := req.options(lib.Config)
	tasks, err := lib.downloads.Plan(o)
	if err != nil {
		return nil, err
	}
	log.Printf("download: %d files to get", len(tasks))
	report, err := lib.downloads.Run(ctx, tasks, o)
	if report == nil {
		return nil, err
	}
	if err == nil {
		err = report.Err()
	}
	run := history.Run{
		ID:       report.RunID,
		Kind:     "download",
		Started:  report.Started,
		Finished: report.Finished,
		Items:    len(report.Results),
		Failed:   report.Count(download.StatusFailed),
		Bytes:    report.Bytes(),
	}
	lib.recordRun(run, err)
	for _, tr := range report.Results {
		lib.recordTask(report, tr)
	}
	return report, err
}

func (lib *Library) recordRun(run history.Run, err error) {
	if lib.Recorder == nil {
		return
	}
	if err != nil {
		run.Error = err.Error()
	}
	if herr := lib.Recorder.RecordRun(run); herr != nil {
		log.Println("shelf: recording run:", herr)
		raven.CaptureError(herr, map[string]string{"run": run.ID})
	}
}

func (lib *Library) recordTask(report *download.Report, tr download.TaskResult) {
	if lib.Recorder == nil {
		return
	}
	t := history.Task{
		RunID:    report.RunID,
		TitleID:  tr.Task.TitleID,
		File:     tr.Task.File.Name,
		Status:   tr.Status,
		Bytes:    tr.Bytes,
		Attempts: tr.Attempts,
		When:     report.Finished,
	}
	if tr.Err != nil {
		t.Error = tr.Err.Error()
	}
	if herr := lib.Recorder.RecordTask(t); herr != nil {
		log.Println("shelf: recording task:", herr)
	}
}

// History returns the most recent runs, newest first.
func (lib *Library) History(limit int) ([]history.Run, error) {
	if lib.Recorder == nil {
		return nil, nil
	}
	return lib.Recorder.Runs(limit)
}

// TaskHistory returns the most recent download tasks, newest first.
func (lib *Library) TaskHistory(limit int) ([]history.Task, error) {
	if lib.Recorder == nil {
		return nil, nil
	}
	return lib.Recorder.Tasks(limit)
}
