// Package update reconciles the manifest against the remote catalog. A run
// fetches the owned titles, applies the selection options and policies, and
// records the files to track in the manifest. It returns the worklist of
// files needing download; it never downloads anything itself.
//
// A run that cannot read the catalog at all fails without writing the
// manifest. A failure reading one title is recorded in the result and the
// title skipped.
package update

import (
	"context"
	"log"
	"time"

	"github.com/facebookgo/stats"
	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/catalog"
	"github.com/ndlib/shelfsync/ledger"
	"github.com/ndlib/shelfsync/manifest"
	"github.com/ndlib/shelfsync/store"
	"github.com/ndlib/shelfsync/util"
)

// Catalog is the part of the remote catalog client the engine uses.
type Catalog interface {
	FetchCatalog(ctx context.Context, f catalog.Filter) ([]catalog.Title, error)
	FetchTitle(ctx context.Context, id string, f catalog.Filter) (catalog.Title, error)
}

// ResumeKey is the store key an interrupted run's progress is kept under.
const ResumeKey = "update-resume.json"

type resumeState struct {
	Started   time.Time `json:"started"`
	Remaining []string  `json:"remaining"`
}

// A Failure is a title which could not be read.
type Failure struct {
	TitleID string
	Err     error
}

// Result summarizes an update run.
type Result struct {
	Worklist  []WorkItem
	Added     []string // identifiers of new titles
	Updated   []string // identifiers of titles whose files changed
	Unchanged []string // identifiers of titles refreshed without change
	Skipped   []string // identifiers left out by the options or the ledger
	Failures  []Failure
	Warnings  []error // problems which did not stop the run, like a corrupt manifest
}

// Err returns nil if every title was read, and a *util.RunError otherwise.
func (r *Result) Err() error {
	var errs []error
	for _, f := range r.Failures {
		errs = append(errs, errors.Wrapf(f.Err, "title %s", f.TitleID))
	}
	total := len(r.Added) + len(r.Updated) + len(r.Unchanged) + len(r.Failures)
	return util.NewRunError("update", total, errs)
}

// Engine runs updates. Do not run two updates on one manifest at once.
type Engine struct {
	Catalog  Catalog
	Manifest *manifest.Manifest
	Ledger   *ledger.Ledger
	State    store.Store  // where resume progress is kept
	Stats    stats.Client // may be nil
}

// New returns an Engine.
func New(cat Catalog, m *manifest.Manifest, l *ledger.Ledger, state store.Store) *Engine {
	return &Engine{
		Catalog:  cat,
		Manifest: m,
		Ledger:   l,
		State:    state,
	}
}

// Run does one update. The returned error is for failures which stopped the
// whole run; per title failures are in the Result.
func (e *Engine) Run(ctx context.Context, o Options) (*Result, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	rule, _ := o.rule()
	result := new(Result)
	defer stats.BumpTime(e.Stats, "update.run").End()

	js := store.NewJSON(e.State)
	var resume *resumeState
	if o.ResumeMode == Resume || o.ResumeMode == OnlyResume {
		var rs resumeState
		err := js.Open(ResumeKey, &rs)
		switch {
		case err == nil:
			resume = &rs
			log.Printf("update: resuming run from %s, %d titles left", rs.Started.Format(time.RFC3339), len(rs.Remaining))
		case err != store.ErrNotFound:
			log.Println("update: ignoring resume state:", err)
		}
	}
	if resume == nil && o.ResumeMode == OnlyResume {
		log.Println("update: no interrupted run to resume")
		return result, nil
	}

	if _, err := e.Manifest.Load(); err != nil {
		var ce *manifest.CorruptError
		if !errors.As(err, &ce) {
			return nil, err
		}
		log.Println("update: warning:", err, "(starting with an empty manifest)")
		result.Warnings = append(result.Warnings, err)
	}
	if err := e.Ledger.Load(); err != nil {
		return nil, err
	}

	filter := o.filter()
	titles, err := e.Catalog.FetchCatalog(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "fetching catalog")
	}
	todo := e.choose(titles, resume, o, result)

	started := time.Now()
	if resume != nil {
		started = resume.Started
	}
	for i, t := range todo {
		if ctx.Err() != nil {
			e.checkpoint(js, started, todo[i:])
			return result, ctx.Err()
		}
		detail, err := e.Catalog.FetchTitle(ctx, t.ID, filter)
		if err != nil {
			if ctx.Err() != nil {
				e.checkpoint(js, started, todo[i:])
				return result, ctx.Err()
			}
			log.Printf("update: %s (%s): %v", t.ID, t.Name, err)
			result.Failures = append(result.Failures, Failure{TitleID: t.ID, Err: err})
			stats.BumpSum(e.Stats, "update.failures", 1)
			continue
		}
		if detail.Name == "" {
			detail.Name = t.Name
		}
		detail.Hidden = t.Hidden
		old, known := e.Manifest.Find(t.ID)
		d := reconcile(old, detail, selectVariants(detail, rule, o), o, e.Ledger)
		e.Manifest.Upsert(d.entry)
		result.Worklist = append(result.Worklist, d.work...)
		switch {
		case !known:
			result.Added = append(result.Added, t.ID)
		case d.changed:
			result.Updated = append(result.Updated, t.ID)
		default:
			result.Unchanged = append(result.Unchanged, t.ID)
		}
		stats.BumpSum(e.Stats, "update.titles", 1)
		if o.Checkpoint > 0 && (i+1)%o.Checkpoint == 0 && i+1 < len(todo) {
			e.checkpoint(js, started, todo[i+1:])
		}
	}

	if err := e.Manifest.Save(); err != nil {
		return result, err
	}
	if err := e.State.Delete(ResumeKey); err != nil && err != store.ErrNotFound {
		log.Println("update: removing resume state:", err)
	}
	log.Printf("update: %d added, %d updated, %d unchanged, %d skipped, %d failed, %d files to download",
		len(result.Added), len(result.Updated), len(result.Unchanged),
		len(result.Skipped), len(result.Failures), len(result.Worklist))
	return result, nil
}

// choose applies the selection options to the catalog.
func (e *Engine) choose(titles []catalog.Title, resume *resumeState, o Options, result *Result) []catalog.Title {
	var remaining map[string]bool
	if resume != nil {
		remaining = make(map[string]bool)
		for _, id := range resume.Remaining {
			remaining[id] = true
		}
	}
	var todo []catalog.Title
	for _, t := range titles {
		if remaining != nil && !remaining[t.ID] {
			continue
		}
		if len(o.IDs) > 0 && !contains(o.IDs, t.ID) && !contains(o.IDs, t.Name) {
			continue
		}
		skip := ""
		_, known := e.Manifest.Find(t.ID)
		switch {
		case contains(o.SkipIDs, t.ID) || contains(o.SkipIDs, t.Name):
			skip = "in skip list"
		case o.SkipHidden && t.Hidden:
			skip = "hidden"
		case e.Ledger.ContainsTitle(t.ID):
			skip = "already downloaded"
		case o.UpdateOnly && !known:
			skip = "not in manifest"
		case o.SkipKnown && known && (o.UpdateOnly || !o.ForceRefresh):
			skip = "already in manifest"
		case o.SkipUnknown && known && !t.Updated && !o.ForceRefresh:
			skip = "no remote update"
		}
		if skip != "" {
			log.Printf("update: skipping %s (%s): %s", t.ID, t.Name, skip)
			result.Skipped = append(result.Skipped, t.ID)
			continue
		}
		todo = append(todo, t)
	}
	return todo
}

// checkpoint saves the manifest and the titles still to do, so an
// interrupted run can be resumed.
func (e *Engine) checkpoint(js store.JSONStore, started time.Time, rest []catalog.Title) {
	if err := e.Manifest.Save(); err != nil {
		log.Println("update: checkpoint:", err)
		return
	}
	rs := resumeState{Started: started}
	for _, t := range rest {
		rs.Remaining = append(rs.Remaining, t.ID)
	}
	if err := js.Save(ResumeKey, rs); err != nil {
		log.Println("update: checkpoint:", err)
	}
}
