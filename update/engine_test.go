package update

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/shelfsync/catalog"
	"github.com/ndlib/shelfsync/ledger"
	"github.com/ndlib/shelfsync/manifest"
	"github.com/ndlib/shelfsync/store"
	"github.com/ndlib/shelfsync/util"
)

type fakeCatalog struct {
	titles    []catalog.Title
	fail      error
	failTitle map[string]error
	onFetch   func(id string)
	fetched   []string
}

func (f *fakeCatalog) FetchCatalog(ctx context.Context, flt catalog.Filter) ([]catalog.Title, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	var result []catalog.Title
	for _, t := range f.titles {
		if t.Hidden && !flt.IncludeHidden {
			continue
		}
		t.Variants = nil
		result = append(result, t)
	}
	return result, nil
}

func (f *fakeCatalog) FetchTitle(ctx context.Context, id string, flt catalog.Filter) (catalog.Title, error) {
	f.fetched = append(f.fetched, id)
	if f.onFetch != nil {
		f.onFetch(id)
	}
	if err := ctx.Err(); err != nil {
		return catalog.Title{}, err
	}
	if err := f.failTitle[id]; err != nil {
		return catalog.Title{}, err
	}
	for _, t := range f.titles {
		if t.ID != id {
			continue
		}
		var vs []catalog.FileVariant
		for _, v := range t.Variants {
			if flt.Accept(v) {
				vs = append(vs, v)
			}
		}
		t.Variants = vs
		return t, nil
	}
	return catalog.Title{}, errors.New("no such title")
}

func installer(name, md5 string, size int64) catalog.FileVariant {
	return catalog.FileVariant{
		ID:       name,
		Name:     name,
		Platform: catalog.Windows,
		Language: "en",
		Class:    catalog.Installer,
		Source:   catalog.Standalone,
		MD5:      md5,
		Size:     size,
		URL:      "https://example.com/" + name,
	}
}

func extra(name, md5 string) catalog.FileVariant {
	return catalog.FileVariant{
		ID:       name,
		Name:     name,
		Platform: catalog.Any,
		Language: catalog.Any,
		Class:    catalog.Extra,
		MD5:      md5,
		Size:     5,
		URL:      "https://example.com/" + name,
	}
}

type fixture struct {
	cat    *fakeCatalog
	mem    *store.Memory
	m      *manifest.Manifest
	l      *ledger.Ledger
	engine *Engine
}

func newFixture(titles ...catalog.Title) *fixture {
	f := &fixture{
		cat: &fakeCatalog{titles: titles},
		mem: store.NewMemory(),
	}
	f.m = manifest.New(f.mem)
	f.l = ledger.New(f.mem)
	f.engine = New(f.cat, f.m, f.l, f.mem)
	return f
}

func (f *fixture) run(t *testing.T, o Options) *Result {
	t.Helper()
	r, err := f.engine.Run(context.Background(), o)
	require.NoError(t, err)
	return r
}

func (f *fixture) manifestBytes(t *testing.T) string {
	t.Helper()
	data, err := store.ReadAll(f.mem, manifest.Key)
	require.NoError(t, err)
	return string(data)
}

// markDownloaded records every file of a title as verified on disk.
func (f *fixture) markDownloaded(t *testing.T, id string) {
	t.Helper()
	_, err := f.m.Load()
	require.NoError(t, err)
	require.NoError(t, f.m.Update(id, func(e *manifest.Entry) error {
		for i := range e.Files {
			e.Files[i].LocalMD5 = e.Files[i].MD5
		}
		return nil
	}))
	require.NoError(t, f.m.Save())
}

func TestNewTitle(t *testing.T) {
	f := newFixture(catalog.Title{
		ID:       "1",
		Name:     "foo",
		Variants: []catalog.FileVariant{installer("setup_foo.exe", "abc123", 100)},
	})
	r := f.run(t, DefaultOptions())

	assert.Equal(t, []string{"1"}, r.Added)
	require.Len(t, r.Worklist, 1)
	assert.Equal(t, ReasonNew, r.Worklist[0].Reason)
	assert.Equal(t, "setup_foo.exe", r.Worklist[0].File.Name)
	assert.NoError(t, r.Err())

	e, ok := f.m.Find("1")
	require.True(t, ok)
	assert.Equal(t, "foo", e.Folder)
	require.Len(t, e.Files, 1)
	assert.Equal(t, "abc123", e.Files[0].MD5)
	assert.Empty(t, e.Files[0].LocalMD5)
	_, _, err := f.mem.Open(ResumeKey)
	assert.Equal(t, store.ErrNotFound, err)
}

func TestLedgerExclusion(t *testing.T) {
	f := newFixture(
		catalog.Title{ID: "1", Name: "foo", Variants: []catalog.FileVariant{installer("a.exe", "aaa", 1)}},
		catalog.Title{ID: "2", Name: "bar", Variants: []catalog.FileVariant{
			installer("b.exe", "bbb", 1),
			extra("b.pdf", "ccc"),
		}},
	)
	f.l.Add(ledger.Entry{ID: "1"})
	f.l.Add(ledger.Entry{ID: "elsewhere", Checksums: []string{"bbb"}})
	require.NoError(t, f.l.Save())

	r := f.run(t, DefaultOptions())
	assert.Equal(t, []string{"1"}, r.Skipped)
	for _, w := range r.Worklist {
		assert.NotEqual(t, "1", w.TitleID)
		assert.NotEqual(t, "bbb", w.File.MD5)
	}
	require.Len(t, r.Worklist, 1)
	assert.Equal(t, "b.pdf", r.Worklist[0].File.Name)
	_, ok := f.m.Find("1")
	assert.False(t, ok)
	e, _ := f.m.Find("2")
	assert.Len(t, e.Files, 2, "ledger checksums only keep files off the worklist")
}

func TestSkipIDsWins(t *testing.T) {
	f := newFixture(
		catalog.Title{ID: "1", Name: "foo"},
		catalog.Title{ID: "2", Name: "bar"},
		catalog.Title{ID: "3", Name: "baz"},
	)
	o := DefaultOptions()
	o.IDs = []string{"1", "bar"}
	o.SkipIDs = []string{"1"}
	r := f.run(t, o)
	assert.Equal(t, []string{"2"}, r.Added)
	assert.Equal(t, []string{"1"}, r.Skipped)
	assert.Equal(t, []string{"2"}, f.cat.fetched)
}

func TestIdempotent(t *testing.T) {
	f := newFixture(
		catalog.Title{ID: "1", Name: "foo", Changelog: "notes", Variants: []catalog.FileVariant{
			installer("a.exe", "aaa", 1),
			extra("a.pdf", "bbb"),
		}},
		catalog.Title{ID: "2", Name: "bar", Hidden: true, Variants: []catalog.FileVariant{installer("b.exe", "ccc", 1)}},
	)
	o := DefaultOptions()
	o.StrictVerify = true
	o.NoChangelogs = false
	f.run(t, o)
	f.markDownloaded(t, "1")

	f.run(t, o)
	first := f.manifestBytes(t)
	r := f.run(t, o)
	assert.Equal(t, first, f.manifestBytes(t))
	assert.Empty(t, r.Added)
	assert.Empty(t, r.Updated)
	assert.ElementsMatch(t, []string{"1", "2"}, r.Unchanged)
}

func TestStrictDupe(t *testing.T) {
	a := installer("a.exe", "xyz", 1)
	b := installer("b.exe", "xyz", 1)
	f := newFixture(catalog.Title{ID: "1", Name: "foo", Variants: []catalog.FileVariant{a, b}})

	o := DefaultOptions()
	f.run(t, o)
	e, _ := f.m.Find("1")
	assert.Len(t, e.Files, 2)

	o.StrictDupe = true
	f.run(t, o)
	e, _ = f.m.Find("1")
	require.Len(t, e.Files, 1)
	assert.Equal(t, "a.exe", e.Files[0].Name)

	// a duplicate in another slot survives when the slot is compared too
	c := b
	c.Language = "de"
	f.cat.titles[0].Variants = []catalog.FileVariant{a, c}
	o.DupeMatch = DupeChecksumSlot
	f.run(t, o)
	e, _ = f.m.Find("1")
	assert.Len(t, e.Files, 2)
}

func TestDuplicateSlots(t *testing.T) {
	a := installer("a.exe", "aaa", 1)
	b := a
	b.ID = "other"
	b.MD5 = "bbb"
	f := newFixture(catalog.Title{ID: "1", Name: "foo", Variants: []catalog.FileVariant{a, b}})
	o := DefaultOptions()
	f.run(t, o)
	e, _ := f.m.Find("1")
	assert.Len(t, e.Files, 1)

	o.AllowDuplicateSlots = true
	f.run(t, o)
	e, _ = f.m.Find("1")
	assert.Len(t, e.Files, 2)
}

func TestSlotMatchClass(t *testing.T) {
	a := installer("setup_a.exe", "aaa", 1)
	b := installer("setup_b.exe", "bbb", 1)
	de := installer("setup_de.exe", "ccc", 1)
	de.Language = "de"
	f := newFixture(catalog.Title{ID: "1", Name: "foo", Variants: []catalog.FileVariant{a, b, de}})

	// by default the file name is part of the slot
	o := DefaultOptions()
	f.run(t, o)
	e, _ := f.m.Find("1")
	assert.Len(t, e.Files, 3)

	// one file per platform, language and class
	o.SlotMatch = SlotClass
	f.run(t, o)
	e, _ = f.m.Find("1")
	require.Len(t, e.Files, 2)
	assert.Equal(t, "setup_a.exe", e.Files[0].Name)
	assert.Equal(t, "setup_de.exe", e.Files[1].Name)

	// a renamed installer replaces the old one in its slot
	f.markDownloaded(t, "1")
	renamed := installer("setup_a2.exe", "ddd", 1)
	f.cat.titles[0].Variants = []catalog.FileVariant{renamed, de}
	r := f.run(t, o)
	e, _ = f.m.Find("1")
	require.Len(t, e.Files, 2)
	assert.Equal(t, "setup_a2.exe", e.Files[0].Name)
	assert.True(t, e.Files[0].Stale)
	require.Len(t, r.Worklist, 1)
	assert.Equal(t, ReasonStale, r.Worklist[0].Reason)

	o.SlotMatch = "nonesuch"
	_, err := f.engine.Run(context.Background(), o)
	assert.Error(t, err)
}

func TestCatalogFailureWritesNothing(t *testing.T) {
	f := newFixture(catalog.Title{ID: "1", Name: "foo", Variants: []catalog.FileVariant{installer("a.exe", "aaa", 1)}})
	f.run(t, DefaultOptions())
	before := f.manifestBytes(t)

	f.cat.titles = append(f.cat.titles, catalog.Title{ID: "2", Name: "bar"})
	f.cat.fail = errors.New("remote store unreachable")
	r, err := f.engine.Run(context.Background(), DefaultOptions())
	assert.Error(t, err)
	assert.Nil(t, r)
	assert.Equal(t, before, f.manifestBytes(t))
}

func TestTitleFailureIsolated(t *testing.T) {
	f := newFixture(
		catalog.Title{ID: "1", Name: "foo"},
		catalog.Title{ID: "2", Name: "bar"},
	)
	boom := errors.New("boom")
	f.cat.failTitle = map[string]error{"1": boom}
	r := f.run(t, DefaultOptions())
	assert.Equal(t, []string{"2"}, r.Added)
	require.Len(t, r.Failures, 1)
	err := r.Err()
	var re *util.RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 2, re.Total)
	assert.True(t, errors.Is(err, boom))
}

func TestStaleAndPruned(t *testing.T) {
	f := newFixture(catalog.Title{ID: "1", Name: "foo", Variants: []catalog.FileVariant{
		installer("a.exe", "aaa", 1),
		installer("patch.exe", "ppp", 1),
		extra("a.pdf", "bbb"),
	}})
	f.cat.titles[0].Variants[1].Name = "b.exe"
	f.cat.titles[0].Variants[1].ID = "b.exe"
	o := DefaultOptions()
	f.run(t, o)
	f.markDownloaded(t, "1")

	f.cat.titles[0].Variants = []catalog.FileVariant{installer("a.exe", "a2", 1)}
	r := f.run(t, o)
	assert.Equal(t, []string{"1"}, r.Updated)
	require.Len(t, r.Worklist, 1)
	assert.Equal(t, ReasonStale, r.Worklist[0].Reason)

	e, _ := f.m.Find("1")
	require.Len(t, e.Files, 2, "b.exe pruned, extra retained")
	assert.Equal(t, "a.exe", e.Files[0].Name)
	assert.True(t, e.Files[0].Stale)
	assert.Equal(t, "aaa", e.Files[0].LocalMD5)
	assert.Equal(t, "a2", e.Files[0].MD5)
	assert.Equal(t, "a.pdf", e.Files[1].Name)

	// stays stale until downloaded
	r = f.run(t, o)
	require.Len(t, r.Worklist, 1)
	assert.Equal(t, ReasonStale, r.Worklist[0].Reason)

	o.StrictExtrasUpdate = true
	f.run(t, o)
	e, _ = f.m.Find("1")
	assert.Len(t, e.Files, 1)
}

func TestChangeDetection(t *testing.T) {
	old := installer("a.exe", "aaa", 1)
	bigger := old
	bigger.Size = 2
	newer := old
	newer.Version = "2"
	lenient := DefaultOptions()
	strict := DefaultOptions()
	strict.LenientDownloadsUpdate = false

	assert.False(t, variantChanged(old, bigger, lenient))
	assert.True(t, variantChanged(old, bigger, strict))
	assert.True(t, variantChanged(old, newer, strict))

	x := extra("a.pdf", "aaa")
	xnewer := x
	xnewer.Version = "2"
	assert.False(t, variantChanged(x, xnewer, strict))
	strict.StrictExtrasUpdate = true
	assert.True(t, variantChanged(x, xnewer, strict))

	nosum := old
	nosum.MD5 = ""
	assert.True(t, variantChanged(nosum, bigger, lenient))
	assert.False(t, variantChanged(nosum, old, lenient))
}

func TestStrictVerify(t *testing.T) {
	f := newFixture(catalog.Title{ID: "1", Name: "foo", Variants: []catalog.FileVariant{installer("a.exe", "aaa", 1)}})
	f.run(t, DefaultOptions())
	f.markDownloaded(t, "1")

	r := f.run(t, DefaultOptions())
	assert.Empty(t, r.Worklist)

	o := DefaultOptions()
	o.StrictVerify = true
	r = f.run(t, o)
	require.Len(t, r.Worklist, 1)
	assert.Equal(t, ReasonVerify, r.Worklist[0].Reason)
	e, _ := f.m.Find("1")
	assert.True(t, e.Files[0].Verify)
	assert.Equal(t, "aaa", e.Files[0].LocalMD5)
}

func TestKnownModes(t *testing.T) {
	f := newFixture(catalog.Title{ID: "1", Name: "foo"})
	f.run(t, DefaultOptions())
	f.cat.titles = append(f.cat.titles,
		catalog.Title{ID: "2", Name: "bar"},
		catalog.Title{ID: "3", Name: "baz", Updated: true},
	)
	f.cat.titles[0].Updated = false

	o := DefaultOptions()
	o.UpdateOnly = true
	r := f.run(t, o)
	assert.Equal(t, []string{"1"}, r.Unchanged)
	assert.ElementsMatch(t, []string{"2", "3"}, r.Skipped)

	o = DefaultOptions()
	o.SkipKnown = true
	r = f.run(t, o)
	assert.Equal(t, []string{"2", "3"}, r.Added)
	assert.Equal(t, []string{"1"}, r.Skipped)

	o.ForceRefresh = true
	r = f.run(t, o)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, r.Unchanged)

	f.cat.titles = append(f.cat.titles, catalog.Title{ID: "4", Name: "qux"})
	f.cat.titles[2].Updated = true
	o = DefaultOptions()
	o.SkipUnknown = true
	r = f.run(t, o)
	assert.Equal(t, []string{"4"}, r.Added)
	assert.Equal(t, []string{"3"}, r.Unchanged)
	assert.ElementsMatch(t, []string{"1", "2"}, r.Skipped)
}

func TestInstallerModes(t *testing.T) {
	patch := installer("patch.exe", "ppp", 1)
	patch.Class = catalog.Patch
	galaxy := installer("galaxy.exe", "ggg", 1)
	galaxy.Source = catalog.Galaxy
	f := newFixture(catalog.Title{ID: "1", Name: "foo", Variants: []catalog.FileVariant{
		installer("a.exe", "aaa", 1), patch, galaxy, extra("a.pdf", "bbb"),
	}})
	names := func() []string {
		e, _ := f.m.Find("1")
		var result []string
		for _, file := range e.Files {
			result = append(result, file.Name)
		}
		return result
	}

	o := DefaultOptions()
	o.StrictExtrasUpdate = true
	f.run(t, o)
	assert.Equal(t, []string{"a.exe", "a.pdf"}, names())

	o.Installers = "all"
	f.run(t, o)
	assert.Equal(t, []string{"a.exe", "patch.exe", "galaxy.exe", "a.pdf"}, names())

	o.Installers = "mine"
	o.Rules = map[string]InstallerRule{"mine": {Classes: []string{catalog.Installer}, Sources: []string{catalog.Galaxy}}}
	f.run(t, o)
	assert.Equal(t, []string{"galaxy.exe", "a.pdf"}, names())

	o.Installers = "unknown"
	_, err := f.engine.Run(context.Background(), o)
	assert.Error(t, err)
}

func TestCorruptManifestWarns(t *testing.T) {
	f := newFixture(catalog.Title{ID: "1", Name: "foo"})
	require.NoError(t, store.WriteAll(f.mem, manifest.Key, []byte("garbage")))
	r := f.run(t, DefaultOptions())
	require.Len(t, r.Warnings, 1)
	var ce *manifest.CorruptError
	assert.True(t, errors.As(r.Warnings[0], &ce))
	assert.Equal(t, []string{"1"}, r.Added)
}

func TestResume(t *testing.T) {
	titles := []catalog.Title{
		{ID: "1", Name: "foo"},
		{ID: "2", Name: "bar"},
		{ID: "3", Name: "baz"},
	}
	f := newFixture(titles...)
	ctx, cancel := context.WithCancel(context.Background())
	f.cat.onFetch = func(id string) {
		if id == "2" {
			cancel()
		}
	}
	o := DefaultOptions()
	o.Checkpoint = 1
	_, err := f.engine.Run(ctx, o)
	assert.Equal(t, context.Canceled, err)

	var rs resumeState
	require.NoError(t, store.NewJSON(f.mem).Open(ResumeKey, &rs))
	assert.Equal(t, []string{"2", "3"}, rs.Remaining)
	_, ok := f.m.Find("1")
	assert.True(t, ok)

	f.cat.onFetch = nil
	f.cat.fetched = nil
	o.ResumeMode = OnlyResume
	r := f.run(t, o)
	assert.Equal(t, []string{"2", "3"}, r.Added)
	assert.Equal(t, []string{"2", "3"}, f.cat.fetched)
	_, _, err = f.mem.Open(ResumeKey)
	assert.Equal(t, store.ErrNotFound, err)

	// nothing left to resume
	f.cat.fetched = nil
	r = f.run(t, o)
	assert.Empty(t, r.Added)
	assert.Empty(t, f.cat.fetched)
}
