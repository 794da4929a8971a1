package shelf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/shelfsync/config"
	"github.com/ndlib/shelfsync/download"
	"github.com/ndlib/shelfsync/history"
	"github.com/ndlib/shelfsync/remotetest"
	"github.com/ndlib/shelfsync/session"
	"github.com/ndlib/shelfsync/store"
	"github.com/ndlib/shelfsync/util"
)

func testConfig(s *remotetest.Server) *config.Config {
	c := config.Default()
	c.State = "memory"
	c.RemoteURL = s.URL
	c.AuthURL = s.URL + "/auth"
	c.Retries = 2
	c.RetryDelay = config.Duration{Duration: time.Millisecond}
	c.Breaker = 0
	c.History = config.History{Kind: "ql", Dial: "memory"}
	return c
}

func newTestLibrary(t *testing.T, s *remotetest.Server) *Library {
	t.Helper()
	rec, err := history.NewQl("memory")
	require.NoError(t, err)
	lib, err := New(testConfig(s), store.NewMemory(), rec)
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib
}

// loggedIn returns a library with a session on s.
func loggedIn(t *testing.T, s *remotetest.Server) *Library {
	t.Helper()
	s.Password = "secret"
	lib := newTestLibrary(t, s)
	require.NoError(t, lib.Login(context.Background(), "petra", "secret"))
	return lib
}

func content(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func fooTitle(data []byte) remotetest.Title {
	return remotetest.Title{
		ID:   "1",
		Name: "Foo",
		Files: []remotetest.File{
			{Name: "setup_foo.exe", Content: data},
		},
	}
}

func TestFooScenario(t *testing.T) {
	s := remotetest.New()
	defer s.Close()
	s.Password = "secret"
	data := content(100)
	s.SetTitles(fooTitle(data))
	lib := newTestLibrary(t, s)
	ctx := context.Background()

	assert.True(t, errors.Is(lib.CheckAuth(ctx), session.ErrNotAuthenticated))
	err := lib.Login(ctx, "petra", "wrong")
	var ae *session.AuthError
	assert.True(t, errors.As(err, &ae), "got %v", err)
	require.NoError(t, lib.Login(ctx, "petra", "secret"))
	require.NoError(t, lib.CheckAuth(ctx))

	result, err := lib.RunUpdate(ctx, lib.UpdateDefaults())
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, result.Added)
	require.Len(t, result.Worklist, 1)
	assert.Equal(t, "setup_foo.exe", result.Worklist[0].File.Name)

	items, err := lib.ReadManifest()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Foo", items[0].Title)
	require.Len(t, items[0].Files, 1)
	assert.Equal(t, remotetest.MD5(data), items[0].Files[0].MD5)
	assert.Equal(t, int64(100), items[0].Files[0].Size)

	req := lib.DownloadDefaults()
	req.TargetDir = t.TempDir()
	req.DryRun = true
	report, err := lib.RunDownload(ctx, req)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, download.StatusDryRun, report.Results[0].Status)
	assert.Equal(t, 0, s.Hits(remotetest.FilePath("1", "setup_foo.exe")))
	items, err = lib.ReadManifest()
	require.NoError(t, err)
	assert.False(t, items[0].Files[0].Downloaded)

	req.DryRun = false
	report, err = lib.RunDownload(ctx, req)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, download.StatusDone, report.Results[0].Status)

	got, err := os.ReadFile(filepath.Join(req.TargetDir, items[0].Folder, "setup_foo.exe"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	items, err = lib.ReadManifest()
	require.NoError(t, err)
	assert.True(t, items[0].Files[0].Downloaded)
	assert.True(t, items[0].Complete)

	owned, err := lib.ReadDownloadedLedger()
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "1", owned[0].ID)
	assert.Equal(t, []string{remotetest.MD5(data)}, owned[0].Checksums)

	avail, err := lib.Available()
	require.NoError(t, err)
	assert.Empty(t, avail)

	// the title is in the ledger now, so it is left alone
	result, err = lib.RunUpdate(ctx, lib.UpdateDefaults())
	require.NoError(t, err)
	assert.Empty(t, result.Worklist)
	assert.Contains(t, result.Skipped, "1")

	runs, err := lib.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, "update", runs[0].Kind)
	assert.Equal(t, "download", runs[1].Kind)
	assert.Equal(t, int64(100), runs[1].Bytes)
	tasks, err := lib.TaskHistory(10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, download.StatusDone, tasks[0].Status)
	assert.Equal(t, "setup_foo.exe", tasks[0].File)
}

func TestReauthAfterRevoke(t *testing.T) {
	s := remotetest.New()
	defer s.Close()
	s.SetTitles(fooTitle(content(10)))
	lib := loggedIn(t, s)
	ctx := context.Background()

	s.RevokeTokens()
	result, err := lib.RunUpdate(ctx, lib.UpdateDefaults())
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, result.Added)
}

func TestMarkDownloaded(t *testing.T) {
	s := remotetest.New()
	defer s.Close()
	s.SetTitles(
		fooTitle(content(10)),
		remotetest.Title{ID: "2", Name: "Bar", Files: []remotetest.File{{Name: "bar.sh", Platform: "linux", Content: content(20)}}},
	)
	lib := loggedIn(t, s)
	ctx := context.Background()

	_, err := lib.RunUpdate(ctx, lib.UpdateDefaults())
	require.NoError(t, err)
	avail, err := lib.Available()
	require.NoError(t, err)
	assert.Len(t, avail, 2)

	assert.Error(t, lib.MarkDownloaded("", "x", nil))
	require.NoError(t, lib.MarkDownloaded("2", "Bar", nil))
	avail, err = lib.Available()
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, "1", avail[0].ID)

	req := lib.DownloadDefaults()
	req.TargetDir = t.TempDir()
	report, err := lib.RunDownload(ctx, req)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "1", report.Results[0].Task.TitleID)
	assert.Equal(t, 0, s.Hits(remotetest.FilePath("2", "bar.sh")))
}

func TestRunDownloadFailureAggregated(t *testing.T) {
	s := remotetest.New()
	defer s.Close()
	data := content(50)
	title := fooTitle(data)
	title.Files[0].MD5 = remotetest.MD5([]byte("something else"))
	s.SetTitles(title)
	lib := loggedIn(t, s)
	ctx := context.Background()

	_, err := lib.RunUpdate(ctx, lib.UpdateDefaults())
	require.NoError(t, err)
	req := lib.DownloadDefaults()
	req.TargetDir = t.TempDir()
	report, err := lib.RunDownload(ctx, req)
	require.NotNil(t, report)
	var re *util.RunError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, 1, report.Count(download.StatusFailed))
	var ie *download.IntegrityError
	assert.True(t, errors.As(err, &ie))

	runs, err := lib.History(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Failed)
	assert.NotEmpty(t, runs[0].Error)
}

func TestOpen(t *testing.T) {
	s := remotetest.New()
	defer s.Close()
	dir := t.TempDir()
	c := testConfig(s)
	c.State = filepath.Join(dir, "state")
	c.History.Dial = filepath.Join(dir, "db", "history.ql")
	lib, err := Open(c)
	require.NoError(t, err)
	require.NoError(t, lib.MarkDownloaded("9", "Baz", []string{"ABC"}))
	require.NoError(t, lib.Close())

	_, err = os.Stat(filepath.Join(dir, "state", "downloaded.json"))
	assert.NoError(t, err)
	_, err = os.Stat(c.History.Dial)
	assert.NoError(t, err)
}
