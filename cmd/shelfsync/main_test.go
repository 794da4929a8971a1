package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ndlib/shelfsync/remotetest"
)

type cli struct {
	config string
	dir    string
}

func newCLI(t *testing.T, s *remotetest.Server) *cli {
	dir := t.TempDir()
	c := &cli{
		config: filepath.Join(dir, "shelfsync.toml"),
		dir:    filepath.Join(dir, "games"),
	}
	conf := fmt.Sprintf(`
state = %q
remote_url = %q
auth_url = %q
retry_delay = "1ms"
breaker = 0

[history]
kind = "ql"
dial = %q

[download]
target_dir = %q
`, filepath.Join(dir, "state"), s.URL, s.URL+"/auth", filepath.Join(dir, "history.ql"), c.dir)
	require.NoError(t, os.WriteFile(c.config, []byte(conf), 0644))
	return c
}

func (c *cli) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", c.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	s := remotetest.New()
	defer s.Close()
	s.Password = "secret"
	data := []byte("installer for foo")
	s.SetTitles(remotetest.Title{
		ID:    "1",
		Name:  "foo",
		Files: []remotetest.File{{Name: "setup_foo.exe", Content: data}},
	})
	c := newCLI(t, s)

	_, err := c.run(t, "", "check")
	assert.Error(t, err)
	_, err = c.run(t, "wrong\n", "login", "petra")
	assert.Error(t, err)
	out, err := c.run(t, "secret\n", "login", "petra")
	require.NoError(t, err)
	assert.Contains(t, out, "logged in as petra")
	_, err = c.run(t, "", "check")
	require.NoError(t, err)

	out, err = c.run(t, "", "update", "--format", "json")
	require.NoError(t, err)
	var us updateSummary
	require.NoError(t, json.Unmarshal([]byte(out), &us))
	assert.Equal(t, []string{"1"}, us.Added)
	require.Len(t, us.Worklist, 1)
	assert.Equal(t, "new", us.Worklist[0].Reason)

	out, err = c.run(t, "", "download", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dryrun")
	_, err = os.Stat(filepath.Join(c.dir, "foo", "setup_foo.exe"))
	assert.True(t, os.IsNotExist(err))

	out, err = c.run(t, "", "download", "--format", "yaml")
	require.NoError(t, err)
	var ds downloadSummary
	require.NoError(t, yaml.Unmarshal([]byte(out), &ds))
	require.Len(t, ds.Tasks, 1)
	assert.Equal(t, "done", ds.Tasks[0].Status)
	got, err := os.ReadFile(filepath.Join(c.dir, "foo", "setup_foo.exe"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	out, err = c.run(t, "", "ledger")
	require.NoError(t, err)
	assert.Contains(t, out, remotetest.MD5(data))

	out, err = c.run(t, "", "available", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	out, err = c.run(t, "", "manifest")
	require.NoError(t, err)
	assert.Contains(t, out, "1/1 files")

	out, err = c.run(t, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "download")
	assert.Contains(t, out, "update")

	_, err = c.run(t, "", "mark", "2", "--title", "bar", "--md5", "ABC")
	require.NoError(t, err)
	out, err = c.run(t, "", "ledger", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"abc"`)
}

func TestBadFormat(t *testing.T) {
	s := remotetest.New()
	defer s.Close()
	c := newCLI(t, s)
	_, err := c.run(t, "", "manifest", "--format", "xml")
	assert.Error(t, err)
}
