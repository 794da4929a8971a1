package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, 4, c.Parallel)
	assert.Equal(t, "ql", c.History.Kind)

	uo := c.UpdateOptions()
	assert.Equal(t, "standalone", uo.Installers)
	assert.Equal(t, "name", uo.SlotMatch)
	assert.True(t, uo.NoChangelogs)
	assert.True(t, uo.LenientDownloadsUpdate)

	do := c.DownloadOptions()
	assert.True(t, do.CleanOldImages)
	assert.Equal(t, time.Second, do.RetryDelay)
}

func TestLoadFile(t *testing.T) {
	c, err := Load("testdata/full.toml")
	require.NoError(t, err)

	assert.Equal(t, "/srv/shelf", c.State)
	assert.Equal(t, 8, c.Parallel)
	assert.Equal(t, 250*time.Millisecond, c.RetryDelay.Duration)
	assert.Equal(t, 2*time.Minute, c.TokenSkew.Duration)
	assert.Equal(t, "sqlite", c.History.Kind)
	// not in the file, so the default stays
	assert.Equal(t, 5, c.Breaker)

	uo := c.UpdateOptions()
	assert.Equal(t, []string{"windows", "linux"}, uo.Platforms)
	assert.Equal(t, "windows-only", uo.Installers)
	assert.Equal(t, []string{"installer", "patch"}, uo.Rules["windows-only"].Classes)
	assert.Contains(t, uo.Rules, "galaxy")
	assert.True(t, uo.StrictDupe)
	assert.Equal(t, "checksum+slot", uo.DupeMatch)
	assert.Equal(t, "class", uo.SlotMatch)
	assert.False(t, uo.NoChangelogs)

	do := c.DownloadOptions()
	assert.Equal(t, "/srv/games", do.TargetDir)
	assert.Equal(t, 1048576.0, do.Limit)
	assert.True(t, do.Covers)
	assert.False(t, do.CleanOldImages)
	assert.Equal(t, []string{"*.zip"}, do.SkipFiles)
	assert.Equal(t, 5, do.MaxAttempts)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("testdata/unknown.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paralell")

	_, err = Load("testdata/badmode.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonesuch")

	_, err = Load("testdata/missing.toml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Parallel = 0
	assert.Error(t, c.Validate())

	c = Default()
	c.History.Kind = "postgres"
	assert.Error(t, c.Validate())

	c = Default()
	c.Download.Limit = -1
	assert.Error(t, c.Validate())

	c = Default()
	c.Update.SlotMatch = "filename"
	assert.Error(t, c.Validate())
}
