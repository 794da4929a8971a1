package shelf

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ndlib/shelfsync/config"
)

func TestZeroUpdateRequest(t *testing.T) {
	c := config.Default()
	c.Update.Platforms = []string{"linux"}
	c.Update.SkipHidden = true

	o := UpdateRequest{}.options(c)
	assert.True(t, o.LenientDownloadsUpdate)
	assert.True(t, o.NoChangelogs)
	assert.True(t, o.SkipHidden)
	assert.Equal(t, []string{"linux"}, o.Platforms)
	assert.Equal(t, "standalone", o.Installers)

	o = UpdateRequest{
		Platforms:              []string{},
		SkipHidden:             Bool(false),
		LenientDownloadsUpdate: Bool(false),
		NoChangelogs:           Bool(false),
		StrictDupe:             Bool(true),
	}.options(c)
	assert.False(t, o.LenientDownloadsUpdate)
	assert.False(t, o.NoChangelogs)
	assert.False(t, o.SkipHidden)
	assert.True(t, o.StrictDupe)
	assert.Empty(t, o.Platforms)

	// the filled in defaults give the same options as the zero request
	lib := &Library{Config: c}
	assert.Equal(t, UpdateRequest{}.options(c), lib.UpdateDefaults().options(c))
}

func TestZeroDownloadRequest(t *testing.T) {
	c := config.Default()
	c.Download.TargetDir = "/srv/games"
	c.Download.Limit = 500
	c.Download.SkipFiles = []string{"*.zip"}

	o := DownloadRequest{}.options(c)
	assert.Equal(t, "/srv/games", o.TargetDir)
	assert.True(t, o.CleanOldImages)
	assert.Equal(t, 500.0, o.Limit)
	assert.Equal(t, []string{"*.zip"}, o.SkipFiles)

	none := 0.0
	o = DownloadRequest{
		TargetDir:      "/tmp/games",
		CleanOldImages: Bool(false),
		Covers:         Bool(true),
		Limit:          &none,
	}.options(c)
	assert.Equal(t, "/tmp/games", o.TargetDir)
	assert.False(t, o.CleanOldImages)
	assert.True(t, o.Covers)
	assert.Equal(t, 0.0, o.Limit)

	lib := &Library{Config: c}
	assert.Equal(t, DownloadRequest{}.options(c), lib.DownloadDefaults().options(c))
}
