package shelf

import (
	"github.com/google/uuid"

	"github.com/ndlib/shelfsync/config"
	"github.com/ndlib/shelfsync/download"
	"github.com/ndlib/shelfsync/update"
)

// UpdateRequest holds the choices for one update run. Fields the
// configuration has a default for are pointers, nil slices, or empty strings
// when not chosen, and then take the configured value. The zero
// UpdateRequest is an update with the configured defaults, which for
// LenientDownloadsUpdate and NoChangelogs is true unless the file says
// otherwise. Other booleans default to false.
type UpdateRequest struct {
	Platforms []string // nil for the configured platforms, empty for every platform
	Languages []string // nil for the configured languages, empty for every language

	SkipKnown    bool
	UpdateOnly   bool
	SkipUnknown  bool
	ForceRefresh bool

	IDs        []string
	SkipIDs    []string
	SkipHidden *bool

	Installers string // installer mode name
	ResumeMode string

	StrictVerify           bool
	StrictDupe             *bool
	LenientDownloadsUpdate *bool
	StrictExtrasUpdate     *bool
	EmitChecksumFiles      *bool
	NoChangelogs           *bool
}

// UpdateDefaults returns the update request the configuration gives, with
// every configured field filled in.
func (lib *Library) UpdateDefaults() UpdateRequest {
	o := lib.Config.UpdateOptions()
	return UpdateRequest{
		Platforms:              o.Platforms,
		Languages:              o.Languages,
		SkipHidden:             Bool(o.SkipHidden),
		Installers:             o.Installers,
		ResumeMode:             o.ResumeMode,
		StrictDupe:             Bool(o.StrictDupe),
		LenientDownloadsUpdate: Bool(o.LenientDownloadsUpdate),
		StrictExtrasUpdate:     Bool(o.StrictExtrasUpdate),
		EmitChecksumFiles:      Bool(o.EmitChecksumFiles),
		NoChangelogs:           Bool(o.NoChangelogs),
	}
}

func (req UpdateRequest) options(c *config.Config) update.Options {
	o := c.UpdateOptions()
	if req.Platforms != nil {
		o.Platforms = req.Platforms
	}
	if req.Languages != nil {
		o.Languages = req.Languages
	}
	o.SkipKnown = req.SkipKnown
	o.UpdateOnly = req.UpdateOnly
	o.SkipUnknown = req.SkipUnknown
	o.ForceRefresh = req.ForceRefresh
	o.IDs = req.IDs
	o.SkipIDs = req.SkipIDs
	setBool(&o.SkipHidden, req.SkipHidden)
	if req.Installers != "" {
		o.Installers = req.Installers
	}
	if req.ResumeMode != "" {
		o.ResumeMode = req.ResumeMode
	}
	o.StrictVerify = req.StrictVerify
	setBool(&o.StrictDupe, req.StrictDupe)
	setBool(&o.LenientDownloadsUpdate, req.LenientDownloadsUpdate)
	setBool(&o.StrictExtrasUpdate, req.StrictExtrasUpdate)
	setBool(&o.EmitChecksumFiles, req.EmitChecksumFiles)
	setBool(&o.NoChangelogs, req.NoChangelogs)
	return o
}

// DownloadRequest holds the choices for one download run. As with
// UpdateRequest, fields left nil or empty take the configured value, so the
// zero DownloadRequest downloads into the configured target directory with
// the configured image and bandwidth settings.
type DownloadRequest struct {
	TargetDir string

	IDs       []string
	SkipIDs   []string
	Platforms []string // nil for the configured platforms
	Languages []string // nil for the configured languages

	SkipExtras     bool
	SkipGalaxy     bool
	SkipStandalone bool
	SkipShared     bool
	SkipFiles      []string // glob patterns, nil for the configured ones

	DryRun            bool
	Covers            *bool
	Backgrounds       *bool
	SkipPreallocation *bool
	CleanOldImages    *bool
	Limit             *float64 // bytes per second, 0 for no limit
	ResumeMode        string
}

// DownloadDefaults returns the download request the configuration gives,
// with every configured field filled in.
func (lib *Library) DownloadDefaults() DownloadRequest {
	o := lib.Config.DownloadOptions()
	limit := o.Limit
	return DownloadRequest{
		TargetDir:         o.TargetDir,
		Platforms:         o.Platforms,
		Languages:         o.Languages,
		SkipFiles:         o.SkipFiles,
		Covers:            Bool(o.Covers),
		Backgrounds:       Bool(o.Backgrounds),
		SkipPreallocation: Bool(o.SkipPreallocation),
		CleanOldImages:    Bool(o.CleanOldImages),
		Limit:             &limit,
		ResumeMode:        o.ResumeMode,
	}
}

func (req DownloadRequest) options(c *config.Config) download.Options {
	o := c.DownloadOptions()
	if req.TargetDir != "" {
		o.TargetDir = req.TargetDir
	}
	o.IDs = req.IDs
	o.SkipIDs = req.SkipIDs
	if req.Platforms != nil {
		o.Platforms = req.Platforms
	}
	if req.Languages != nil {
		o.Languages = req.Languages
	}
	o.SkipExtras = req.SkipExtras
	o.SkipGalaxy = req.SkipGalaxy
	o.SkipStandalone = req.SkipStandalone
	o.SkipShared = req.SkipShared
	if req.SkipFiles != nil {
		o.SkipFiles = req.SkipFiles
	}
	o.DryRun = req.DryRun
	setBool(&o.Covers, req.Covers)
	setBool(&o.Backgrounds, req.Backgrounds)
	setBool(&o.SkipPreallocation, req.SkipPreallocation)
	setBool(&o.CleanOldImages, req.CleanOldImages)
	if req.Limit != nil {
		o.Limit = *req.Limit
	}
	if req.ResumeMode != "" {
		o.ResumeMode = req.ResumeMode
	}
	return o
}

// Bool returns a pointer to b, for filling in request fields.
func Bool(b bool) *bool {
	return &b
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func newRunID() string {
	return uuid.New().String()
}
