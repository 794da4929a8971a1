package download

import (
	"path/filepath"
	"time"

	"github.com/ndlib/shelfsync/catalog"
	"github.com/ndlib/shelfsync/manifest"
)

// Resume modes. Any mode other than NoResume continues from a partial file.
const (
	NoResume   = "noresume"
	Resume     = "resume"
	OnlyResume = "onlyresume"
)

// QuarantineDir is the directory under the target directory where files
// failing verification are moved when quarantine is on.
const QuarantineDir = "!quarantine"

// Options control one download run.
type Options struct {
	TargetDir string

	IDs       []string // if not empty, only these titles (by id or name)
	SkipIDs   []string // never these titles; wins over IDs
	Platforms []string
	Languages []string

	SkipExtras     bool
	SkipGalaxy     bool
	SkipStandalone bool
	SkipShared     bool
	SkipFiles      []string // glob patterns matched against file names

	DryRun            bool
	Covers            bool
	Backgrounds       bool
	SkipPreallocation bool
	CleanOldImages    bool
	Limit             float64 // bytes per second for all transfers together, 0 for no limit

	ResumeMode  string
	Parallel    int           // transfers at once
	MaxAttempts int           // tries per file for transient failures
	RetryDelay  time.Duration // first delay between tries
	Quarantine  bool          // keep files failing verification instead of deleting them
}

// DefaultOptions returns the options used when nothing is specified.
func DefaultOptions() Options {
	return Options{
		CleanOldImages: true,
		ResumeMode:     Resume,
		Parallel:       4,
		MaxAttempts:    3,
		RetryDelay:     time.Second,
	}
}

// wantTitle reports whether the options select the title.
func (o Options) wantTitle(e manifest.Entry) bool {
	if contains(o.SkipIDs, e.ID) || contains(o.SkipIDs, e.Title) {
		return false
	}
	return len(o.IDs) == 0 || contains(o.IDs, e.ID) || contains(o.IDs, e.Title)
}

// wantFile reports whether the options select the file.
func (o Options) wantFile(f manifest.File) bool {
	if f.Class == catalog.Extra && o.SkipExtras {
		return false
	}
	if f.Class != catalog.Extra {
		switch f.Source {
		case catalog.Galaxy:
			if o.SkipGalaxy {
				return false
			}
		case catalog.Shared:
			if o.SkipShared {
				return false
			}
		case catalog.Standalone, "":
			if o.SkipStandalone {
				return false
			}
		}
	}
	filter := catalog.Filter{Platforms: o.Platforms, Languages: o.Languages}
	if !filter.Accept(f.FileVariant) {
		return false
	}
	for _, pattern := range o.SkipFiles {
		if ok, _ := filepath.Match(pattern, f.Name); ok {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
