package update

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/catalog"
)

// Resume modes.
const (
	NoResume   = "noresume"   // discard any interrupted run and start over
	Resume     = "resume"     // continue an interrupted run if there is one
	OnlyResume = "onlyresume" // only continue an interrupted run
)

// Duplicate matching policies for StrictDupe.
const (
	DupeChecksum     = "checksum"      // same content checksum
	DupeChecksumSlot = "checksum+slot" // same checksum, platform, language and class
)

// Slot policies: which fields make two variants of a title the same file.
const (
	SlotName  = "name"  // platform, language, class and file name
	SlotClass = "class" // platform, language and class only
)

// An InstallerRule says which installers and patches an installer mode
// selects. Extras are selected in every mode.
type InstallerRule struct {
	Classes []string `toml:"classes"` // classes besides extras, e.g. installer, patch
	Sources []string `toml:"sources"` // empty means any source
}

// Select reports whether the rule takes v.
func (r InstallerRule) Select(v catalog.FileVariant) bool {
	if v.Class == catalog.Extra {
		return true
	}
	return contains(r.Classes, v.Class) && (len(r.Sources) == 0 || contains(r.Sources, v.Source))
}

// DefaultRules are the installer modes known without configuration.
var DefaultRules = map[string]InstallerRule{
	"standalone": {Classes: []string{catalog.Installer}, Sources: []string{catalog.Standalone}},
	"galaxy":     {Classes: []string{catalog.Installer}, Sources: []string{catalog.Galaxy}},
	"shared":     {Classes: []string{catalog.Installer}, Sources: []string{catalog.Shared}},
	"both": {
		Classes: []string{catalog.Installer},
		Sources: []string{catalog.Standalone, catalog.Galaxy, catalog.Shared},
	},
	"all": {Classes: []string{catalog.Installer, catalog.Patch}},
}

// Options control one update run.
type Options struct {
	Platforms []string // empty means every platform
	Languages []string // empty means every language

	SkipKnown    bool // do not refresh titles already in the manifest
	UpdateOnly   bool // only refresh titles already in the manifest
	SkipUnknown  bool // only refresh new titles and those the remote flags as updated
	ForceRefresh bool // refresh known titles even with SkipKnown or SkipUnknown

	IDs        []string // if not empty, only these titles (by id or name)
	SkipIDs    []string // never these titles; wins over IDs
	SkipHidden bool     // leave out titles hidden in the remote library

	Installers string                   // installer mode, a key of Rules
	Rules      map[string]InstallerRule // nil means DefaultRules

	ResumeMode string
	Checkpoint int // save progress every so many titles, 0 for never

	StrictVerify           bool   // ask for downloaded files to be checked again
	StrictDupe             bool   // reject variants duplicating another one's content
	DupeMatch              string // how StrictDupe compares variants
	SlotMatch              string // how variants are assigned to slots
	AllowDuplicateSlots    bool   // allow several variants in one slot
	LenientDownloadsUpdate bool   // installers only change when the checksum does
	StrictExtrasUpdate     bool   // extras change with size or version and are pruned
	EmitChecksumFiles      bool   // fetch checksum documents for variants without one
	NoChangelogs           bool   // do not keep changelogs in the manifest
}

// DefaultOptions returns the options used when nothing is specified.
func DefaultOptions() Options {
	return Options{
		Installers:             "standalone",
		ResumeMode:             NoResume,
		Checkpoint:             10,
		DupeMatch:              DupeChecksum,
		SlotMatch:              SlotName,
		LenientDownloadsUpdate: true,
		NoChangelogs:           true,
	}
}

func (o Options) rule() (InstallerRule, error) {
	rules := o.Rules
	if rules == nil {
		rules = DefaultRules
	}
	name := o.Installers
	if name == "" {
		name = "standalone"
	}
	r, ok := rules[name]
	if !ok {
		var names []string
		for k := range rules {
			names = append(names, k)
		}
		sort.Strings(names)
		return r, errors.Errorf("unknown installer mode %q, expected one of %v", name, names)
	}
	return r, nil
}

func (o Options) validate() error {
	switch o.ResumeMode {
	case "", NoResume, Resume, OnlyResume:
	default:
		return errors.Errorf("unknown resume mode %q", o.ResumeMode)
	}
	switch o.DupeMatch {
	case "", DupeChecksum, DupeChecksumSlot:
	default:
		return errors.Errorf("unknown duplicate match %q", o.DupeMatch)
	}
	switch o.SlotMatch {
	case "", SlotName, SlotClass:
	default:
		return errors.Errorf("unknown slot match %q", o.SlotMatch)
	}
	_, err := o.rule()
	return err
}

// slot returns the slot v takes under the slot policy.
func (o Options) slot(v catalog.FileVariant) catalog.Slot {
	s := v.Slot()
	if o.SlotMatch == SlotClass {
		s.Name = ""
	}
	return s
}

func (o Options) filter() catalog.Filter {
	return catalog.Filter{
		Platforms:        o.Platforms,
		Languages:        o.Languages,
		IncludeHidden:    !o.SkipHidden,
		ResolveChecksums: o.EmitChecksumFiles,
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
