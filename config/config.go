// Package config reads the shelfsync configuration file. The file is TOML;
// every setting is optional and falls back to the value in Default.
//
//	state = "/home/petra/.shelfsync"
//	remote_url = "https://api.example.com"
//	parallel = 8
//
//	[history]
//	kind = "sqlite"
//	dial = "/home/petra/.shelfsync/history.db"
//
//	[installers.windows-only]
//	classes = ["installer", "patch"]
//	sources = ["standalone"]
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/download"
	"github.com/ndlib/shelfsync/update"
)

// Duration is a time.Duration written as a string such as "90s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the whole configuration.
type Config struct {
	// State is where the manifest, the downloaded ledger and the session
	// token are kept: a directory, "s3://bucket/prefix", or "memory".
	State string `toml:"state"`

	RemoteURL  string   `toml:"remote_url"`
	AuthURL    string   `toml:"auth_url"`
	UserAgent  string   `toml:"user_agent"`
	Parallel   int      `toml:"parallel"`
	Retries    int      `toml:"retries"`
	RetryDelay Duration `toml:"retry_delay"`
	TokenSkew  Duration `toml:"token_skew"`
	Breaker    int      `toml:"breaker"` // consecutive failures before a host is cut off, 0 for never

	// SentryDSN turns on error reporting if set.
	SentryDSN string `toml:"sentry_dsn"`

	History    History                         `toml:"history"`
	Update     Update                          `toml:"update"`
	Download   Download                        `toml:"download"`
	Installers map[string]update.InstallerRule `toml:"installers"`
}

// History selects the history database.
type History struct {
	Kind string `toml:"kind"` // ql, sqlite, or mysql
	Dial string `toml:"dial"`
}

// Update holds the defaults for update runs.
type Update struct {
	Platforms    []string `toml:"platforms"`
	Languages    []string `toml:"languages"`
	Installers   string   `toml:"installers"`
	SkipHidden   bool     `toml:"skip_hidden"`
	Checkpoint   int      `toml:"checkpoint"`
	StrictDupe   bool     `toml:"strict_dupe"`
	DupeMatch    string   `toml:"dupe_match"`
	SlotMatch    string   `toml:"slot_match"` // name or class
	StrictExtras bool     `toml:"strict_extras"`
	StrictSize   bool     `toml:"strict_size"` // installers also change with size or version
	Changelogs   bool     `toml:"changelogs"`
	Checksums    bool     `toml:"checksums"` // fetch checksum documents
}

// Download holds the defaults for download runs.
type Download struct {
	TargetDir         string   `toml:"target_dir"`
	Platforms         []string `toml:"platforms"`
	Languages         []string `toml:"languages"`
	SkipFiles         []string `toml:"skip_files"`
	Limit             float64  `toml:"limit"` // bytes per second
	Covers            bool     `toml:"covers"`
	Backgrounds       bool     `toml:"backgrounds"`
	CleanOldImages    bool     `toml:"clean_old_images"`
	SkipPreallocation bool     `toml:"skip_preallocation"`
	Quarantine        bool     `toml:"quarantine"`
}

// Default returns the configuration used when there is no file.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	state := filepath.Join(home, ".shelfsync")
	uo := update.DefaultOptions()
	do := download.DefaultOptions()
	return &Config{
		State:      state,
		RemoteURL:  "https://api.example.com",
		AuthURL:    "https://auth.example.com/auth",
		UserAgent:  "shelfsync/1.0",
		Parallel:   do.Parallel,
		Retries:    do.MaxAttempts,
		RetryDelay: Duration{do.RetryDelay},
		TokenSkew:  Duration{time.Minute},
		Breaker:    5,
		History: History{
			Kind: "ql",
			Dial: filepath.Join(state, "history.ql"),
		},
		Update: Update{
			Installers: uo.Installers,
			Checkpoint: uo.Checkpoint,
			DupeMatch:  uo.DupeMatch,
			SlotMatch:  uo.SlotMatch,
		},
		Download: Download{
			TargetDir:      filepath.Join(home, "Games"),
			CleanOldImages: do.CleanOldImages,
		},
	}
}

// Load reads the configuration file name onto the defaults. An empty name
// gives the defaults. Unknown keys are an error.
func Load(name string) (*Config, error) {
	c := Default()
	if name == "" {
		return c, nil
	}
	md, err := toml.DecodeFile(name, c)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		var keys []string
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, errors.Errorf("%s: unknown settings %s", name, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, name)
	}
	return c, nil
}

// Validate checks the settings make sense together.
func (c *Config) Validate() error {
	if c.State == "" {
		return errors.New("state must be set")
	}
	if c.Parallel < 1 {
		return errors.Errorf("parallel must be at least 1, not %d", c.Parallel)
	}
	if c.Retries < 1 {
		return errors.Errorf("retries must be at least 1, not %d", c.Retries)
	}
	if c.Download.Limit < 0 {
		return errors.New("download limit cannot be negative")
	}
	switch strings.ToLower(c.History.Kind) {
	case "", "ql", "sqlite", "sqlite3", "mysql":
	default:
		return errors.Errorf("unknown history database %q", c.History.Kind)
	}
	switch c.Update.SlotMatch {
	case "", update.SlotName, update.SlotClass:
	default:
		return errors.Errorf("unknown slot match %q", c.Update.SlotMatch)
	}
	for name, r := range c.Installers {
		if len(r.Classes) == 0 {
			return errors.Errorf("installer mode %q selects no classes", name)
		}
	}
	rules := c.Rules()
	if _, ok := rules[c.Update.Installers]; !ok {
		var names []string
		for k := range rules {
			names = append(names, k)
		}
		sort.Strings(names)
		return errors.Errorf("unknown installer mode %q, expected one of %v", c.Update.Installers, names)
	}
	return nil
}

// Rules returns the installer modes: the built in ones plus those in the
// file, which replace built in ones of the same name.
func (c *Config) Rules() map[string]update.InstallerRule {
	rules := make(map[string]update.InstallerRule, len(update.DefaultRules)+len(c.Installers))
	for k, v := range update.DefaultRules {
		rules[k] = v
	}
	for k, v := range c.Installers {
		rules[k] = v
	}
	return rules
}

// UpdateOptions returns the update options these settings give.
func (c *Config) UpdateOptions() update.Options {
	o := update.DefaultOptions()
	o.Platforms = c.Update.Platforms
	o.Languages = c.Update.Languages
	o.Installers = c.Update.Installers
	o.Rules = c.Rules()
	o.SkipHidden = c.Update.SkipHidden
	o.Checkpoint = c.Update.Checkpoint
	o.StrictDupe = c.Update.StrictDupe
	o.DupeMatch = c.Update.DupeMatch
	o.SlotMatch = c.Update.SlotMatch
	o.StrictExtrasUpdate = c.Update.StrictExtras
	o.LenientDownloadsUpdate = !c.Update.StrictSize
	o.NoChangelogs = !c.Update.Changelogs
	o.EmitChecksumFiles = c.Update.Checksums
	return o
}

// DownloadOptions returns the download options these settings give.
func (c *Config) DownloadOptions() download.Options {
	o := download.DefaultOptions()
	o.TargetDir = c.Download.TargetDir
	o.Platforms = c.Download.Platforms
	o.Languages = c.Download.Languages
	o.SkipFiles = c.Download.SkipFiles
	o.Limit = c.Download.Limit
	o.Covers = c.Download.Covers
	o.Backgrounds = c.Download.Backgrounds
	o.CleanOldImages = c.Download.CleanOldImages
	o.SkipPreallocation = c.Download.SkipPreallocation
	o.Quarantine = c.Download.Quarantine
	o.Parallel = c.Parallel
	o.MaxAttempts = c.Retries
	o.RetryDelay = c.RetryDelay.Duration
	return o
}
