package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Platforms a file variant may target. Any is used for files which work
// everywhere, like most extras.
const (
	Windows = "windows"
	Mac     = "mac"
	Linux   = "linux"
	Any     = "any"
)

// File classes.
const (
	Installer = "installer"
	Extra     = "extra"
	Patch     = "patch"
)

// Installer sources. Installers and patches come in several packagings.
const (
	Standalone = "standalone"
	Galaxy     = "galaxy"
	Shared     = "shared"
)

// A Title is one owned product in the remote catalog.
type Title struct {
	ID            string
	Name          string // remote title, usually slug-like with underscores
	Hidden        bool   // hidden by the user in the remote library
	Updated       bool   // the remote store flags this title as having updates
	CoverURL      string
	BackgroundURL string
	Changelog     string
	Variants      []FileVariant // empty until the details are fetched
}

// FolderName returns the directory name files for this title are kept in.
func (t Title) FolderName() string {
	return FolderName(t.Name, t.ID)
}

// DisplayName returns the title as it should be shown to a person.
func (t Title) DisplayName() string {
	return DisplayName(t.Name)
}

// A FileVariant is one downloadable file of a title.
type FileVariant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Platform    string `json:"platform"`
	Language    string `json:"language"`
	Class       string `json:"class"`
	Source      string `json:"source,omitempty"`
	MD5         string `json:"md5,omitempty"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
	ChecksumURL string `json:"checksum_url,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Slot identifies a variant within its title.
type Slot struct {
	Platform string
	Language string
	Class    string
	Name     string
}

// Slot returns the identity of this variant within its title.
func (v FileVariant) Slot() Slot {
	return Slot{
		Platform: v.Platform,
		Language: v.Language,
		Class:    v.Class,
		Name:     v.Name,
	}
}

// DisplayName converts a remote title like "the_witcher_2" into
// "The Witcher 2".
func DisplayName(name string) string {
	s := strings.ReplaceAll(name, "_", " ")
	return cases.Title(language.English).String(s)
}

// FolderName makes a name safe to use as a single directory name on the
// common filesystems. If nothing usable remains, fallback is used.
func FolderName(name, fallback string) string {
	name = norm.NFC.String(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), " .")
	if s == "" {
		return fallback
	}
	return s
}
