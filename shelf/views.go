package shelf

import (
	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/ledger"
	"github.com/ndlib/shelfsync/manifest"
)

// A ManifestItem is one title of the manifest, for display.
type ManifestItem struct {
	ID       string     `json:"id" yaml:"id"`
	Title    string     `json:"title" yaml:"title"`
	Folder   string     `json:"folder" yaml:"folder"`
	Complete bool       `json:"complete" yaml:"complete"`
	Files    []FileItem `json:"files" yaml:"files"`
}

// A FileItem is one selected file of a title.
type FileItem struct {
	Name       string `json:"name" yaml:"name"`
	Platform   string `json:"platform" yaml:"platform"`
	Language   string `json:"language" yaml:"language"`
	Class      string `json:"class" yaml:"class"`
	Size       int64  `json:"size" yaml:"size"`
	MD5        string `json:"md5,omitempty" yaml:"md5,omitempty"`
	Downloaded bool   `json:"downloaded" yaml:"downloaded"`
	Stale      bool   `json:"stale,omitempty" yaml:"stale,omitempty"`
}

// A LedgerItem is one title of the downloaded ledger.
type LedgerItem struct {
	ID        string   `json:"id" yaml:"id"`
	Title     string   `json:"title,omitempty" yaml:"title,omitempty"`
	Checksums []string `json:"checksums,omitempty" yaml:"checksums,omitempty"`
}

func manifestItem(e manifest.Entry) ManifestItem {
	item := ManifestItem{
		ID:       e.ID,
		Title:    e.Title,
		Folder:   e.Folder,
		Complete: e.Complete(),
		Files:    []FileItem{},
	}
	for _, f := range e.Files {
		item.Files = append(item.Files, FileItem{
			Name:       f.Name,
			Platform:   f.Platform,
			Language:   f.Language,
			Class:      f.Class,
			Size:       f.Size,
			MD5:        f.MD5,
			Downloaded: f.Downloaded(),
			Stale:      f.Stale,
		})
	}
	return item
}

// ReadManifest returns the titles in the manifest, in manifest order. A
// corrupt manifest reads as empty, with the *manifest.CorruptError returned
// alongside.
func (lib *Library) ReadManifest() ([]ManifestItem, error) {
	entries, err := lib.Manifest.Load()
	var ce *manifest.CorruptError
	if err != nil && !errors.As(err, &ce) {
		return nil, err
	}
	result := []ManifestItem{}
	for _, e := range entries {
		result = append(result, manifestItem(e))
	}
	return result, err
}

// ReadDownloadedLedger returns the titles in the downloaded ledger, in the
// order they were added.
func (lib *Library) ReadDownloadedLedger() ([]LedgerItem, error) {
	if err := lib.Ledger.Load(); err != nil {
		return nil, err
	}
	result := []LedgerItem{}
	for _, e := range lib.Ledger.Entries() {
		result = append(result, LedgerItem{ID: e.ID, Title: e.Title, Checksums: e.Checksums})
	}
	return result, nil
}

// Available returns the manifest titles which are not in the downloaded
// ledger, neither by identifier nor by the checksum of any file.
func (lib *Library) Available() ([]ManifestItem, error) {
	entries, err := lib.Manifest.Load()
	var ce *manifest.CorruptError
	if err != nil && !errors.As(err, &ce) {
		return nil, err
	}
	if lerr := lib.Ledger.Load(); lerr != nil {
		return nil, lerr
	}
	result := []ManifestItem{}
	for _, e := range entries {
		if lib.owned(e) {
			continue
		}
		result = append(result, manifestItem(e))
	}
	return result, err
}

func (lib *Library) owned(e manifest.Entry) bool {
	if lib.Ledger.ContainsTitle(e.ID) {
		return true
	}
	for _, f := range e.Files {
		if lib.Ledger.ContainsChecksum(f.MD5) {
			return true
		}
	}
	return false
}

// MarkDownloaded adds a title to the downloaded ledger by hand, for titles
// obtained some other way. Later updates and downloads leave it alone.
func (lib *Library) MarkDownloaded(id, title string, checksums []string) error {
	if id == "" {
		return errors.New("no title identifier")
	}
	lib.runMu.Lock()
	defer lib.runMu.Unlock()
	if err := lib.Ledger.Load(); err != nil {
		return err
	}
	lib.Ledger.Add(ledger.Entry{ID: id, Title: title, Checksums: checksums})
	return lib.Ledger.Save()
}
