package download

import (
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/catalog"
	"github.com/ndlib/shelfsync/manifest"
)

// Task actions.
const (
	ActionFetch  = "fetch"  // transfer the file
	ActionVerify = "verify" // check the file already on disk
)

// A Task is one file to download or check. Tasks are never persisted. How
// much of a file is already transferred is read from the partial file when
// the task runs.
type Task struct {
	TitleID string
	Title   string
	Folder  string
	File    manifest.File
	Dest    string // final path
	Partial string // where the file is written until it is verified
	Action  string
}

// PartialSuffix is added to the final path to name the partial file.
const PartialSuffix = ".part"

// Plan loads the manifest and ledger and returns the tasks needed to bring
// the target directory up to date. Titles in the ledger, and files or titles
// the options leave out, get no tasks.
func (e *Engine) Plan(o Options) ([]Task, error) {
	if o.TargetDir == "" {
		return nil, errors.New("no target directory")
	}
	if _, err := e.Manifest.Load(); err != nil {
		var ce *manifest.CorruptError
		if !errors.As(err, &ce) {
			return nil, err
		}
		log.Println("download: warning:", err)
	}
	if err := e.Ledger.Load(); err != nil {
		return nil, err
	}
	var tasks []Task
	for _, entry := range e.Manifest.Entries() {
		if !o.wantTitle(entry) || e.Ledger.ContainsTitle(entry.ID) {
			continue
		}
		// names from the remote store must not escape the target directory
		folder := catalog.FolderName(entry.Folder, entry.ID)
		names := LocalNames(entry)
		for i, f := range entry.Files {
			if !o.wantFile(f) || e.Ledger.ContainsChecksum(f.MD5) {
				continue
			}
			t := Task{
				TitleID: entry.ID,
				Title:   entry.Title,
				Folder:  folder,
				File:    f,
				Dest:    filepath.Join(o.TargetDir, folder, names[i]),
				Action:  ActionFetch,
			}
			t.Partial = t.Dest + PartialSuffix
			if f.Downloaded() {
				if _, err := os.Stat(t.Dest); err == nil {
					if !f.Verify {
						continue
					}
					t.Action = ActionVerify
				}
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}
