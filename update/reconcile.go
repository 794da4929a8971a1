package update

import (
	"log"
	"strings"

	"github.com/ndlib/shelfsync/catalog"
	"github.com/ndlib/shelfsync/ledger"
	"github.com/ndlib/shelfsync/manifest"
)

// Reasons a file is put on the worklist.
const (
	ReasonNew     = "new"     // not in the manifest before
	ReasonStale   = "stale"   // the remote file changed
	ReasonPending = "pending" // tracked but never downloaded
	ReasonVerify  = "verify"  // downloaded, to be checked again
)

// A WorkItem is one file which needs downloading or checking.
type WorkItem struct {
	TitleID string
	Title   string
	Folder  string
	File    manifest.File
	Reason  string
}

// A diff is the outcome of reconciling one title.
type diff struct {
	entry   manifest.Entry
	work    []WorkItem
	changed bool // files were added, replaced, or pruned
}

// reconcile merges the fresh variants of t into the existing entry old, which
// is the zero Entry for a new title.
func reconcile(old manifest.Entry, t catalog.Title, variants []catalog.FileVariant, o Options, l *ledger.Ledger) diff {
	d := diff{entry: manifest.Entry{
		ID:            t.ID,
		Title:         t.Name,
		Folder:        t.FolderName(),
		Hidden:        t.Hidden,
		CoverURL:      t.CoverURL,
		BackgroundURL: t.BackgroundURL,
	}}
	if !o.NoChangelogs {
		d.entry.Changelog = t.Changelog
	}

	used := make([]bool, len(old.Files))
	slots := make(map[catalog.Slot]bool)
	for _, v := range variants {
		slot := o.slot(v)
		if slots[slot] && !o.AllowDuplicateSlots {
			log.Printf("update: %s: second variant for %s %s %s %s ignored",
				t.ID, slot.Platform, slot.Language, slot.Class, v.Name)
			continue
		}
		slots[slot] = true

		f := manifest.File{FileVariant: v}
		reason := ReasonNew
		if i := matchOld(old.Files, used, v, o); i >= 0 {
			used[i] = true
			prev := old.Files[i]
			if variantChanged(prev.FileVariant, v, o) {
				// keep the old checksum until the replacement is verified
				f.LocalMD5 = prev.LocalMD5
				f.Stale = prev.LocalMD5 != ""
				reason = ReasonStale
				d.changed = true
			} else {
				f.LocalMD5 = prev.LocalMD5
				f.Stale = prev.Stale
				f.Verify = prev.Verify
				reason = ReasonPending
				if f.Stale {
					reason = ReasonStale
				}
			}
		} else {
			d.changed = true
		}
		switch {
		case f.Downloaded() && f.Verify:
			reason = ReasonVerify
		case f.Downloaded():
			reason = ""
		}
		if o.StrictVerify && f.Downloaded() {
			f.Verify = true
			reason = ReasonVerify
		}
		d.entry.Files = append(d.entry.Files, f)
		if reason != "" && !l.ContainsChecksum(v.MD5) {
			d.work = append(d.work, WorkItem{
				TitleID: t.ID,
				Title:   t.Name,
				Folder:  d.entry.Folder,
				File:    f,
				Reason:  reason,
			})
		}
	}

	// files the remote store no longer offers
	for i, f := range old.Files {
		if used[i] {
			continue
		}
		if f.Class == catalog.Extra && !o.StrictExtrasUpdate {
			d.entry.Files = append(d.entry.Files, f)
			continue
		}
		log.Printf("update: %s: %s is gone from the remote store", t.ID, f.Name)
		d.changed = true
	}
	return d
}

// matchOld finds the record for v in files, preferring one with the same
// identifier. It returns -1 if there is none.
func matchOld(files []manifest.File, used []bool, v catalog.FileVariant, o Options) int {
	slot := o.slot(v)
	found := -1
	for i := range files {
		if used[i] || o.slot(files[i].FileVariant) != slot {
			continue
		}
		if files[i].ID == v.ID {
			return i
		}
		if found < 0 {
			found = i
		}
	}
	return found
}

// variantChanged reports whether the remote file cur differs from the one
// recorded as old.
func variantChanged(old, cur catalog.FileVariant, o Options) bool {
	if old.MD5 != "" && cur.MD5 != "" {
		if !strings.EqualFold(old.MD5, cur.MD5) {
			return true
		}
	} else if old.Size != cur.Size {
		// nothing better to compare
		return true
	}
	strict := !o.LenientDownloadsUpdate
	if cur.Class == catalog.Extra {
		strict = o.StrictExtrasUpdate
	}
	return strict && (old.Size != cur.Size || old.Version != cur.Version)
}

// selectVariants applies the installer rule and, with StrictDupe, drops
// variants duplicating the content of one taken earlier.
func selectVariants(t catalog.Title, rule InstallerRule, o Options) []catalog.FileVariant {
	var result []catalog.FileVariant
	seen := make(map[string]bool)
	for _, v := range t.Variants {
		if !rule.Select(v) {
			continue
		}
		if o.StrictDupe && v.MD5 != "" {
			key := strings.ToLower(v.MD5)
			if o.DupeMatch == DupeChecksumSlot {
				key += "|" + v.Platform + "|" + v.Language + "|" + v.Class
			}
			if seen[key] {
				log.Printf("update: %s: %s duplicates another file, rejected", t.ID, v.Name)
				continue
			}
			seen[key] = true
		}
		result = append(result, v)
	}
	return result
}
