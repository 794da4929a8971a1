package download

import (
	"path/filepath"
	"strings"

	"github.com/ndlib/shelfsync/catalog"
	"github.com/ndlib/shelfsync/manifest"
)

// LocalNames returns the name each file of e is saved under, in the order of
// e.Files. Names which would collide, ignoring case, are told apart by the
// platform and language of the file, and then by its identifier. The result
// depends only on the files in the entry, not their order.
func LocalNames(e manifest.Entry) []string {
	names := make([]string, len(e.Files))
	for i, f := range e.Files {
		names[i] = catalog.FolderName(f.Name, f.ID)
	}
	qualify(names, e.Files, func(f manifest.File) string {
		return f.Platform + "_" + f.Language
	})
	qualify(names, e.Files, func(f manifest.File) string {
		return f.ID
	})
	return names
}

// qualify adds tag(f) to each name which is not unique.
func qualify(names []string, files []manifest.File, tag func(manifest.File) string) {
	count := make(map[string]int)
	for _, n := range names {
		count[strings.ToLower(n)]++
	}
	for i, n := range names {
		if count[strings.ToLower(n)] > 1 {
			names[i] = withTag(n, catalog.FolderName(tag(files[i]), "file"))
		}
	}
}

// withTag inserts tag before the extension of name.
func withTag(name, tag string) string {
	ext := filepath.Ext(name)
	if ext == name {
		ext = ""
	}
	return strings.TrimSuffix(name, ext) + "_" + tag + ext
}
