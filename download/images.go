package download

import (
	"context"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/catalog"
)

// Image files are named with these prefixes in the title folder.
const (
	CoverPrefix      = "cover_"
	BackgroundPrefix = "background_"
)

// ImageName returns the file name an image is saved under.
func ImageName(prefix, rawurl string) string {
	base := "image"
	if u, err := url.Parse(rawurl); err == nil {
		base = catalog.FolderName(path.Base(u.Path), base)
	}
	return prefix + base
}

// images fetches the covers and backgrounds asked for and removes the ones
// no entry refers to anymore. Files an entry tracks, and their partial files,
// are never removed whatever their names.
func (r *run) images(ctx context.Context, report *Report) {
	referenced := make(map[string]map[string]bool) // folder to file names
	for _, e := range r.Manifest.Entries() {
		folder := catalog.FolderName(e.Folder, e.ID)
		refs := referenced[folder]
		if refs == nil {
			refs = make(map[string]bool)
			referenced[folder] = refs
		}
		for _, name := range LocalNames(e) {
			refs[name] = true
			refs[name+PartialSuffix] = true
		}
		for _, img := range []struct {
			prefix, url string
			want        bool
		}{
			{CoverPrefix, e.CoverURL, r.o.Covers},
			{BackgroundPrefix, e.BackgroundURL, r.o.Backgrounds},
		} {
			if img.url == "" {
				continue
			}
			name := ImageName(img.prefix, img.url)
			refs[name] = true
			if !img.want || !r.o.wantTitle(e) {
				continue
			}
			target := filepath.Join(r.o.TargetDir, folder, name)
			fetched, err := r.fetchImage(ctx, img.url, target)
			if err != nil {
				log.Printf("download: %s: %v", target, err)
				report.Errors = append(report.Errors, errors.Wrapf(err, "image %s", target))
			} else if fetched {
				report.Images = append(report.Images, target)
			}
		}
	}
	if r.o.CleanOldImages {
		report.Removed = r.cleanImages(referenced)
	}
}

// fetchImage saves the image at rawurl as target unless it is already there.
func (r *run) fetchImage(ctx context.Context, rawurl, target string) (bool, error) {
	if _, err := os.Stat(target); err == nil {
		return false, nil
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, err
	}
	resp, err := r.Fetcher.Get(ctx, rawurl, 0)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	f, err := os.CreateTemp(dir, ".image-*")
	if err != nil {
		return false, err
	}
	_, err = io.Copy(f, r.limiter.WrapContext(ctx, resp.Body))
	err2 := f.Close()
	if err == nil {
		err = err2
	}
	if err == nil {
		err = os.Rename(f.Name(), target)
	}
	if err != nil {
		os.Remove(f.Name())
		return false, err
	}
	return true, nil
}

// cleanImages removes cover and background files in the title folders which
// are not referenced. It returns the removed paths.
func (r *run) cleanImages(referenced map[string]map[string]bool) []string {
	dirs, err := os.ReadDir(r.o.TargetDir)
	if err != nil {
		log.Println("download: cleaning images:", err)
		return nil
	}
	var removed []string
	for _, d := range dirs {
		if !d.IsDir() || d.Name() == QuarantineDir {
			continue
		}
		files, err := os.ReadDir(filepath.Join(r.o.TargetDir, d.Name()))
		if err != nil {
			log.Println("download: cleaning images:", err)
			continue
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || referenced[d.Name()][name] {
				continue
			}
			if !strings.HasPrefix(name, CoverPrefix) && !strings.HasPrefix(name, BackgroundPrefix) {
				continue
			}
			p := filepath.Join(r.o.TargetDir, d.Name(), name)
			if err := os.Remove(p); err != nil {
				log.Println("download: cleaning images:", err)
				continue
			}
			log.Printf("download: removed old image %s", p)
			removed = append(removed, p)
		}
	}
	return removed
}
