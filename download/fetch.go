package download

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/getsentry/raven-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/manifest"
	"github.com/ndlib/shelfsync/transfer"
	"github.com/ndlib/shelfsync/util"
)

func folderOf(t Task) string {
	return filepath.Dir(t.Dest)
}

// adoptable reports whether a file matching the remote checksum is already
// at the destination, as when files are copied in by hand.
func (r *run) adoptable(t Task) (string, bool) {
	if t.File.MD5 == "" {
		return "", false
	}
	fi, err := os.Stat(t.Dest)
	if err != nil || (t.File.Size > 0 && fi.Size() != t.File.Size) {
		return "", false
	}
	sum, _, err := util.FileMD5(t.Dest)
	if err != nil || !util.MD5Equal(t.File.MD5, sum) {
		return "", false
	}
	log.Printf("download: %s is already in place", t.Dest)
	return sum, true
}

// transfer fetches the file into its partial file, continuing from the bytes
// already there unless resuming is off or the server cannot do ranges. It
// returns the number of bytes transferred.
func (r *run) transfer(ctx context.Context, t Task) (int64, error) {
	var offset int64
	if r.o.ResumeMode == NoResume {
		if err := os.Remove(t.Partial); err != nil && !os.IsNotExist(err) {
			return 0, err
		}
	} else if fi, err := os.Stat(t.Partial); err == nil {
		offset = fi.Size()
	}
	if offset > 0 {
		info, err := r.Fetcher.Head(ctx, t.File.URL)
		if err != nil {
			return 0, err
		}
		switch {
		case !info.AcceptRanges:
			log.Printf("download: %s: server cannot resume, starting over", t.Dest)
			offset = 0
		case info.Size >= 0 && offset > info.Size:
			log.Printf("download: %s: partial file is longer than the remote one, starting over", t.Dest)
			offset = 0
		case info.Size >= 0 && offset == info.Size:
			// everything is here, it only needs checking
			return 0, nil
		}
	}

	flag := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(t.Partial, flag, 0644)
	if err != nil {
		return 0, err
	}
	n, err := r.write(ctx, f, t, offset)
	err2 := f.Close()
	if err == nil {
		err = err2
	}
	return n, err
}

func (r *run) write(ctx context.Context, f *os.File, t Task, offset int64) (int64, error) {
	if !r.o.SkipPreallocation && t.File.Size > 0 {
		if err := r.reserve(f, filepath.Dir(t.Partial), offset, t.File.Size); err != nil {
			return 0, err
		}
	}
	resp, err := r.Fetcher.Get(ctx, t.File.URL, offset)
	if errors.Is(err, transfer.ErrRangeNotSatisfiable) {
		log.Printf("download: %s: range refused, starting over", t.Dest)
		offset = 0
		resp, err = r.Fetcher.Get(ctx, t.File.URL, 0)
	}
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.Offset != offset {
		// the server ignored the range
		offset = resp.Offset
	}
	if err := f.Truncate(offset); err != nil {
		return 0, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r.limiter.WrapContext(ctx, resp.Body))
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		// the partial file keeps what arrived
		return n, &transfer.TransientError{URL: t.File.URL, Err: err}
	}
	if err := f.Sync(); err != nil {
		return n, err
	}
	return n, nil
}

// check hashes the file at path and compares it with the remote checksum and
// size. On a mismatch the file is deleted or quarantined and an
// *IntegrityError returned. It returns the checksum.
func (r *run) check(path string, want manifest.File) (string, error) {
	sum, size, err := util.FileMD5(path)
	if err != nil {
		return "", err
	}
	sizeOK := want.Size <= 0 || size == want.Size
	if util.MD5Equal(want.MD5, sum) && sizeOK {
		return sum, nil
	}
	ie := &IntegrityError{Path: path, Got: sum, Size: size}
	if !util.MD5Equal(want.MD5, sum) {
		ie.Expected = want.MD5
	}
	if r.o.Quarantine {
		ie.Quarantined, err = r.quarantine(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		// a bad file we could not get rid of
		raven.CaptureError(err, map[string]string{"path": path})
		return "", errors.Wrapf(err, "removing %s after %v", path, ie)
	}
	return "", ie
}

// quarantine moves a bad file to the quarantine directory.
func (r *run) quarantine(path string) (string, error) {
	dir := filepath.Join(r.o.TargetDir, QuarantineDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	target := filepath.Join(dir, uuid.New().String()+"-"+filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	log.Printf("download: moved %s to %s", path, target)
	return target, nil
}
