package store

import (
	"path/filepath"
	"testing"
)

func TestSplitBucketPrefix(t *testing.T) {
	var table = []struct{ input, bucket, prefix string }{
		{"", "", ""},
		{"bucket", "bucket", ""},
		{"/bucket", "bucket", ""},
		{"bucket/and/a/prefix", "bucket", "and/a/prefix/"},
		{"bucket/trailing/", "bucket", "trailing/"},
	}
	for _, tab := range table {
		b, p := splitBucketPrefix(tab.input)
		if b != tab.bucket || p != tab.prefix {
			t.Errorf("splitBucketPrefix(%q) = (%q, %q), expected (%q, %q)",
				tab.input, b, p, tab.bucket, tab.prefix)
		}
	}
}

func TestParseLocation(t *testing.T) {
	dir := t.TempDir()
	var table = []struct {
		location string
		check    func(Store) bool
	}{
		{"", func(s Store) bool { _, ok := s.(*Memory); return ok }},
		{"memory", func(s Store) bool { _, ok := s.(*Memory); return ok }},
		{filepath.Join(dir, "a"), func(s Store) bool {
			fs, ok := s.(*FileSystem)
			return ok && fs.root == filepath.Join(dir, "a")
		}},
		{"file://" + filepath.Join(dir, "b"), func(s Store) bool {
			fs, ok := s.(*FileSystem)
			return ok && fs.root == filepath.Join(dir, "b")
		}},
		{"s3://bucket/some/prefix", func(s Store) bool {
			s3, ok := s.(*S3)
			return ok && s3.Bucket == "bucket" && s3.Prefix == "some/prefix/"
		}},
		{"s3://localhost:9000/zoo", func(s Store) bool {
			s3, ok := s.(*S3)
			return ok && s3.Bucket == "zoo" && s3.Prefix == ""
		}},
	}
	for _, tab := range table {
		s, err := ParseLocation(tab.location)
		if err != nil {
			t.Errorf("ParseLocation(%q): %v", tab.location, err)
			continue
		}
		if !tab.check(s) {
			t.Errorf("ParseLocation(%q) returned %#v", tab.location, s)
		}
	}
	if _, err := ParseLocation("ftp://host/x"); err == nil {
		t.Error("expected error for unknown scheme")
	}
	if _, err := ParseLocation("s3://"); err == nil {
		t.Error("expected error for missing bucket")
	}
}
