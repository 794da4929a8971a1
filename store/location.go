package store

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
)

// splitBucketPrefix will take a path and separate the bucket name from a
// prefix, if any. The prefix returned is either empty or ends with a slash.
//
// examples:
//
//	"" -> ("", "")
//	"bucket" -> ("bucket", "")
//	"bucket/and/a/prefix" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(location string) (bucket, prefix string) {
	if location == "" {
		return
	}
	location = strings.TrimPrefix(location, "/")
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = v[1]
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return
}

// ParseLocation will create an appropriate store based on location.
// It understands plain paths and "file:" URLs, "s3://bucket/prefix", and
// "memory" (or the empty string) for a store that is not persisted.
//
// An s3 URL may name an endpoint host with "s3://host/bucket/prefix" where
// host contains a dot or a port. Hosts on localhost use plain http and path
// style addressing for local development.
func ParseLocation(location string) (Store, error) {
	if location == "" || location == "memory" {
		return NewMemory(), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "", "file":
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		p = filepath.Clean(p)
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, err
		}
		return NewFileSystem(p), nil
	case "s3":
		conf := &aws.Config{}
		path := u.Path
		if strings.ContainsAny(u.Host, ".:") {
			conf.Endpoint = aws.String(u.Host)
			conf.Region = aws.String("us-east-1")
			if strings.Contains(u.Host, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		} else {
			path = u.Host + path
		}
		bucket, prefix := splitBucketPrefix(path)
		if bucket == "" {
			return nil, fmt.Errorf("no bucket name in location %s", location)
		}
		sess, err := session.NewSession(conf)
		if err != nil {
			return nil, err
		}
		return NewS3(bucket, prefix, sess), nil
	}
	return nil, fmt.Errorf("unknown location scheme %q", u.Scheme)
}
