package store

import (
	"bytes"
	"io"
	"log"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	raven "github.com/getsentry/raven-go"
)

// A S3 store represents a store that is kept on AWS S3 storage. It is meant
// for the small state documents this program keeps, so values are read and
// written whole. S3 replaces objects atomically, which gives the same
// all-or-nothing behavior as the FileSystem store.
//
// Do not change Bucket or Prefix concurrently with calls using the structure.
type S3 struct {
	svc    s3iface.S3API
	Bucket string
	Prefix string
}

var _ Store = &S3{}

// NewS3 creates a new S3 store. It will use the given bucket and will prepend
// prefix to all keys. This is to allow for a bucket to be used for more than
// one store. For example if prefix were "state/" then an Open("manifest.json")
// would look for the key "state/manifest.json" in the bucket. The
// authorization method and credentials in the session are used for all
// accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

// Open will return a ReadAtCloser holding the content for the given key.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	out, err := s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, 0, ErrNotFound
		}
		log.Println("S3 Open:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
		return nil, 0, err
	}
	defer out.Body.Close()
	var buf bytes.Buffer
	_, err = io.Copy(&buf, out.Body)
	if err != nil {
		return nil, 0, err
	}
	return nopCloser{bytes.NewReader(buf.Bytes())}, int64(buf.Len()), nil
}

// Create will return a WriteCloser to upload content to the given key. The
// data is buffered and sent with a single PUT when the writer is closed.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	return &s3WriteCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
	}, nil
}

// Delete will remove the given key from the store. The store's Prefix is
// prepended first. It is not an error to delete something that doesn't exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
	}
	return err
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

type s3WriteCloser struct {
	svc    s3iface.S3API
	bucket string
	key    string
	buf    bytes.Buffer
	closed bool
}

func (wc *s3WriteCloser) Write(p []byte) (int, error) {
	if wc.closed {
		return 0, errWriterClosed
	}
	return wc.buf.Write(p)
}

func (wc *s3WriteCloser) Close() error {
	if wc.closed {
		return errWriterClosed
	}
	wc.closed = true
	_, err := wc.svc.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(wc.bucket),
		Key:    aws.String(wc.key),
		Body:   bytes.NewReader(wc.buf.Bytes()),
	})
	if err != nil {
		log.Println("S3 Put:", wc.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": wc.bucket, "Key": wc.key})
	}
	return err
}
