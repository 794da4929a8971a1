package store

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// fakeS3 keeps objects in a map. Only the calls the store makes are
// implemented.
type fakeS3 struct {
	s3iface.S3API
	m       sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) GetObject(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	f.m.Lock()
	defer f.m.Unlock()
	b, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(b)),
		ContentLength: aws.Int64(int64(len(b))),
	}, nil
}

func (f *fakeS3) PutObject(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.m.Lock()
	f.objects[*in.Bucket+"/"+*in.Key] = b
	f.m.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	f.m.Lock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	f.m.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Prefix(t *testing.T) {
	fake := &fakeS3{objects: make(map[string][]byte)}
	s := &S3{svc: fake, Bucket: "zoo", Prefix: "state/"}
	if _, _, err := s.Open("token.json"); err != ErrNotFound {
		t.Fatalf("Got %v, expected ErrNotFound", err)
	}
	if err := WriteAll(s, "token.json", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["zoo/state/token.json"]; !ok {
		t.Errorf("object not stored under prefix, have %v", fake.objects)
	}
	data, err := ReadAll(s, "token.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("Got %q", data)
	}
	if err := s.Delete("token.json"); err != nil {
		t.Error(err)
	}
	if len(fake.objects) != 0 {
		t.Errorf("objects remain after delete: %v", fake.objects)
	}
}
