package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.contentType = aws.ToString(in.ContentType)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_Archive(t *testing.T) {
	fp := &fakePutter{}
	a := NewS3Archiver(fp, "audit", "/batch-results/")

	if err := a.Archive(context.Background(), "b-42", []byte("raw")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp.bucket != "audit" || fp.key != "batch-results/b-42.tar.gz" {
		t.Fatalf("unexpected destination %s/%s", fp.bucket, fp.key)
	}
	if string(fp.body) != "raw" || fp.contentType != "application/gzip" {
		t.Fatalf("unexpected object body=%q type=%q", fp.body, fp.contentType)
	}
}

func TestS3Archiver_KeyWithoutPrefix(t *testing.T) {
	if got := NewS3Archiver(&fakePutter{}, "b", "").Key("x"); got != "x.tar.gz" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestS3Archiver_PropagatesErrors(t *testing.T) {
	a := NewS3Archiver(&fakePutter{err: errors.New("access denied")}, "b", "p")
	if err := a.Archive(context.Background(), "x", nil); err == nil {
		t.Fatal("expected error")
	}
}
