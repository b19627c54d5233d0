package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ResultArchiver keeps the raw result archive of a finished batch for audit.
// Archiving is best-effort: callers log failures and carry on reconciling.
type ResultArchiver interface {
	Archive(ctx context.Context, batchID string, raw []byte) error
}

// Nop discards archives. Used when no bucket is configured.
type Nop struct{}

func (Nop) Archive(context.Context, string, []byte) error { return nil }

// objectPutter is the slice of the S3 client the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each archive to {prefix}/{batchID}.tar.gz.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

func NewS3Archiver(client objectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// S3Options configures the client built by NewS3Client.
type S3Options struct {
	Region    string
	Endpoint  string // optional, for S3-compatible stores
	PathStyle bool
}

// NewS3Client loads the default AWS credential chain.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// Key returns the object key used for batchID.
func (a *S3Archiver) Key(batchID string) string {
	name := batchID + ".tar.gz"
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

func (a *S3Archiver) Archive(ctx context.Context, batchID string, raw []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(batchID)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

var (
	_ ResultArchiver = Nop{}
	_ ResultArchiver = (*S3Archiver)(nil)
	_ objectPutter   = (*s3.Client)(nil)
)
