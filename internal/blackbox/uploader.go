package blackbox

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectPutter is the slice of the S3 client the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader copies finished bundle directories into an S3 bucket under a
// configurable key prefix.
type S3Uploader struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Uploader resolves AWS credentials from the environment and returns an
// uploader targeting the given bucket.
func NewS3Uploader(ctx context.Context, bucket, prefix string) (*S3Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket must be provided")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Uploader{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

// newS3UploaderWithClient wires a pre-built client, used by tests.
func newS3UploaderWithClient(client objectPutter, bucket, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix}
}

// Upload stores every file in the bundle directory and returns the bundle's
// S3 location.
func (u *S3Uploader) Upload(ctx context.Context, dir string) (string, error) {
	if u == nil || u.client == nil {
		return "", fmt.Errorf("uploader not initialised")
	}
	base := filepath.Base(dir)
	//1.- Walk the bundle so manifests, events and frames upload together.
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		key := filepath.ToSlash(filepath.Join(u.prefix, base, rel))
		bucket := u.bucket
		_, putErr := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
			Body:   file,
		})
		if putErr != nil {
			return fmt.Errorf("put %s: %w", key, putErr)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, filepath.ToSlash(filepath.Join(u.prefix, base))), nil
}
