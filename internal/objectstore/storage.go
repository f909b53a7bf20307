// Package objectstore fetches videos kept in MinIO (or any S3-compatible
// store) so they can be fingerprinted from local disk.
package objectstore

import (
	"context"
	"fmt"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Scheme prefixes object URIs: s3://bucket/key.
const Scheme = "s3://"

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Storage downloads objects. Bucket is used for bare keys.
type Storage struct {
	client *miniogo.Client
	bucket string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the default bucket when it does not exist.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Fetch downloads the object named by ref to destPath. ref is either an
// s3://bucket/key URI or a key in the default bucket.
func (s *Storage) Fetch(ctx context.Context, ref, destPath string) error {
	bucket, key, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := s.client.FGetObject(ctx, bucket, key, destPath, miniogo.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Storage) resolve(ref string) (bucket, key string, err error) {
	if IsURI(ref) {
		return ParseURI(ref)
	}
	if s.bucket == "" {
		return "", "", fmt.Errorf("object key %q given without a default bucket", ref)
	}
	key = strings.TrimPrefix(ref, "/")
	if key == "" {
		return "", "", fmt.Errorf("empty object key")
	}
	return s.bucket, key, nil
}

// IsURI reports whether ref names an object rather than a local path.
func IsURI(ref string) bool {
	return strings.HasPrefix(ref, Scheme)
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return "", "", fmt.Errorf("object uri %q must start with %s", uri, Scheme)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("object uri %q must name a bucket and a key", uri)
	}
	return bucket, key, nil
}
