// Package s3store keeps node content in an S3 bucket, one object per node.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/chirino/node-service/internal/config"
	registryblob "github.com/chirino/node-service/internal/registry/blob"
	registryrepo "github.com/chirino/node-service/internal/registry/repo"
)

func init() {
	registryblob.Register(registryblob.Plugin{
		Name:   "s3",
		Loader: load,
	})
}

func load(ctx context.Context) (registryblob.BlobStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3store: S3_BUCKET is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}
	usePathStyle := cfg.S3UsePathStyle
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})
	return &S3BlobStore{
		client: client,
		bucket: cfg.S3Bucket,
		prefix: strings.Trim(strings.TrimSpace(cfg.S3Prefix), "/"),
	}, nil
}

type S3BlobStore struct {
	client *s3.Client
	bucket string
	prefix string
}

func (s *S3BlobStore) Name() string { return "s3" }

// s3Key applies the configured prefix at access time. The bare node uuid is
// what callers hold; the prefix is never persisted.
func (s *S3BlobStore) s3Key(uuid string) string {
	if s.prefix != "" {
		return s.prefix + "/" + uuid
	}
	return uuid
}

func (s *S3BlobStore) Put(ctx context.Context, uuid string, data io.Reader) error {
	key := s.s3Key(uuid)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("s3store: put object: %w", err)
	}
	return nil
}

func (s *S3BlobStore) Get(ctx context.Context, uuid string) (io.ReadCloser, error) {
	key := s.s3Key(uuid)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &registryrepo.NotFoundError{Resource: "blob", ID: uuid}
		}
		return nil, fmt.Errorf("s3store: get object: %w", err)
	}
	return out.Body, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, uuid string) error {
	key := s.s3Key(uuid)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("s3store: delete object: %w", err)
	}
	return nil
}
