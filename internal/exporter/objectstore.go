package exporter

import (
	"context"
	"net/url"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/denhq/control-plane/internal/apperrors"
)

// ObjectStore hands out pre-signed URLs for export artifacts. The control
// plane never streams artifact bytes itself; the node agent uploads straight
// to storage and users download straight from it.
type ObjectStore interface {
	PresignedPut(ctx context.Context, objectKey string, expires time.Duration) (string, error)
	PresignedGet(ctx context.Context, objectKey string, expires time.Duration) (string, error)
	Remove(ctx context.Context, objectKey string) error
}

// S3Config configures the S3-compatible bucket exports are written to.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// S3Store is an ObjectStore over any S3-compatible endpoint (R2, MinIO, S3).
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store creates an object store client.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       "auto",
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, apperrors.Internal("creating object store client").WithCause(err)
	}
	return &S3Store{client: cli, bucket: cfg.Bucket}, nil
}

func (s *S3Store) PresignedPut(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, expires)
	if err != nil {
		return "", apperrors.Upstream("presigning upload").WithCause(err)
	}
	return u.String(), nil
}

func (s *S3Store) PresignedGet(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, expires, url.Values{})
	if err != nil {
		return "", apperrors.Upstream("presigning download").WithCause(err)
	}
	return u.String(), nil
}

func (s *S3Store) Remove(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return apperrors.Upstream("removing object").WithCause(err)
	}
	return nil
}
