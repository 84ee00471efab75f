package storage

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	appErr "judged/pkg/errors"
)

// MinioConfig holds object store connection configuration
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
}

// MinioStorage implements ObjectStorage backed by a MinIO/S3 endpoint.
type MinioStorage struct {
	client *minio.Client
}

// NewMinioStorage creates a MinIO-backed object store client.
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.StorageUnavailable)
	}
	return &MinioStorage{client: client}, nil
}

func (s *MinioStorage) GetObject(ctx context.Context, bucket, object string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.BlobFetchFailed, "get %s/%s failed", bucket, object)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.BlobFetchFailed, "read %s/%s failed", bucket, object)
	}
	return data, nil
}

func (s *MinioStorage) StatObject(ctx context.Context, bucket, object string) (int64, error) {
	info, err := s.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.BlobFetchFailed, "stat %s/%s failed", bucket, object)
	}
	return info.Size, nil
}

func (s *MinioStorage) Ping(ctx context.Context) error {
	if _, err := s.client.ListBuckets(ctx); err != nil {
		return appErr.Wrap(err, appErr.StorageUnavailable)
	}
	return nil
}
