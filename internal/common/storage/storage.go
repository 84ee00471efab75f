package storage

import "context"

// ObjectStorage is the blob-service contract: opaque URLs in, bytes out.
type ObjectStorage interface {
	GetObject(ctx context.Context, bucket, object string) ([]byte, error)
	StatObject(ctx context.Context, bucket, object string) (int64, error)
	Ping(ctx context.Context) error
}
