package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	appErr "judged/pkg/errors"
)

// FetcherConfig bounds blob size and retry behaviour
type FetcherConfig struct {
	MaxBlobSize     int64         `yaml:"maxBlobSize"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	MaxElapsedTime  time.Duration `yaml:"maxElapsedTime"`
}

// Fetcher resolves opaque blob URLs against the object store with capped
// exponential retry on transient failures.
type Fetcher struct {
	store ObjectStorage
	cfg   FetcherConfig
}

// NewFetcher creates a Fetcher over the given object store.
func NewFetcher(store ObjectStorage, cfg FetcherConfig) *Fetcher {
	if cfg.MaxBlobSize <= 0 {
		cfg.MaxBlobSize = 64 << 20
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = 30 * time.Second
	}
	return &Fetcher{store: store, cfg: cfg}
}

// Fetch downloads the blob behind url and returns its bytes.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	bucket, object, err := splitURL(url)
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.InitialInterval
	bo.MaxInterval = f.cfg.MaxInterval
	bo.MaxElapsedTime = f.cfg.MaxElapsedTime

	var data []byte
	operation := func() error {
		size, err := f.store.StatObject(ctx, bucket, object)
		if err != nil {
			return err
		}
		if size > f.cfg.MaxBlobSize {
			return backoff.Permanent(appErr.Newf(appErr.BlobTooLarge,
				"blob %s is %d bytes, limit %d", url, size, f.cfg.MaxBlobSize))
		}
		data, err = f.store.GetObject(ctx, bucket, object)
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, appErr.Wrapf(err, appErr.BlobFetchFailed, "fetch %s failed", url)
	}
	return data, nil
}

// FetchWithHash downloads a blob and returns its SHA-256 content hash
// alongside the bytes.
func (f *Fetcher) FetchWithHash(ctx context.Context, url string) ([]byte, string, error) {
	data, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

// splitURL parses an opaque blob URL of the form [scheme://]bucket/object.
func splitURL(url string) (bucket, object string, err error) {
	trimmed := url
	if i := strings.Index(trimmed, "://"); i >= 0 {
		trimmed = trimmed[i+3:]
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", appErr.Newf(appErr.InvalidParams, "malformed blob url: %s", url)
	}
	return parts[0], parts[1], nil
}
