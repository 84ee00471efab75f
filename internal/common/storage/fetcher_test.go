package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	appErr "judged/pkg/errors"
)

type flakyStore struct {
	failures int
	calls    int
	data     []byte
}

func (s *flakyStore) GetObject(ctx context.Context, bucket, object string) ([]byte, error) {
	return s.data, nil
}

func (s *flakyStore) StatObject(ctx context.Context, bucket, object string) (int64, error) {
	s.calls++
	if s.calls <= s.failures {
		return 0, errors.New("transient i/o error")
	}
	return int64(len(s.data)), nil
}

func (s *flakyStore) Ping(ctx context.Context) error { return nil }

func fastConfig() FetcherConfig {
	return FetcherConfig{
		MaxBlobSize:     1024,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{failures: 2, data: []byte("print(42)")}
	f := NewFetcher(store, fastConfig())

	data, err := f.Fetch(context.Background(), "submissions/1/main.py")
	if err != nil {
		t.Fatalf("fetch after transient failures: %v", err)
	}
	if string(data) != "print(42)" {
		t.Errorf("data = %q", data)
	}
	if store.calls != 3 {
		t.Errorf("stat calls = %d, want 3", store.calls)
	}
}

func TestFetchGivesUpEventually(t *testing.T) {
	store := &flakyStore{failures: 1 << 30}
	f := NewFetcher(store, fastConfig())

	_, err := f.Fetch(context.Background(), "submissions/1/main.py")
	if appErr.GetCode(err) != appErr.BlobFetchFailed {
		t.Errorf("got %v, want BlobFetchFailed", err)
	}
}

func TestFetchRejectsOversizedBlobWithoutRetry(t *testing.T) {
	store := &flakyStore{data: make([]byte, 2048)}
	f := NewFetcher(store, fastConfig())

	_, err := f.Fetch(context.Background(), "fixtures/huge.bin")
	if err == nil {
		t.Fatal("oversized blob must fail")
	}
	if store.calls != 1 {
		t.Errorf("oversize is permanent, stat calls = %d, want 1", store.calls)
	}
}

func TestFetchWithHash(t *testing.T) {
	store := &flakyStore{data: []byte("abc")}
	f := NewFetcher(store, fastConfig())

	_, hash, err := f.FetchWithHash(context.Background(), "fixtures/in1.txt")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if hash != want {
		t.Errorf("hash = %s, want %s", hash, want)
	}
}

func TestSplitURL(t *testing.T) {
	tests := []struct {
		url    string
		bucket string
		object string
		ok     bool
	}{
		{"submissions/42/main.py", "submissions", "42/main.py", true},
		{"minio://fixtures/p1/in1.txt", "fixtures", "p1/in1.txt", true},
		{"just-a-bucket", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		bucket, object, err := splitURL(tt.url)
		if tt.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tt.url, err)
			continue
		}
		if !tt.ok {
			if err == nil {
				t.Errorf("%q: expected error", tt.url)
			}
			continue
		}
		if bucket != tt.bucket || object != tt.object {
			t.Errorf("%q: got %s/%s, want %s/%s", tt.url, bucket, object, tt.bucket, tt.object)
		}
	}
}
