package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"judged/internal/common/cache"
	"judged/internal/judge/model"
	appErr "judged/pkg/errors"
)

func newTestStatusCache(t *testing.T) (*StatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStatusCache(cache.NewRedisCacheFromClient(client)), mr
}

func TestStatusCacheRoundTrip(t *testing.T) {
	sc, _ := newTestStatusCache(t)
	ctx := context.Background()

	err := sc.SetStatus(ctx, LiveStatus{
		SubmissionID: 42,
		Stage:        "running",
		Verdict:      model.VerdictPending,
		TestsDone:    2,
		TestsTotal:   5,
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := sc.GetStatus(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != "running" || got.TestsDone != 2 || got.TestsTotal != 5 {
		t.Errorf("snapshot = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updated_at not stamped")
	}
}

func TestStatusCacheMiss(t *testing.T) {
	sc, _ := newTestStatusCache(t)

	_, err := sc.GetStatus(context.Background(), 999)
	if appErr.GetCode(err) != appErr.CacheMiss {
		t.Errorf("got %v, want CacheMiss", err)
	}
}

func TestStatusCacheClear(t *testing.T) {
	sc, _ := newTestStatusCache(t)
	ctx := context.Background()

	if err := sc.SetStatus(ctx, LiveStatus{SubmissionID: 7, Stage: "finished", Verdict: model.VerdictAC}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := sc.ClearStatus(ctx, 7); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := sc.GetStatus(ctx, 7); appErr.GetCode(err) != appErr.CacheMiss {
		t.Errorf("got %v after clear, want CacheMiss", err)
	}
}

func TestStatusCacheExpiry(t *testing.T) {
	sc, mr := newTestStatusCache(t)
	ctx := context.Background()

	if err := sc.SetStatus(ctx, LiveStatus{SubmissionID: 8, Stage: "compiling"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	mr.FastForward(statusTTL * 2)
	if _, err := sc.GetStatus(ctx, 8); appErr.GetCode(err) != appErr.CacheMiss {
		t.Errorf("got %v after ttl, want CacheMiss", err)
	}
}
