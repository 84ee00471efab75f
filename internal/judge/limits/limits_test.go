package limits

import (
	"context"
	"errors"
	"testing"

	"judged/internal/judge/model"
)

var testPolicy = Policy{
	DefaultTimeLimitMs:   1000,
	DefaultMemoryLimitKB: 262144,
	MaxTimeLimitMs:       10000,
	MaxMemoryLimitKB:     524288,
}

type fakeLimitsSource struct {
	limits model.ResourceLimits
	err    error
}

func (f *fakeLimitsSource) GetProblemLimits(ctx context.Context, problemID int64) (model.ResourceLimits, error) {
	return f.limits, f.err
}

func TestResolveClampCeiling(t *testing.T) {
	v := NewValidator(testPolicy, nil)

	got, issues := v.Resolve(context.Background(), 1, 60000, 1<<20)
	if got.TimeLimitMs != 10000 {
		t.Errorf("time = %d, want ceiling 10000", got.TimeLimitMs)
	}
	if got.MemoryLimitKB != 524288 {
		t.Errorf("memory = %d, want ceiling 524288", got.MemoryLimitKB)
	}

	errCount := 0
	for _, i := range issues {
		if i.Severity == SeverityError {
			errCount++
		}
	}
	if errCount != 2 {
		t.Errorf("above-ceiling clamps must be errors, got %+v", issues)
	}
}

func TestResolveClampFloor(t *testing.T) {
	v := NewValidator(testPolicy, nil)

	got, issues := v.Resolve(context.Background(), 1, 50, 512)
	if got.TimeLimitMs != MinTimeLimitMs {
		t.Errorf("time = %d, want floor %d", got.TimeLimitMs, MinTimeLimitMs)
	}
	if got.MemoryLimitKB != MinMemoryLimitKB {
		t.Errorf("memory = %d, want floor %d", got.MemoryLimitKB, MinMemoryLimitKB)
	}
	for _, i := range issues {
		if i.Severity != SeverityWarning {
			t.Errorf("below-floor clamp must be a warning: %+v", i)
		}
	}
}

func TestResolveCatalogWins(t *testing.T) {
	src := &fakeLimitsSource{limits: model.ResourceLimits{TimeLimitMs: 2000, MemoryLimitKB: 131072}}
	v := NewValidator(testPolicy, src)

	got, _ := v.Resolve(context.Background(), 1, 500, 65536)
	if got.TimeLimitMs != 2000 || got.MemoryLimitKB != 131072 {
		t.Errorf("declared limits must win over request, got %+v", got)
	}
}

func TestResolveCatalogUnreachableFallsBack(t *testing.T) {
	src := &fakeLimitsSource{err: errors.New("catalog down")}
	v := NewValidator(testPolicy, src)

	got, _ := v.Resolve(context.Background(), 1, 1500, 65536)
	if got.TimeLimitMs != 1500 || got.MemoryLimitKB != 65536 {
		t.Errorf("request values must survive catalog outage, got %+v", got)
	}

	// no request values either: configured defaults
	got, _ = v.Resolve(context.Background(), 1, 0, 0)
	if got.TimeLimitMs != 1000 || got.MemoryLimitKB != 262144 {
		t.Errorf("defaults must apply, got %+v", got)
	}
}

func TestForTestCasePrecedence(t *testing.T) {
	v := NewValidator(testPolicy, nil)
	base := model.ResourceLimits{TimeLimitMs: 1000, MemoryLimitKB: 262144}

	// positive per-case limits win
	got, _ := v.ForTestCase(base, model.TestCase{TimeLimitMs: 3000, MemoryLimitKB: 131072})
	if got.TimeLimitMs != 3000 || got.MemoryLimitKB != 131072 {
		t.Errorf("per-case limits must win, got %+v", got)
	}

	// zero per-case limits keep the base
	got, _ = v.ForTestCase(base, model.TestCase{})
	if got != base {
		t.Errorf("zero per-case limits must keep base, got %+v", got)
	}

	// per-case limits are still clamped
	got, issues := v.ForTestCase(base, model.TestCase{TimeLimitMs: 99999})
	if got.TimeLimitMs != 10000 {
		t.Errorf("per-case limit must clamp to ceiling, got %d", got.TimeLimitMs)
	}
	if len(issues) == 0 {
		t.Error("clamp must be recorded")
	}
}
