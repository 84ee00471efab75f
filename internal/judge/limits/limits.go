package limits

import (
	"context"
	"fmt"

	"judged/internal/judge/model"
)

// Policy floors are fixed; ceilings come from configuration.
const (
	MinTimeLimitMs   = 100
	MinMemoryLimitKB = 1024
)

// Policy is the process-wide resource envelope
type Policy struct {
	DefaultTimeLimitMs   int `yaml:"defaultTimeLimitMs"`
	DefaultMemoryLimitKB int `yaml:"defaultMemoryLimitKb"`
	MaxTimeLimitMs       int `yaml:"maxTimeLimitMs"`
	MaxMemoryLimitKB     int `yaml:"maxMemoryLimitKb"`
}

// Severity of a limit adjustment.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue records one clamp applied to a requested limit.
type Issue struct {
	Field    string
	Severity Severity
	Message  string
}

// ProblemLimitsSource resolves a problem's declared limits. The catalog
// client implements it.
type ProblemLimitsSource interface {
	GetProblemLimits(ctx context.Context, problemID int64) (model.ResourceLimits, error)
}

// Validator clamps requested limits into the policy envelope.
type Validator struct {
	policy  Policy
	catalog ProblemLimitsSource
}

// NewValidator creates a Validator. catalog may be nil; resolution then
// relies on the request and the configured defaults alone.
func NewValidator(policy Policy, catalog ProblemLimitsSource) *Validator {
	return &Validator{policy: policy, catalog: catalog}
}

// Resolve computes the effective submission-level limits. The problem's
// declared limits take precedence over the request when the catalog is
// reachable; configured defaults fill any gaps. The result is always
// clamped into [MinTimeLimitMs, MaxTimeLimitMs] x [MinMemoryLimitKB,
// MaxMemoryLimitKB]. Adjustments above the ceiling are errors, below the
// floor warnings.
func (v *Validator) Resolve(ctx context.Context, problemID int64, requestedTimeMs, requestedMemoryKB int) (model.ResourceLimits, []Issue) {
	timeMs := requestedTimeMs
	memKB := requestedMemoryKB

	if v.catalog != nil {
		if declared, err := v.catalog.GetProblemLimits(ctx, problemID); err == nil {
			if declared.TimeLimitMs > 0 {
				timeMs = declared.TimeLimitMs
			}
			if declared.MemoryLimitKB > 0 {
				memKB = declared.MemoryLimitKB
			}
		}
	}

	if timeMs <= 0 {
		timeMs = v.policy.DefaultTimeLimitMs
	}
	if memKB <= 0 {
		memKB = v.policy.DefaultMemoryLimitKB
	}

	return v.clamp(timeMs, memKB)
}

// ForTestCase overrides the base limits with the test case's own when those
// are positive, re-clamping the result.
func (v *Validator) ForTestCase(base model.ResourceLimits, tc model.TestCase) (model.ResourceLimits, []Issue) {
	timeMs := base.TimeLimitMs
	memKB := base.MemoryLimitKB
	if tc.TimeLimitMs > 0 {
		timeMs = tc.TimeLimitMs
	}
	if tc.MemoryLimitKB > 0 {
		memKB = tc.MemoryLimitKB
	}
	return v.clamp(timeMs, memKB)
}

func (v *Validator) clamp(timeMs, memKB int) (model.ResourceLimits, []Issue) {
	var issues []Issue

	if timeMs < MinTimeLimitMs {
		issues = append(issues, Issue{
			Field:    "time_limit_ms",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("time limit %d ms below floor, raised to %d ms", timeMs, MinTimeLimitMs),
		})
		timeMs = MinTimeLimitMs
	}
	if v.policy.MaxTimeLimitMs > 0 && timeMs > v.policy.MaxTimeLimitMs {
		issues = append(issues, Issue{
			Field:    "time_limit_ms",
			Severity: SeverityError,
			Message:  fmt.Sprintf("time limit %d ms above ceiling, lowered to %d ms", timeMs, v.policy.MaxTimeLimitMs),
		})
		timeMs = v.policy.MaxTimeLimitMs
	}

	if memKB < MinMemoryLimitKB {
		issues = append(issues, Issue{
			Field:    "memory_limit_kb",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("memory limit %d kb below floor, raised to %d kb", memKB, MinMemoryLimitKB),
		})
		memKB = MinMemoryLimitKB
	}
	if v.policy.MaxMemoryLimitKB > 0 && memKB > v.policy.MaxMemoryLimitKB {
		issues = append(issues, Issue{
			Field:    "memory_limit_kb",
			Severity: SeverityError,
			Message:  fmt.Sprintf("memory limit %d kb above ceiling, lowered to %d kb", memKB, v.policy.MaxMemoryLimitKB),
		})
		memKB = v.policy.MaxMemoryLimitKB
	}

	return model.ResourceLimits{TimeLimitMs: timeMs, MemoryLimitKB: memKB}, issues
}
