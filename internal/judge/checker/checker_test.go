package checker

import (
	"context"
	"errors"
	"testing"

	"judged/internal/judge/model"
)

func TestExactMatch(t *testing.T) {
	c := New(nil, nil)
	tc := model.TestCase{ID: 1}

	tests := []struct {
		name     string
		expected string
		actual   string
		correct  bool
	}{
		{"identical", "42\n", "42\n", true},
		{"trailing whitespace ignored", "42", "42\n\n", true},
		{"leading whitespace ignored", "\n42", "42", true},
		{"different value", "42", "43", false},
		{"interior whitespace matters", "4 2", "42", false},
		{"both empty", "", "\n", true},
	}

	for _, tt := range tests {
		res := c.Check(context.Background(), tc, nil, []byte(tt.expected), []byte(tt.actual))
		if res.Correct != tt.correct {
			t.Errorf("%s: correct = %v, want %v", tt.name, res.Correct, tt.correct)
		}
		if res.Fallback {
			t.Errorf("%s: exact match must not report fallback", tt.name)
		}
	}
}

type failingFetcher struct{}

func (failingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return nil, errors.New("storage down")
}

func TestCheckerFaultFallsBackToExactMatch(t *testing.T) {
	c := New(failingFetcher{}, nil)
	tc := model.TestCase{ID: 1, CheckerURL: "checkers/p1.cpp"}

	res := c.Check(context.Background(), tc, nil, []byte("yes"), []byte("yes"))
	if !res.Correct {
		t.Error("fallback exact match should accept identical output")
	}
	if !res.Fallback {
		t.Error("checker fault must be reported as fallback")
	}

	res = c.Check(context.Background(), tc, nil, []byte("yes"), []byte("no"))
	if res.Correct {
		t.Error("fallback exact match should reject differing output")
	}
	if !res.Fallback {
		t.Error("checker fault must be reported as fallback")
	}
}

func TestTruncateBoundsCheckerMessage(t *testing.T) {
	long := make([]byte, maxCheckerMessage*2)
	for i := range long {
		long[i] = 'e'
	}
	if got := truncate(string(long)); len(got) != maxCheckerMessage {
		t.Errorf("truncated length = %d, want %d", len(got), maxCheckerMessage)
	}
	if got := truncate("short"); got != "short" {
		t.Errorf("short message mangled: %q", got)
	}
}
