package checker

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"

	"judged/internal/judge/model"
	"judged/internal/judge/sandbox"
	appErr "judged/pkg/errors"
	"judged/pkg/utils/logger"
)

// maxCheckerMessage bounds the checker stderr carried into the test result.
const maxCheckerMessage = 1024

// checkerLang runs a custom checker with the three files the convention
// prescribes: input, expected, actual.
var checkerLang = sandbox.Language{
	ID:         "checker",
	Name:       "checker",
	SourceFile: "checker.cpp",
	Executable: "checker",
	CompileCmd: "/usr/bin/g++ -O2 -std=c++17 -o {output} {input}",
	ExecuteCmd: "./{executable} input.txt expected.txt actual.txt",
}

var checkerLimits = model.ResourceLimits{
	TimeLimitMs:   10000,
	MemoryLimitKB: 256 * 1024,
}

// BlobFetcher fetches the checker program source.
type BlobFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// BoxProvider hands out sandbox boxes for checker runs.
type BoxProvider interface {
	Acquire(ctx context.Context) (*sandbox.Box, error)
}

// Result of one output check.
type Result struct {
	Correct  bool
	Message  string
	Fallback bool // a checker fault forced exact-match fallback
}

// Checker decides output correctness: trimmed exact match, or a custom
// checker program run in the sandbox when the test case names one.
type Checker struct {
	fetcher BlobFetcher
	boxes   BoxProvider
}

// New creates a Checker. fetcher and boxes may be nil when no test case in
// the deployment carries a checker URL.
func New(fetcher BlobFetcher, boxes BoxProvider) *Checker {
	return &Checker{fetcher: fetcher, boxes: boxes}
}

// Check compares actual output against expected for one test case. Any
// fault in the custom checker path falls back to exact match; the verdict
// is never IE for a checker fault alone.
func (c *Checker) Check(ctx context.Context, tc model.TestCase, input, expected, actual []byte) Result {
	if tc.CheckerURL == "" {
		return exactMatch(expected, actual)
	}

	res, err := c.runCustom(ctx, tc, input, expected, actual)
	if err != nil {
		logger.Warn(ctx, "custom checker failed, falling back to exact match",
			zap.Int64("test_case_id", tc.ID), zap.Error(err))
		fallback := exactMatch(expected, actual)
		fallback.Fallback = true
		return fallback
	}
	return res
}

func (c *Checker) runCustom(ctx context.Context, tc model.TestCase, input, expected, actual []byte) (Result, error) {
	if c.fetcher == nil || c.boxes == nil {
		return Result{}, appErr.New(appErr.CheckerFailed).WithMessage("checker support not configured")
	}

	source, err := c.fetcher.Fetch(ctx, tc.CheckerURL)
	if err != nil {
		return Result{}, appErr.Wrap(err, appErr.CheckerFailed)
	}

	box, err := c.boxes.Acquire(ctx)
	if err != nil {
		return Result{}, appErr.Wrap(err, appErr.CheckerFailed)
	}
	defer box.Release()

	compile, err := box.Compile(ctx, checkerLang, source, 30*time.Second)
	if err != nil {
		return Result{}, appErr.Wrap(err, appErr.CheckerFailed)
	}
	if !compile.OK {
		return Result{}, appErr.Newf(appErr.CheckerFailed, "checker compile failed: %s", truncate(compile.Stderr))
	}

	for name, data := range map[string][]byte{
		"input.txt":    input,
		"expected.txt": expected,
		"actual.txt":   actual,
	} {
		if err := box.WriteFile(name, data); err != nil {
			return Result{}, appErr.Wrap(err, appErr.CheckerFailed)
		}
	}

	run, err := box.Execute(ctx, checkerLang, nil, checkerLimits)
	if err != nil {
		return Result{}, appErr.Wrap(err, appErr.CheckerFailed)
	}
	if run.Verdict == model.VerdictIE || run.Verdict == model.VerdictTLE || run.Verdict == model.VerdictMLE {
		return Result{}, appErr.Newf(appErr.CheckerFailed, "checker run ended with %s", run.Verdict)
	}

	return Result{
		Correct: run.ExitCode == 0,
		Message: truncate(run.Stderr),
	}, nil
}

func exactMatch(expected, actual []byte) Result {
	if bytes.Equal(bytes.TrimSpace(expected), bytes.TrimSpace(actual)) {
		return Result{Correct: true}
	}
	return Result{Correct: false, Message: "output mismatch"}
}

func truncate(s string) string {
	if len(s) > maxCheckerMessage {
		return s[:maxCheckerMessage]
	}
	return s
}
