package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"judged/internal/common/mq"
	"judged/internal/judge/breaker"
	"judged/internal/judge/checker"
	"judged/internal/judge/limits"
	"judged/internal/judge/model"
	"judged/internal/judge/repository"
	"judged/internal/judge/sandbox"
	"judged/internal/judge/validation"
	appErr "judged/pkg/errors"
	"judged/pkg/utils/contextkey"
	"judged/pkg/utils/logger"
)

const (
	defaultHeartbeatInterval = 10 * time.Second
	compileBudget            = 30 * time.Second
	maxCompileOutput         = 8 * 1024
)

// SubmissionStore persists verdicts and test results.
type SubmissionStore interface {
	FinalizeSubmission(ctx context.Context, sub *model.Submission) (bool, error)
	InsertTestResults(ctx context.Context, results []model.TestResult) error
}

// WorkerRegistry mirrors worker lifecycle into the worker table.
type WorkerRegistry interface {
	Register(ctx context.Context, name string) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status model.WorkerStatus, submissionID *int64, boxID *int) error
	Heartbeat(ctx context.Context, id int64) error
}

// ExecutionLogger appends audit lines.
type ExecutionLogger interface {
	Append(ctx context.Context, submissionID int64, level model.LogLevel, message string) error
}

// EventSink publishes post-commit events.
type EventSink interface {
	SubmissionJudged(ctx context.Context, ev model.SubmissionJudgedEvent) error
	CompilationFailed(ctx context.Context, ev model.CompilationFailedEvent) error
	EnqueuePlagiarism(ctx context.Context, req model.PlagiarismCheckRequest) error
}

// Catalog resolves a problem's test cases.
type Catalog interface {
	GetTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error)
}

// BlobFetcher downloads code and fixtures from object storage.
type BlobFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// OutputChecker decides test-case correctness.
type OutputChecker interface {
	Check(ctx context.Context, tc model.TestCase, input, expected, actual []byte) checker.Result
}

// SandboxBox is one acquired isolation box.
type SandboxBox interface {
	ID() int
	Compile(ctx context.Context, lang sandbox.Language, source []byte, budget time.Duration) (sandbox.CompileResult, error)
	Execute(ctx context.Context, lang sandbox.Language, stdin []byte, lim model.ResourceLimits) (sandbox.ExecResult, error)
	Release() error
}

// SandboxDriver hands out boxes and supports a health probe.
type SandboxDriver interface {
	Acquire(ctx context.Context) (SandboxBox, error)
	SelfTest(ctx context.Context) error
}

// IsolateDriver adapts the concrete isolate driver to SandboxDriver.
type IsolateDriver struct {
	*sandbox.Driver
}

func (d IsolateDriver) Acquire(ctx context.Context) (SandboxBox, error) {
	return d.Driver.Acquire(ctx)
}

// LimitsResolver computes effective resource limits.
type LimitsResolver interface {
	Resolve(ctx context.Context, problemID int64, timeMs, memKB int) (model.ResourceLimits, []limits.Issue)
	ForTestCase(base model.ResourceLimits, tc model.TestCase) (model.ResourceLimits, []limits.Issue)
}

// StatusSink records live judging progress. Optional.
type StatusSink interface {
	SetStatus(ctx context.Context, st repository.LiveStatus) error
	ClearStatus(ctx context.Context, submissionID int64) error
}

// Config wires one worker's dependencies
type Config struct {
	Name     string
	Broker   mq.Broker
	Registry WorkerRegistry
	Store    SubmissionStore
	ExecLog  ExecutionLogger
	Events   EventSink
	Catalog  Catalog
	Fetcher  BlobFetcher
	Checker  OutputChecker
	Sandbox  SandboxDriver
	Limits   LimitsResolver
	Status   StatusSink
	Breakers *breaker.Set

	Validator         *validation.Validator
	HeartbeatInterval time.Duration
}

func (c *Config) validate() error {
	switch {
	case c.Broker == nil:
		return appErr.New(appErr.InvalidParams).WithMessage("worker requires a broker")
	case c.Registry == nil:
		return appErr.New(appErr.InvalidParams).WithMessage("worker requires a registry")
	case c.Store == nil:
		return appErr.New(appErr.InvalidParams).WithMessage("worker requires a submission store")
	case c.Catalog == nil:
		return appErr.New(appErr.InvalidParams).WithMessage("worker requires a catalog client")
	case c.Fetcher == nil:
		return appErr.New(appErr.InvalidParams).WithMessage("worker requires a blob fetcher")
	case c.Checker == nil:
		return appErr.New(appErr.InvalidParams).WithMessage("worker requires an output checker")
	case c.Sandbox == nil:
		return appErr.New(appErr.InvalidParams).WithMessage("worker requires a sandbox driver")
	case c.Limits == nil:
		return appErr.New(appErr.InvalidParams).WithMessage("worker requires a limits resolver")
	}
	if c.Validator == nil {
		c.Validator = validation.NewValidator()
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	return nil
}

// Worker judges one submission at a time: it owns the delivered message,
// one sandbox box, and the submission row until the verdict is committed.
type Worker struct {
	cfg Config
	id  int64

	busy          atomic.Bool
	draining      atomic.Bool
	lastHeartbeat atomic.Int64 // unix nano

	drain chan struct{}

	mu         sync.Mutex
	currentSub int64
}

// NewWorker registers the worker and returns it ready to Run.
func NewWorker(ctx context.Context, cfg Config) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	id, err := cfg.Registry.Register(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}

	w := &Worker{cfg: cfg, id: id, drain: make(chan struct{}, 1)}
	w.lastHeartbeat.Store(time.Now().UnixNano())
	return w, nil
}

func (w *Worker) ID() int64    { return w.id }
func (w *Worker) Name() string { return w.cfg.Name }

// Busy reports whether the worker holds an in-flight submission.
func (w *Worker) Busy() bool { return w.busy.Load() }

// Draining reports whether the worker will exit after its current job.
func (w *Worker) Draining() bool { return w.draining.Load() }

// RequestDrain asks the worker to finish its current job and exit. An idle
// worker wakes and exits right away.
func (w *Worker) RequestDrain() {
	w.draining.Store(true)
	select {
	case w.drain <- struct{}{}:
	default:
	}
}

// LastHeartbeat returns the worker's most recent liveness timestamp.
func (w *Worker) LastHeartbeat() time.Time {
	return time.Unix(0, w.lastHeartbeat.Load())
}

// CurrentSubmission returns the in-flight submission id, 0 when idle.
func (w *Worker) CurrentSubmission() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentSub
}

// Run consumes the judge queue until ctx is cancelled or a drain request
// takes effect. Each delivery is settled exactly once.
func (w *Worker) Run(ctx context.Context) error {
	ctx = contextkey.WithWorkerID(ctx, w.id)

	deliveries, err := w.cfg.Broker.Consume(ctx, mq.QueueSubmissions)
	if err != nil {
		return err
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx)

	logger.Info(ctx, "worker started", zap.String("worker", w.cfg.Name))

	for {
		if w.Draining() {
			logger.Info(ctx, "worker drained", zap.String("worker", w.cfg.Name))
			w.setRegistryStatus(ctx, model.WorkerIdle, nil, nil)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.drain:
			// flag is already set; the next iteration exits
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handleDelivery(ctx, d)
		}
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.lastHeartbeat.Store(time.Now().UnixNano())
			if err := w.cfg.Registry.Heartbeat(ctx, w.id); err != nil {
				logger.Warn(ctx, "heartbeat write failed", zap.Error(err))
			}
		}
	}
}

// handleDelivery parses, judges and settles one message. The requeue flag
// on failure follows the fault class: sandbox faults and write failures
// requeue for immediate redelivery, other transient faults dead-letter into
// the retry pipeline, malformed messages dead-letter without retry value.
func (w *Worker) handleDelivery(ctx context.Context, d mq.Delivery) {
	req, err := parseRequest(d.Body)
	if err != nil {
		logger.Error(ctx, "malformed judge request", zap.Error(err))
		if nackErr := d.Nack(false); nackErr != nil {
			logger.Error(ctx, "nack failed", zap.Error(nackErr))
		}
		return
	}

	ctx = contextkey.WithSubmissionID(ctx, req.SubmissionID)
	w.setBusy(ctx, req.SubmissionID)
	defer w.setIdle(ctx)

	err = w.judge(ctx, req)
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			logger.Error(ctx, "ack failed", zap.Error(ackErr))
		}
		return
	}

	logger.Error(ctx, "judging failed", zap.Error(err))
	w.logExec(ctx, req.SubmissionID, model.LogError, fmt.Sprintf("judging failed: %v", err))

	requeue := false
	switch appErr.GetCode(err) {
	case appErr.SandboxUnavailable, appErr.BoxInitFailed, appErr.MetaFileMissing, appErr.MetaParseFailed,
		appErr.DatabaseError, appErr.TransactionFailed:
		requeue = true
	}
	if nackErr := d.Nack(requeue); nackErr != nil {
		logger.Error(ctx, "nack failed", zap.Error(nackErr))
	}
}

// parseRequest reads a queued body. Requests cycling back from the retry
// queue arrive wrapped in a RetryableEnvelope and are unwrapped here.
func parseRequest(body []byte) (model.JudgeRequest, error) {
	var req model.JudgeRequest
	if err := json.Unmarshal(body, &req); err == nil && req.SubmissionID != 0 {
		return req, nil
	}

	var env model.RetryableEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Request.SubmissionID != 0 {
		return env.Request, nil
	}
	return model.JudgeRequest{}, appErr.New(appErr.MessageMalformed).WithMessage("body is neither judge request nor retry envelope")
}

func (w *Worker) setBusy(ctx context.Context, submissionID int64) {
	w.busy.Store(true)
	w.mu.Lock()
	w.currentSub = submissionID
	w.mu.Unlock()
	w.setRegistryStatus(ctx, model.WorkerBusy, &submissionID, nil)
}

func (w *Worker) setIdle(ctx context.Context) {
	w.busy.Store(false)
	w.mu.Lock()
	w.currentSub = 0
	w.mu.Unlock()
	w.setRegistryStatus(ctx, model.WorkerIdle, nil, nil)
}

func (w *Worker) setRegistryStatus(ctx context.Context, status model.WorkerStatus, submissionID *int64, boxID *int) {
	if err := w.cfg.Registry.UpdateStatus(ctx, w.id, status, submissionID, boxID); err != nil {
		logger.Warn(ctx, "worker status write failed", zap.Error(err))
	}
}

// judge runs the full state machine for one request. A nil return means the
// submission reached a terminal verdict and the message can be acked; a
// non-nil return means the message must be nacked.
func (w *Worker) judge(ctx context.Context, req model.JudgeRequest) error {
	w.setLiveStatus(ctx, req.SubmissionID, "validating", model.VerdictPending, 0, 0)

	source, err := w.fetchBlob(ctx, req.CodeURL)
	if err != nil {
		return err
	}

	// security gate before anything touches a compiler
	verdictDone, err := w.validate(ctx, req, source)
	if err != nil || verdictDone {
		return err
	}

	lang, err := sandbox.GetLanguage(req.Language)
	if err != nil {
		w.logExec(ctx, req.SubmissionID, model.LogError, fmt.Sprintf("unsupported language %q", req.Language))
		return w.finalize(ctx, req, judgeOutcome{
			verdict:       model.VerdictCE,
			compileOutput: fmt.Sprintf("unsupported language: %s", req.Language),
		})
	}

	baseLimits, issues := w.cfg.Limits.Resolve(ctx, req.ProblemID, req.TimeLimitMs, req.MemoryLimitKB)
	w.logLimitIssues(ctx, req.SubmissionID, issues)

	cases, err := w.cfg.Catalog.GetTestCases(ctx, req.ProblemID)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		w.logExec(ctx, req.SubmissionID, model.LogError,
			fmt.Sprintf("problem %d has no test cases", req.ProblemID))
		return w.finalize(ctx, req, judgeOutcome{verdict: model.VerdictIE})
	}

	box, err := w.acquireBox(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := box.Release(); relErr != nil {
			logger.Warn(ctx, "box release failed", zap.Error(relErr))
		}
		w.setRegistryStatus(ctx, model.WorkerBusy, &req.SubmissionID, nil)
	}()
	boxID := box.ID()
	w.setRegistryStatus(ctx, model.WorkerBusy, &req.SubmissionID, &boxID)

	w.setLiveStatus(ctx, req.SubmissionID, "compiling", model.VerdictPending, 0, len(cases))

	compile, err := box.Compile(ctx, lang, source, compileBudget)
	if err != nil {
		return err
	}
	if !compile.OK {
		out := truncateOutput(compile.Stderr)
		w.logExec(ctx, req.SubmissionID, model.LogInfo, "compilation failed")
		return w.finalize(ctx, req, judgeOutcome{
			verdict:       model.VerdictCE,
			total:         len(cases),
			compileOutput: out,
		})
	}

	outcome, err := w.runTests(ctx, req, box, lang, baseLimits, cases)
	if err != nil {
		return err
	}
	return w.finalize(ctx, req, outcome)
}

// validate applies the security gate. Returns done=true when the submission
// was rejected and finalized.
func (w *Worker) validate(ctx context.Context, req model.JudgeRequest, source []byte) (bool, error) {
	res := w.cfg.Validator.Validate(source, req.Language)
	for _, v := range res.Violations {
		w.logExec(ctx, req.SubmissionID, model.LogSecurity,
			fmt.Sprintf("validation %s [%s] line %d: %s", v.Severity, v.Type, v.Line, v.Description))
	}
	if !res.Rejected() {
		return false, nil
	}

	reason := res.RejectReason()
	err := w.finalize(ctx, req, judgeOutcome{
		verdict:       model.VerdictCE,
		compileOutput: fmt.Sprintf("rejected by security validation: %s", reason),
	})
	return true, err
}

type judgeOutcome struct {
	verdict       model.Verdict
	passed        int
	total         int
	peakTimeMs    int
	peakMemKB     int
	compileOutput string
	results       []model.TestResult
}

// runTests executes test cases in ascending order, stopping at the first
// non-AC verdict. Peak accounting covers only tests actually run.
func (w *Worker) runTests(ctx context.Context, req model.JudgeRequest, box SandboxBox, lang sandbox.Language, base model.ResourceLimits, cases []model.TestCase) (judgeOutcome, error) {
	outcome := judgeOutcome{verdict: model.VerdictAC, total: len(cases)}

	for i, tc := range cases {
		w.setLiveStatus(ctx, req.SubmissionID, "running", model.VerdictPending, i, len(cases))

		lim, issues := w.cfg.Limits.ForTestCase(base, tc)
		w.logLimitIssues(ctx, req.SubmissionID, issues)

		input, err := w.fetchBlob(ctx, tc.InputURL)
		if err != nil {
			return judgeOutcome{}, err
		}
		expected, err := w.fetchBlob(ctx, tc.OutputURL)
		if err != nil {
			return judgeOutcome{}, err
		}

		run, err := box.Execute(ctx, lang, input, lim)
		if err != nil {
			return judgeOutcome{}, err
		}

		verdict := run.Verdict
		checkerMsg := ""
		if verdict == model.VerdictAC {
			check := w.cfg.Checker.Check(ctx, tc, input, expected, []byte(run.Stdout))
			checkerMsg = check.Message
			if check.Fallback {
				w.logExec(ctx, req.SubmissionID, model.LogError,
					fmt.Sprintf("checker fault on test %d, exact match used", i+1))
			}
			if !check.Correct {
				verdict = model.VerdictWA
			}
		}

		if run.TimeMs > outcome.peakTimeMs {
			outcome.peakTimeMs = run.TimeMs
		}
		if run.MemoryKB > outcome.peakMemKB {
			outcome.peakMemKB = run.MemoryKB
		}

		outcome.results = append(outcome.results, model.TestResult{
			SubmissionID:    req.SubmissionID,
			TestCaseID:      tc.ID,
			TestNumber:      i + 1,
			Verdict:         verdict,
			ExecutionTimeMs: run.TimeMs,
			MemoryUsedKB:    run.MemoryKB,
			CheckerOutput:   checkerMsg,
		})

		if verdict != model.VerdictAC {
			// all-or-nothing scoring: first failure ends the run
			outcome.verdict = verdict
			break
		}
		outcome.passed++
	}

	return outcome, nil
}

// finalize commits the terminal verdict and fires post-commit hooks. Events
// are published only by the call that actually performed the commit, so
// redeliveries cannot duplicate them.
func (w *Worker) finalize(ctx context.Context, req model.JudgeRequest, outcome judgeOutcome) error {
	score := 0
	if outcome.total > 0 {
		score = outcome.passed * 100 / outcome.total
	}

	if err := w.cfg.Store.InsertTestResults(ctx, outcome.results); err != nil {
		return err
	}

	committed, err := w.cfg.Store.FinalizeSubmission(ctx, &model.Submission{
		ID:              req.SubmissionID,
		Verdict:         outcome.verdict,
		Score:           score,
		ExecutionTimeMs: outcome.peakTimeMs,
		MemoryUsedKB:    outcome.peakMemKB,
		TestCasesPassed: outcome.passed,
		TestCasesTotal:  outcome.total,
		CompileOutput:   outcome.compileOutput,
	})
	if err != nil {
		return err
	}

	// The terminal row is readable from the database now; the live snapshot
	// would only shadow it.
	w.clearLiveStatus(ctx, req.SubmissionID)

	if !committed {
		logger.Info(ctx, "submission already terminal, skipping events",
			zap.Int64("submission_id", req.SubmissionID))
		return nil
	}

	logger.Info(ctx, "submission judged",
		zap.String("verdict", outcome.verdict.String()),
		zap.Int("passed", outcome.passed),
		zap.Int("total", outcome.total),
		zap.Int("peak_time_ms", outcome.peakTimeMs),
		zap.Int("peak_memory_kb", outcome.peakMemKB))

	if w.cfg.Events != nil {
		if err := w.cfg.Events.SubmissionJudged(ctx, model.SubmissionJudgedEvent{
			SubmissionID:    req.SubmissionID,
			Verdict:         outcome.verdict,
			ExecutionTimeMs: outcome.peakTimeMs,
			MemoryUsedKB:    outcome.peakMemKB,
			TestCasesPassed: outcome.passed,
			TestCasesTotal:  outcome.total,
		}); err != nil {
			logger.Error(ctx, "event publish failed", zap.Error(err))
		}

		if outcome.verdict == model.VerdictCE {
			if err := w.cfg.Events.CompilationFailed(ctx, model.CompilationFailedEvent{
				SubmissionID: req.SubmissionID,
				Language:     req.Language,
				ErrorMessage: outcome.compileOutput,
			}); err != nil {
				logger.Error(ctx, "compilation event publish failed", zap.Error(err))
			}
		}

		if outcome.verdict == model.VerdictAC {
			if err := w.cfg.Events.EnqueuePlagiarism(ctx, model.PlagiarismCheckRequest{
				SubmissionID: req.SubmissionID,
				UserID:       req.UserID,
				ProblemID:    req.ProblemID,
				Language:     req.Language,
				CodeURL:      req.CodeURL,
			}); err != nil {
				logger.Error(ctx, "plagiarism enqueue failed", zap.Error(err))
			}
		}
	}

	return nil
}

func (w *Worker) fetchBlob(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	op := func() error {
		var err error
		data, err = w.cfg.Fetcher.Fetch(ctx, url)
		return err
	}
	if w.cfg.Breakers != nil && w.cfg.Breakers.Storage != nil {
		if err := w.cfg.Breakers.Storage.Execute(op); err != nil {
			return nil, err
		}
		return data, nil
	}
	if err := op(); err != nil {
		return nil, err
	}
	return data, nil
}

func (w *Worker) acquireBox(ctx context.Context) (SandboxBox, error) {
	var box SandboxBox
	op := func() error {
		var err error
		box, err = w.cfg.Sandbox.Acquire(ctx)
		return err
	}
	if w.cfg.Breakers != nil && w.cfg.Breakers.Sandbox != nil {
		if err := w.cfg.Breakers.Sandbox.Execute(op); err != nil {
			return nil, err
		}
		return box, nil
	}
	if err := op(); err != nil {
		return nil, err
	}
	return box, nil
}

func (w *Worker) setLiveStatus(ctx context.Context, submissionID int64, stage string, verdict model.Verdict, done, total int) {
	if w.cfg.Status == nil {
		return
	}
	err := w.cfg.Status.SetStatus(ctx, repository.LiveStatus{
		SubmissionID: submissionID,
		Stage:        stage,
		Verdict:      verdict,
		TestsDone:    done,
		TestsTotal:   total,
	})
	if err != nil {
		logger.Warn(ctx, "live status write failed", zap.Error(err))
	}
}

func (w *Worker) clearLiveStatus(ctx context.Context, submissionID int64) {
	if w.cfg.Status == nil {
		return
	}
	if err := w.cfg.Status.ClearStatus(ctx, submissionID); err != nil {
		logger.Warn(ctx, "live status clear failed", zap.Error(err))
	}
}

func (w *Worker) logExec(ctx context.Context, submissionID int64, level model.LogLevel, msg string) {
	if w.cfg.ExecLog == nil {
		return
	}
	if err := w.cfg.ExecLog.Append(ctx, submissionID, level, msg); err != nil {
		logger.Warn(ctx, "execution log write failed", zap.Error(err))
	}
}

func (w *Worker) logLimitIssues(ctx context.Context, submissionID int64, issues []limits.Issue) {
	for _, issue := range issues {
		level := model.LogInfo
		if issue.Severity == limits.SeverityError {
			level = model.LogError
		}
		w.logExec(ctx, submissionID, level, issue.Message)
	}
}

func truncateOutput(s string) string {
	if len(s) > maxCompileOutput {
		return s[:maxCompileOutput]
	}
	return s
}
