package model

import "time"

// Submission mirrors the submissions table. Created externally; mutated only
// by the judge worker that owns the message, and only while verdict is pending.
type Submission struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	ProblemID       int64      `json:"problem_id"`
	ContestID       *int64     `json:"contest_id,omitempty"`
	Language        string     `json:"language"`
	CodeURL         string     `json:"code_url"`
	Verdict         Verdict    `json:"verdict"`
	Score           int        `json:"score"`
	ExecutionTimeMs int        `json:"execution_time_ms"`
	MemoryUsedKB    int        `json:"memory_used_kb"`
	TestCasesPassed int        `json:"test_cases_passed"`
	TestCasesTotal  int        `json:"test_cases_total"`
	CompileOutput   string     `json:"compile_output,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	JudgedAt        *time.Time `json:"judged_at,omitempty"`
}

// TestResult is a per test-case row, written in one batch after judging.
type TestResult struct {
	ID              int64     `json:"id"`
	SubmissionID    int64     `json:"submission_id"`
	TestCaseID      int64     `json:"test_case_id"`
	TestNumber      int       `json:"test_number"`
	Verdict         Verdict   `json:"verdict"`
	ExecutionTimeMs int       `json:"execution_time_ms"`
	MemoryUsedKB    int       `json:"memory_used_kb"`
	CheckerOutput   string    `json:"checker_output,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// TestCase is a transient descriptor resolved from the catalog.
type TestCase struct {
	ID            int64  `json:"id"`
	InputURL      string `json:"input_url"`
	OutputURL     string `json:"output_url"`
	IsSample      bool   `json:"is_sample"`
	TimeLimitMs   int    `json:"time_limit"`
	MemoryLimitKB int    `json:"memory_limit"`
	CheckerURL    string `json:"checker_url,omitempty"`
}

// WorkerStatus is the lifecycle state of a pool worker.
type WorkerStatus string

const (
	WorkerIdle       WorkerStatus = "idle"
	WorkerBusy       WorkerStatus = "busy"
	WorkerRecovering WorkerStatus = "recovering"
	WorkerFailed     WorkerStatus = "failed"
	WorkerDraining   WorkerStatus = "draining"
)

// WorkerRecord mirrors the judge_workers table; one row per logical worker,
// owned for the process lifetime.
type WorkerRecord struct {
	ID                  int64        `json:"id"`
	WorkerName          string       `json:"worker_name"`
	Status              WorkerStatus `json:"status"`
	CurrentSubmissionID *int64       `json:"current_submission_id,omitempty"`
	StartedAt           time.Time    `json:"started_at"`
	LastHeartbeat       time.Time    `json:"last_heartbeat"`
	BoxID               *int         `json:"box_id,omitempty"`
}

// LogLevel classifies execution log lines.
type LogLevel string

const (
	LogInfo     LogLevel = "INFO"
	LogError    LogLevel = "ERROR"
	LogAudit    LogLevel = "AUDIT"
	LogSecurity LogLevel = "SECURITY"
	LogSystem   LogLevel = "SYSTEM"
)

// ExecutionLog is an append-only audit line. SubmissionID 0 marks a
// pool-level entry.
type ExecutionLog struct {
	ID           int64     `json:"id"`
	SubmissionID int64     `json:"submission_id"`
	Level        LogLevel  `json:"level"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResourceLimits is the effective (time, memory) envelope for one run.
type ResourceLimits struct {
	TimeLimitMs   int `json:"time_limit_ms"`
	MemoryLimitKB int `json:"memory_limit_kb"`
}
