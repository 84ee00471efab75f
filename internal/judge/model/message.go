package model

import "time"

// JudgeRequest is the inbound message body on the judge.submissions queue.
// Produced upstream; the engine never originates it.
type JudgeRequest struct {
	SubmissionID  int64  `json:"submission_id"`
	UserID        int64  `json:"user_id"`
	ProblemID     int64  `json:"problem_id"`
	Language      string `json:"language"`
	CodeURL       string `json:"code_url"`
	TimeLimitMs   int    `json:"time_limit_ms"`
	MemoryLimitKB int    `json:"memory_limit_kb"`
	Priority      int    `json:"priority"`
}

// SubmissionJudgedEvent is published to judge.events after the terminal
// verdict is committed.
type SubmissionJudgedEvent struct {
	SubmissionID    int64   `json:"submission_id"`
	Verdict         Verdict `json:"verdict"`
	ExecutionTimeMs int     `json:"execution_time_ms"`
	MemoryUsedKB    int     `json:"memory_used_kb"`
	TestCasesPassed int     `json:"test_cases_passed"`
	TestCasesTotal  int     `json:"test_cases_total"`
}

// CompilationFailedEvent is published when the submission fails to compile
// or is rejected by the security validator.
type CompilationFailedEvent struct {
	SubmissionID int64  `json:"submission_id"`
	Language     string `json:"language"`
	ErrorMessage string `json:"error_message"`
}

// PlagiarismCheckRequest enqueues an accepted submission for the external
// plagiarism analyser.
type PlagiarismCheckRequest struct {
	SubmissionID int64  `json:"submission_id"`
	UserID       int64  `json:"user_id"`
	ProblemID    int64  `json:"problem_id"`
	Language     string `json:"language"`
	CodeURL      string `json:"code_url"`
}

// RetryableEnvelope wraps a failed JudgeRequest through the retry pipeline.
// FirstFailed is kept for operator forensics only.
type RetryableEnvelope struct {
	Request       JudgeRequest `json:"request"`
	RetryCount    int          `json:"retry_count"`
	OriginalQueue string       `json:"original_queue"`
	LastError     string       `json:"last_error"`
	FirstFailed   time.Time    `json:"first_failed"`
	LastRetry     time.Time    `json:"last_retry"`
}
