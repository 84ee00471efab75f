package contextkey

import "context"

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID      key = "trace_id"
	SubmissionID key = "submission_id"
	WorkerID     key = "worker_id"
)

// WithTraceID returns a context carrying the trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceID, traceID)
}

// WithSubmissionID returns a context carrying the submission id.
func WithSubmissionID(ctx context.Context, submissionID int64) context.Context {
	return context.WithValue(ctx, SubmissionID, submissionID)
}

// WithWorkerID returns a context carrying the worker id.
func WithWorkerID(ctx context.Context, workerID int64) context.Context {
	return context.WithValue(ctx, WorkerID, workerID)
}

// TraceIDValue extracts the trace id, if any.
func TraceIDValue(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(TraceID).(string)
	return v, ok
}

// SubmissionIDValue extracts the submission id, if any.
func SubmissionIDValue(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(SubmissionID).(int64)
	return v, ok
}

// WorkerIDValue extracts the worker id, if any.
func WorkerIDValue(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(WorkerID).(int64)
	return v, ok
}
