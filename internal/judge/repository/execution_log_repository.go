package repository

import (
	"context"
	"database/sql"
	"time"

	"judged/internal/judge/model"
	appErr "judged/pkg/errors"
)

// ExecutionLogRepository appends audit lines. Submission id 0 marks a
// pool-level entry.
type ExecutionLogRepository struct {
	db *sql.DB
}

// NewExecutionLogRepository creates an execution log repository.
func NewExecutionLogRepository(db *sql.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db}
}

// Append writes one log line.
func (r *ExecutionLogRepository) Append(ctx context.Context, submissionID int64, level model.LogLevel, message string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_logs (submission_id, level, message, created_at)
		VALUES (?, ?, ?, ?)`,
		submissionID, string(level), message, time.Now().UTC(),
	)
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	return nil
}
