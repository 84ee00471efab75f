package repository

import (
	"context"
	"database/sql"
	"time"

	"judged/internal/judge/model"
	appErr "judged/pkg/errors"
)

// SubmissionRepository persists submission verdicts and per-test results.
type SubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// FinalizeSubmission commits the terminal verdict. The WHERE clause on the
// pending verdict makes replays converge: a redelivered message finds the
// row already terminal and the update is a no-op. Returns whether this call
// performed the commit.
func (r *SubmissionRepository) FinalizeSubmission(ctx context.Context, sub *model.Submission) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE submissions
		SET verdict = ?, score = ?, execution_time_ms = ?, memory_used_kb = ?,
		    test_cases_passed = ?, test_cases_total = ?, compile_output = ?, judged_at = ?
		WHERE id = ? AND verdict = 'pending'`,
		string(sub.Verdict), sub.Score, sub.ExecutionTimeMs, sub.MemoryUsedKB,
		sub.TestCasesPassed, sub.TestCasesTotal, sub.CompileOutput, time.Now().UTC(),
		sub.ID,
	)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "finalize submission %d failed", sub.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	return n > 0, nil
}

// InsertTestResults writes the per-test rows in one transaction.
func (r *SubmissionRepository) InsertTestResults(ctx context.Context, results []model.TestResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return appErr.Wrap(err, appErr.TransactionFailed)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO submission_test_results
			(submission_id, test_case_id, test_number, verdict,
			 execution_time_ms, memory_used_kb, checker_output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return appErr.Wrap(err, appErr.TransactionFailed)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, tr := range results {
		_, err := stmt.ExecContext(ctx,
			tr.SubmissionID, tr.TestCaseID, tr.TestNumber, string(tr.Verdict),
			tr.ExecutionTimeMs, tr.MemoryUsedKB, tr.CheckerOutput, now,
		)
		if err != nil {
			return appErr.Wrapf(err, appErr.TransactionFailed,
				"insert test result %d/%d failed", tr.SubmissionID, tr.TestNumber)
		}
	}

	if err := tx.Commit(); err != nil {
		return appErr.Wrap(err, appErr.TransactionFailed)
	}
	return nil
}

// GetSubmission loads one submission row, used by the operator endpoint.
func (r *SubmissionRepository) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, problem_id, verdict, score, execution_time_ms,
		       memory_used_kb, test_cases_passed, test_cases_total,
		       COALESCE(compile_output, ''), submitted_at, judged_at
		FROM submissions WHERE id = ?`, id)

	var sub model.Submission
	var verdict string
	var judgedAt sql.NullTime
	err := row.Scan(&sub.ID, &sub.UserID, &sub.ProblemID, &verdict, &sub.Score,
		&sub.ExecutionTimeMs, &sub.MemoryUsedKB, &sub.TestCasesPassed,
		&sub.TestCasesTotal, &sub.CompileOutput, &sub.SubmittedAt, &judgedAt)
	if err == sql.ErrNoRows {
		return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", id)
	}
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}

	sub.Verdict = model.Verdict(verdict)
	if judgedAt.Valid {
		t := judgedAt.Time
		sub.JudgedAt = &t
	}
	return &sub, nil
}
