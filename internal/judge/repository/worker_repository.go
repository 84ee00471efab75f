package repository

import (
	"context"
	"database/sql"
	"time"

	"judged/internal/judge/model"
	appErr "judged/pkg/errors"
)

// WorkerRepository persists the worker registry. Each worker row is written
// by its own worker, except the monitor's recovery path.
type WorkerRepository struct {
	db *sql.DB
}

// NewWorkerRepository creates a worker repository.
func NewWorkerRepository(db *sql.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// Register inserts a new worker row and returns its id.
func (r *WorkerRepository) Register(ctx context.Context, name string) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO judge_workers (worker_name, status, started_at, last_heartbeat)
		VALUES (?, ?, ?, ?)`,
		name, string(model.WorkerIdle), now, now,
	)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "register worker %s failed", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, appErr.Wrap(err, appErr.DatabaseError)
	}
	return id, nil
}

// UpdateStatus writes the worker's status, current submission and box id.
func (r *WorkerRepository) UpdateStatus(ctx context.Context, id int64, status model.WorkerStatus, submissionID *int64, boxID *int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE judge_workers
		SET status = ?, current_submission_id = ?, box_id = ?
		WHERE id = ?`,
		string(status), submissionID, boxID, id,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update worker %d status failed", id)
	}
	return nil
}

// Heartbeat refreshes the worker's liveness timestamp.
func (r *WorkerRepository) Heartbeat(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE judge_workers SET last_heartbeat = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "heartbeat for worker %d failed", id)
	}
	return nil
}

// GetWorker loads one worker row.
func (r *WorkerRepository) GetWorker(ctx context.Context, id int64) (*model.WorkerRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, worker_name, status, current_submission_id, started_at, last_heartbeat, box_id
		FROM judge_workers WHERE id = ?`, id)

	var w model.WorkerRecord
	var status string
	var subID sql.NullInt64
	var boxID sql.NullInt64
	err := row.Scan(&w.ID, &w.WorkerName, &status, &subID, &w.StartedAt, &w.LastHeartbeat, &boxID)
	if err == sql.ErrNoRows {
		return nil, appErr.Newf(appErr.NotFound, "worker %d not found", id)
	}
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}

	w.Status = model.WorkerStatus(status)
	if subID.Valid {
		v := subID.Int64
		w.CurrentSubmissionID = &v
	}
	if boxID.Valid {
		v := int(boxID.Int64)
		w.BoxID = &v
	}
	return &w, nil
}
