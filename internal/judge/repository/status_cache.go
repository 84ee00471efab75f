package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judged/internal/common/cache"
	"judged/internal/judge/model"
	appErr "judged/pkg/errors"
)

// statusTTL keeps live snapshots around long enough for the operator
// endpoint without letting stale entries pile up.
const statusTTL = 10 * time.Minute

// LiveStatus is the in-flight judging snapshot served by the HTTP surface.
type LiveStatus struct {
	SubmissionID int64         `json:"submission_id"`
	Stage        string        `json:"stage"` // pending, validating, compiling, running, finished
	Verdict      model.Verdict `json:"verdict"`
	TestsDone    int           `json:"tests_done"`
	TestsTotal   int           `json:"tests_total"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// StatusCache stores live judging progress in Redis so status reads never
// hit MySQL mid-judgement.
type StatusCache struct {
	cache cache.Cache
}

// NewStatusCache creates a status cache.
func NewStatusCache(c cache.Cache) *StatusCache {
	return &StatusCache{cache: c}
}

func statusKey(submissionID int64) string {
	return fmt.Sprintf("judge:status:%d", submissionID)
}

// SetStatus writes the submission's live snapshot.
func (s *StatusCache) SetStatus(ctx context.Context, st LiveStatus) error {
	st.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return appErr.Wrap(err, appErr.CacheSetFailed)
	}
	return s.cache.Set(ctx, statusKey(st.SubmissionID), string(data), statusTTL)
}

// GetStatus reads the submission's live snapshot.
func (s *StatusCache) GetStatus(ctx context.Context, submissionID int64) (*LiveStatus, error) {
	raw, err := s.cache.Get(ctx, statusKey(submissionID))
	if err != nil {
		return nil, err
	}
	var st LiveStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, appErr.Wrap(err, appErr.CacheError)
	}
	return &st, nil
}

// ClearStatus removes the snapshot after the terminal verdict is readable
// from the database.
func (s *StatusCache) ClearStatus(ctx context.Context, submissionID int64) error {
	return s.cache.Del(ctx, statusKey(submissionID))
}
