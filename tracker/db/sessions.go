package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionArgs) (Session, error) {
	s := &Session{
		ProjectID:      arg.ProjectID,
		TrackingKey:    arg.TrackingKey,
		AgentType:      arg.AgentType,
		Title:          arg.Title,
		Description:    arg.Description,
		Status:         StatusActive,
		StartedAt:      arg.StartedAt,
		LastActivityAt: arg.StartedAt,
		Metadata:       arg.Metadata,
	}
	s.ID = arg.ID
	err := q.db.WithContext(ctx).Create(s).Error
	if err != nil {
		return Session{}, err
	}
	return *s, nil
}

func (q *Queries) GetSessionByID(ctx context.Context, id string) (Session, error) {
	var s Session
	err := q.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

// GetOpenSessionByKey returns the most recently started open session for a
// tracking key. ErrSessionNotFound when none is open.
func (q *Queries) GetOpenSessionByKey(ctx context.Context, key string) (Session, error) {
	var s Session
	err := q.db.WithContext(ctx).
		Where("tracking_key = ? AND status = ? AND ended_at IS NULL", key, StatusActive).
		Order("started_at DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

// FinishSession writes the final counters, ended_at and status in a single
// update guarded by status = active. The guard is what makes ending
// exactly-once: a second finish, or a finish racing the timeout sweep,
// matches zero rows and reports false.
func (q *Queries) FinishSession(ctx context.Context, arg FinishSessionArgs) (bool, error) {
	res := q.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND status = ?", arg.ID, StatusActive).
		Updates(map[string]interface{}{
			"status":           StatusInactive,
			"ended_at":         arg.EndedAt,
			"last_activity_at": arg.EndedAt,
			"input_tokens":     arg.InputTokens,
			"output_tokens":    arg.OutputTokens,
			"total_tokens":     arg.TotalTokens,
			"tasks_created":    arg.TasksCreated,
			"tasks_updated":    arg.TasksUpdated,
			"tasks_completed":  arg.TasksCompleted,
			"contexts_created": arg.ContextsCreated,
		})
	if res.Error != nil {
		return false, errors.WithMessage(res.Error, "finish session error")
	}
	return res.RowsAffected > 0, nil
}

// TouchSessionActivity refreshes last_activity_at for an open session.
func (q *Queries) TouchSessionActivity(ctx context.Context, id string, at time.Time) (bool, error) {
	res := q.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND status = ?", id, StatusActive).
		Update("last_activity_at", at)
	if res.Error != nil {
		return false, errors.WithMessage(res.Error, "touch session activity error")
	}
	return res.RowsAffected > 0, nil
}

func (q *Queries) UpdateSessionInfo(ctx context.Context, arg UpdateSessionInfoArgs) (bool, error) {
	res := q.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND status = ?", arg.ID, StatusActive).
		Updates(map[string]interface{}{
			"title":       arg.Title,
			"description": arg.Description,
		})
	if res.Error != nil {
		return false, errors.WithMessage(res.Error, "update session info error")
	}
	return res.RowsAffected > 0, nil
}

// AssignSessionProject rewrites project_id on an open session. The caller
// validates the project reference first.
func (q *Queries) AssignSessionProject(ctx context.Context, id, projectID string) (bool, error) {
	res := q.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND status = ?", id, StatusActive).
		Update("project_id", projectID)
	if res.Error != nil {
		return false, errors.WithMessage(res.Error, "assign session project error")
	}
	return res.RowsAffected > 0, nil
}

func (q *Queries) MarkSessionDisconnected(ctx context.Context, id string, at time.Time) (bool, error) {
	res := q.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND status = ?", id, StatusActive).
		Updates(map[string]interface{}{
			"status":   StatusDisconnected,
			"ended_at": at,
		})
	if res.Error != nil {
		return false, errors.WithMessage(res.Error, "mark session disconnected error")
	}
	return res.RowsAffected > 0, nil
}

// SweepIdleSessions transitions every open session whose last activity is
// older than cutoff to inactive, and returns the affected ids. The update
// keeps the status = active guard, so a session explicitly ended between the
// select and the update is simply skipped.
func (q *Queries) SweepIdleSessions(ctx context.Context, cutoff, endedAt time.Time) ([]string, error) {
	var ids []string
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Session{}).
			Where("status = ? AND last_activity_at < ?", StatusActive, cutoff).
			Pluck("id", &ids).Error
		if err != nil {
			return errors.WithMessage(err, "select idle sessions error")
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Model(&Session{}).
			Where("id IN ? AND status = ?", ids, StatusActive).
			Updates(map[string]interface{}{
				"status":   StatusInactive,
				"ended_at": endedAt,
			})
		if res.Error != nil {
			return errors.WithMessage(res.Error, "transition idle sessions error")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (q *Queries) ListSessionsByKey(ctx context.Context, key string, limit int) ([]Session, error) {
	var sessions []Session
	tx := q.db.WithContext(ctx).
		Where("tracking_key = ?", key).
		Order("started_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	err := tx.Find(&sessions).Error
	return sessions, err
}

// ListOpenSessions lists open sessions across keys, used by status surfaces.
func (q *Queries) ListOpenSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := q.db.WithContext(ctx).
		Where("status = ? AND ended_at IS NULL", StatusActive).
		Order("started_at DESC").
		Find(&sessions).Error
	return sessions, err
}
