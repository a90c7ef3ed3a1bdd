package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-fall/internal/models"
)

// PostgresFallEventsRepository 跌倒事件Repository实现
type PostgresFallEventsRepository struct {
	db *sql.DB
}

// NewPostgresFallEventsRepository 创建跌倒事件Repository
func NewPostgresFallEventsRepository(db *sql.DB) *PostgresFallEventsRepository {
	return &PostgresFallEventsRepository{db: db}
}

// 确保实现了接口
var _ FallEventsRepository = (*PostgresFallEventsRepository)(nil)

const fallEventColumns = `
	event_id,
	user_id,
	session_id,
	detected_at,
	severity,
	confidence_score,
	status,
	body_angle,
	fall_type,
	false_positive,
	notification_sent,
	notification_sent_at,
	feedback_comment,
	feedback_at,
	created_at,
	updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFallEvent(row rowScanner) (*models.FallEvent, error) {
	var event models.FallEvent
	var notificationSentAt, feedbackAt sql.NullTime
	var feedbackComment sql.NullString

	err := row.Scan(
		&event.EventID,
		&event.UserID,
		&event.SessionID,
		&event.DetectedAt,
		&event.Severity,
		&event.ConfidenceScore,
		&event.Status,
		&event.BodyAngle,
		&event.FallType,
		&event.FalsePositive,
		&event.NotificationSent,
		&notificationSentAt,
		&feedbackComment,
		&feedbackAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	if notificationSentAt.Valid {
		event.NotificationSentAt = &notificationSentAt.Time
	}
	if feedbackComment.Valid {
		event.FeedbackComment = &feedbackComment.String
	}
	if feedbackAt.Valid {
		event.FeedbackAt = &feedbackAt.Time
	}
	return &event, nil
}

func (r *PostgresFallEventsRepository) queryFallEvents(ctx context.Context, query string, args ...any) ([]*models.FallEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fall events: %w", err)
	}
	defer rows.Close()

	events := []*models.FallEvent{}
	for rows.Next() {
		event, err := scanFallEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fall event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fall events: %w", err)
	}
	return events, nil
}

// SaveFallEvent 保存跌倒事件
func (r *PostgresFallEventsRepository) SaveFallEvent(ctx context.Context, event *models.FallEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}

	query := `
		INSERT INTO fall_events (` + fallEventColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.UserID,
		event.SessionID,
		event.DetectedAt,
		string(event.Severity),
		event.ConfidenceScore,
		string(event.Status),
		event.BodyAngle,
		string(event.FallType),
		event.FalsePositive,
		event.NotificationSent,
		event.NotificationSentAt,
		event.FeedbackComment,
		event.FeedbackAt,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save fall event: %w", err)
	}
	return nil
}

// GetFallEvent 根据 event_id 获取事件
func (r *PostgresFallEventsRepository) GetFallEvent(ctx context.Context, eventID string) (*models.FallEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `SELECT` + fallEventColumns + `
		FROM fall_events
		WHERE event_id = $1
	`
	event, err := scanFallEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: event_id=%s", ErrFallEventNotFound, eventID)
		}
		return nil, fmt.Errorf("failed to get fall event: %w", err)
	}
	return event, nil
}

// FindRecentFallEvents 用户最近的事件
func (r *PostgresFallEventsRepository) FindRecentFallEvents(ctx context.Context, userID string, since time.Time, limit int) ([]*models.FallEvent, error) {
	query := `SELECT` + fallEventColumns + `
		FROM fall_events
		WHERE user_id = $1
		  AND detected_at >= $2
		ORDER BY detected_at DESC
	`
	args := []any{userID, since}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return r.queryFallEvents(ctx, query, args...)
}

// FindFallEventsSince 冷却期检查
func (r *PostgresFallEventsRepository) FindFallEventsSince(ctx context.Context, userID string, since time.Time) ([]*models.FallEvent, error) {
	query := `SELECT` + fallEventColumns + `
		FROM fall_events
		WHERE user_id = $1
		  AND detected_at >= $2
		ORDER BY detected_at DESC
	`
	return r.queryFallEvents(ctx, query, userID, since)
}

// MarkNotified 记录通知发送成功；已被反馈为误报的事件保持原状态
func (r *PostgresFallEventsRepository) MarkNotified(ctx context.Context, eventID string, at time.Time) error {
	query := `
		UPDATE fall_events
		SET notification_sent = TRUE,
		    notification_sent_at = $2,
		    status = CASE WHEN status = 'DETECTED' THEN 'NOTIFIED' ELSE status END,
		    updated_at = $2
		WHERE event_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, eventID, at)
	if err != nil {
		return fmt.Errorf("failed to mark fall event notified: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: event_id=%s", ErrFallEventNotFound, eventID)
	}
	return nil
}

// UpdateFeedback 写入反馈字段；feedback_at 只记录第一次反馈
func (r *PostgresFallEventsRepository) UpdateFeedback(ctx context.Context, eventID string, isFalsePositive bool, comment *string, at time.Time) (*models.FallEvent, error) {
	query := `
		UPDATE fall_events
		SET updated_at = CASE
		        WHEN false_positive IS DISTINCT FROM $2::boolean
		          OR feedback_comment IS DISTINCT FROM $3 THEN $4
		        ELSE updated_at
		    END,
		    false_positive = $2::boolean,
		    status = CASE
		        WHEN $2::boolean THEN 'FALSE_POSITIVE'
		        WHEN notification_sent THEN 'NOTIFIED'
		        ELSE 'DETECTED'
		    END,
		    feedback_comment = $3,
		    feedback_at = COALESCE(feedback_at, $4)
		WHERE event_id = $1
		RETURNING` + fallEventColumns

	event, err := scanFallEvent(r.db.QueryRowContext(ctx, query, eventID, isFalsePositive, comment, at))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: event_id=%s", ErrFallEventNotFound, eventID)
		}
		return nil, fmt.Errorf("failed to update fall event feedback: %w", err)
	}
	return event, nil
}
