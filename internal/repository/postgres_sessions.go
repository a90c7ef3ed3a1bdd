package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-fall/internal/models"
)

// PostgresSessionsRepository 监测会话Repository实现
type PostgresSessionsRepository struct {
	db *sql.DB
}

// NewPostgresSessionsRepository 创建监测会话Repository
func NewPostgresSessionsRepository(db *sql.DB) *PostgresSessionsRepository {
	return &PostgresSessionsRepository{db: db}
}

var _ SessionsRepository = (*PostgresSessionsRepository)(nil)

// SaveSession 按 session_id upsert
func (r *PostgresSessionsRepository) SaveSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}

	var lastFrameAt sql.NullTime
	if !session.LastFrameAt.IsZero() {
		lastFrameAt = sql.NullTime{Time: session.LastFrameAt, Valid: true}
	}

	query := `
		INSERT INTO monitoring_sessions (
			session_id,
			user_id,
			start_time,
			end_time,
			status,
			total_frames,
			last_frame_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			total_frames = EXCLUDED.total_frames,
			last_frame_at = EXCLUDED.last_frame_at
	`
	_, err := r.db.ExecContext(ctx, query,
		session.SessionID,
		session.UserID,
		session.StartTime,
		session.EndTime,
		string(session.Status),
		session.TotalFrames,
		lastFrameAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
