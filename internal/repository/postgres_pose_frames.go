package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-fall/internal/models"
)

// PostgresPoseFramesRepository 姿态帧Repository实现
type PostgresPoseFramesRepository struct {
	db *sql.DB
}

// NewPostgresPoseFramesRepository 创建姿态帧Repository
func NewPostgresPoseFramesRepository(db *sql.DB) *PostgresPoseFramesRepository {
	return &PostgresPoseFramesRepository{db: db}
}

var _ PoseFramesRepository = (*PostgresPoseFramesRepository)(nil)

// SavePoseFrame 保存一帧，关键点以 JSONB 存储
func (r *PostgresPoseFramesRepository) SavePoseFrame(ctx context.Context, frame *models.PoseFrame) error {
	if frame == nil {
		return fmt.Errorf("frame is required")
	}

	landmarks, err := json.Marshal(frame.Landmarks)
	if err != nil {
		return fmt.Errorf("failed to marshal landmarks: %w", err)
	}

	query := `
		INSERT INTO pose_frames (
			user_id,
			session_id,
			frame_number,
			captured_at,
			landmarks,
			overall_confidence,
			center_y,
			velocity_y,
			is_horizontal,
			motion_score,
			body_angle,
			malformed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		frame.UserID,
		frame.SessionID,
		frame.FrameNumber,
		frame.Timestamp,
		landmarks,
		frame.OverallConfidence,
		frame.CenterY,
		frame.VelocityY,
		frame.IsHorizontal,
		frame.MotionScore,
		frame.BodyAngle,
		frame.Malformed,
	)
	if err != nil {
		return fmt.Errorf("failed to save pose frame: %w", err)
	}
	return nil
}
