package repository

import (
	"context"
	"errors"
	"time"

	"wisefido-fall/internal/models"
)

// ErrFallEventNotFound 跌倒事件不存在
var ErrFallEventNotFound = errors.New("fall event not found")

// FallEventsRepository 跌倒事件Repository接口
type FallEventsRepository interface {
	// 保存新事件（status=DETECTED）
	SaveFallEvent(ctx context.Context, event *models.FallEvent) error

	// 获取单个事件，不存在时返回 ErrFallEventNotFound
	GetFallEvent(ctx context.Context, eventID string) (*models.FallEvent, error)

	// 用户最近的事件（detected_at 降序），limit <= 0 表示不限制
	FindRecentFallEvents(ctx context.Context, userID string, since time.Time, limit int) ([]*models.FallEvent, error)

	// 冷却期检查：detected_at >= since 的事件
	FindFallEventsSince(ctx context.Context, userID string, since time.Time) ([]*models.FallEvent, error)

	// 通知发送成功：notification_sent=true，DETECTED -> NOTIFIED
	MarkNotified(ctx context.Context, eventID string, at time.Time) error

	// 用户/护理人员反馈，重复提交相同内容结果不变
	UpdateFeedback(ctx context.Context, eventID string, isFalsePositive bool, comment *string, at time.Time) (*models.FallEvent, error)
}

// PoseFramesRepository 姿态帧Repository接口
type PoseFramesRepository interface {
	SavePoseFrame(ctx context.Context, frame *models.PoseFrame) error
}

// SessionsRepository 监测会话Repository接口
type SessionsRepository interface {
	// 按 session_id upsert
	SaveSession(ctx context.Context, session *models.Session) error
}

// feedbackStatus 反馈后的事件状态
func feedbackStatus(isFalsePositive, notificationSent bool) models.FallEventStatus {
	switch {
	case isFalsePositive:
		return models.FallStatusFalsePositive
	case notificationSent:
		return models.FallStatusNotified
	default:
		return models.FallStatusDetected
	}
}
