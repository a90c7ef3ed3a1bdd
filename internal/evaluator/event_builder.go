package evaluator

import (
	"time"

	"wisefido-fall/internal/models"

	"github.com/google/uuid"
)

// FallEventBuilder 跌倒事件构建器
type FallEventBuilder struct {
	userID    string
	sessionID string
}

// NewFallEventBuilder 创建跌倒事件构建器
func NewFallEventBuilder(userID, sessionID string) *FallEventBuilder {
	return &FallEventBuilder{
		userID:    userID,
		sessionID: sessionID,
	}
}

// BuildFallEvent 根据评估结果构建跌倒事件，状态为 DETECTED
func (b *FallEventBuilder) BuildFallEvent(a Assessment, detectedAt time.Time) *models.FallEvent {
	return &models.FallEvent{
		EventID:         uuid.New().String(),
		UserID:          b.userID,
		SessionID:       b.sessionID,
		DetectedAt:      detectedAt,
		Severity:        a.Score.Severity,
		ConfidenceScore: a.Score.Confidence,
		Status:          models.FallStatusDetected,
		BodyAngle:       a.Features.BodyAngle,
		FallType:        a.FallType,
		CreatedAt:       detectedAt,
		UpdatedAt:       detectedAt,
	}
}
