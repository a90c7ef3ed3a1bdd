package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-fall/internal/models"

	"go.uber.org/zap"
)

// ErrNoChannels 没有配置任何通知通道
var ErrNoChannels = errors.New("no notification channels configured")

// Notifier 跌倒通知协作方
type Notifier interface {
	NotifyFall(ctx context.Context, event *models.FallEvent) error
}

// FallMessage 各通道共用的通知消息体
type FallMessage struct {
	Type       string  `json:"type"`
	EventID    string  `json:"event_id"`
	UserID     string  `json:"user_id"`
	SessionID  string  `json:"session_id"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	FallType   string  `json:"fall_type"`
	BodyAngle  float64 `json:"body_angle"`
	DetectedAt int64   `json:"detected_at"` // Unix 毫秒
	Timestamp  int64   `json:"timestamp"`
}

// NewFallMessage 由事件构建通知消息
func NewFallMessage(event *models.FallEvent) FallMessage {
	return FallMessage{
		Type:       "fall_detected",
		EventID:    event.EventID,
		UserID:     event.UserID,
		SessionID:  event.SessionID,
		Severity:   string(event.Severity),
		Confidence: event.ConfidenceScore,
		FallType:   string(event.FallType),
		BodyAngle:  event.BodyAngle,
		DetectedAt: event.DetectedAt.UnixMilli(),
		Timestamp:  time.Now().Unix(),
	}
}

// Channel 具名通知通道
type Channel struct {
	Name     string
	Notifier Notifier
}

// Multi 依次调用所有通道，任一通道成功即视为送达
type Multi struct {
	channels []Channel
	logger   *zap.Logger
}

// NewMulti 创建多通道通知器
func NewMulti(logger *zap.Logger, channels ...Channel) *Multi {
	return &Multi{
		channels: channels,
		logger:   logger,
	}
}

// Channels 已配置的通道名称
func (m *Multi) Channels() []string {
	names := make([]string, len(m.channels))
	for i, c := range m.channels {
		names[i] = c.Name
	}
	return names
}

// NotifyFall 扇出通知；全部失败时返回合并的错误
func (m *Multi) NotifyFall(ctx context.Context, event *models.FallEvent) error {
	if len(m.channels) == 0 {
		return ErrNoChannels
	}

	var errs []error
	delivered := 0
	for _, c := range m.channels {
		if err := c.Notifier.NotifyFall(ctx, event); err != nil {
			m.logger.Warn("Fall notification channel failed",
				zap.String("channel", c.Name),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return errors.Join(errs...)
	}
	return nil
}
