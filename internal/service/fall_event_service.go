package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wisefido-fall/internal/models"
	"wisefido-fall/internal/repository"

	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxCommentLength = 1000
)

// FallEventService 跌倒事件查询与反馈
type FallEventService struct {
	fallEvents repository.FallEventsRepository
	now        func() time.Time
	logger     *zap.Logger
}

// NewFallEventService 创建跌倒事件服务
func NewFallEventService(fallEvents repository.FallEventsRepository, logger *zap.Logger) *FallEventService {
	return &FallEventService{
		fallEvents: fallEvents,
		now:        time.Now,
		logger:     logger,
	}
}

// SetClock 替换时钟（测试使用）
func (s *FallEventService) SetClock(now func() time.Time) {
	s.now = now
}

// GetFallEvent 获取单个事件
func (s *FallEventService) GetFallEvent(ctx context.Context, eventID string) (*models.FallEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	}
	return s.fallEvents.GetFallEvent(ctx, eventID)
}

// ListFallEventsRequest 事件列表查询
type ListFallEventsRequest struct {
	UserID string
	Since  time.Time // 零值表示不限
	Limit  int
}

// ListFallEvents 用户事件列表（detected_at 降序）
func (s *FallEventService) ListFallEvents(ctx context.Context, req ListFallEventsRequest) ([]*models.FallEvent, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	events, err := s.fallEvents.FindRecentFallEvents(ctx, req.UserID, req.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list fall events: %w", err)
	}
	if events == nil {
		events = []*models.FallEvent{}
	}
	return events, nil
}

// SubmitFeedbackRequest 反馈请求
type SubmitFeedbackRequest struct {
	EventID         string
	IsFalsePositive bool
	Comment         string
}

// SubmitFeedback 记录反馈；误报时事件状态变为 FALSE_POSITIVE，重复提交相同内容结果不变
func (s *FallEventService) SubmitFeedback(ctx context.Context, req SubmitFeedbackRequest) (*models.FallEvent, error) {
	if req.EventID == "" {
		return nil, fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	}

	var comment *string
	if c := strings.TrimSpace(req.Comment); c != "" {
		if len(c) > maxCommentLength {
			return nil, fmt.Errorf("%w: comment exceeds %d characters", ErrInvalidRequest, maxCommentLength)
		}
		comment = &c
	}

	event, err := s.fallEvents.UpdateFeedback(ctx, req.EventID, req.IsFalsePositive, comment, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("Fall event feedback recorded",
		zap.String("event_id", event.EventID),
		zap.String("user_id", event.UserID),
		zap.Bool("false_positive", event.FalsePositive),
		zap.String("status", string(event.Status)),
	)
	return event, nil
}
