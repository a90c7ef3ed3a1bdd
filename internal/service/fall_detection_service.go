package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-fall/internal/evaluator"
	"wisefido-fall/internal/models"
	"wisefido-fall/internal/notifier"
	"wisefido-fall/internal/repository"

	"go.uber.org/zap"
)

// DetectionOptions FallDetectionService 参数
type DetectionOptions struct {
	NotifyQueueSize int
	NotifyTimeout   time.Duration
	StatusLookback  time.Duration // getFallStatus 返回的事件范围
	StatusLimit     int
}

// FallDetectionService 跌倒检测服务：帧入缓冲 -> 评估 -> 去重 -> 事件持久化 -> 异步通知
type FallDetectionService struct {
	poseData   *PoseDataService
	evaluator  *evaluator.Evaluator
	dedup      *evaluator.Deduplicator
	fallEvents repository.FallEventsRepository
	notifier   notifier.Notifier
	dispatch   *asyncQueue[*models.FallEvent]
	opts       DetectionOptions
	now        func() time.Time
	logger     *zap.Logger
}

// NewFallDetectionService 创建跌倒检测服务
func NewFallDetectionService(
	poseData *PoseDataService,
	eval *evaluator.Evaluator,
	dedup *evaluator.Deduplicator,
	fallEvents repository.FallEventsRepository,
	n notifier.Notifier,
	opts DetectionOptions,
	logger *zap.Logger,
) *FallDetectionService {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if opts.StatusLookback <= 0 {
		opts.StatusLookback = 24 * time.Hour
	}
	s := &FallDetectionService{
		poseData:   poseData,
		evaluator:  eval,
		dedup:      dedup,
		fallEvents: fallEvents,
		notifier:   n,
		opts:       opts,
		now:        time.Now,
		logger:     logger,
	}
	s.dispatch = newAsyncQueue("fall_notifications", opts.NotifyQueueSize, s.deliver, logger)
	return s
}

// SetClock 替换时钟（测试使用）
func (s *FallDetectionService) SetClock(now func() time.Time) {
	s.now = now
}

// Start 启动通知分发
func (s *FallDetectionService) Start(ctx context.Context) {
	s.dispatch.start(ctx, 2)
}

// Close 等待已排队的通知发送完
func (s *FallDetectionService) Close() {
	s.dispatch.close()
}

// lockUser 同一用户的帧串行处理（读历史 + 追加）
func (s *FallDetectionService) lockUser(userID string) func() {
	return s.poseData.LockUser(userID)
}

// ProcessRequest 处理接入层（Redis Stream / MQTT）投递的单帧
func (s *FallDetectionService) ProcessRequest(ctx context.Context, req *models.FrameRequest) (*models.FrameResult, error) {
	return s.ProcessFrame(ctx, req)
}

// ProcessFrame 处理单帧
// 关键点异常、历史不足等单帧问题只体现为未检测到；会话或事件持久化失败时返回错误
func (s *FallDetectionService) ProcessFrame(ctx context.Context, req *models.FrameRequest) (*models.FrameResult, error) {
	if err := validateFrameRequest(req); err != nil {
		return nil, err
	}

	unlock := s.lockUser(req.UserID)
	defer unlock()

	session, err := s.poseData.ResolveSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	return s.ingest(ctx, session.SessionID, req, true)
}

// ProcessFrameBatch 按顺序处理同一用户的多帧，只对最后一帧做跌倒判定
func (s *FallDetectionService) ProcessFrameBatch(ctx context.Context, reqs []*models.FrameRequest) ([]*models.FrameResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: frames are required", ErrInvalidFrame)
	}
	for _, req := range reqs {
		if err := validateFrameRequest(req); err != nil {
			return nil, err
		}
		if req.UserID != reqs[0].UserID {
			return nil, fmt.Errorf("%w: batch frames must belong to one user", ErrInvalidFrame)
		}
	}

	unlock := s.lockUser(reqs[0].UserID)
	defer unlock()

	session, err := s.poseData.ResolveSession(ctx, reqs[0].UserID, reqs[0].SessionID)
	if err != nil {
		return nil, err
	}

	results := make([]*models.FrameResult, 0, len(reqs))
	for i, req := range reqs {
		result, err := s.ingest(ctx, session.SessionID, req, i == len(reqs)-1)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// ingest 单帧入缓冲；evaluate 为 false 时只计算派生特征
func (s *FallDetectionService) ingest(ctx context.Context, sessionID string, req *models.FrameRequest, evaluate bool) (*models.FrameResult, error) {
	frame, convErr := req.ToPoseFrame(s.now())
	frame.SessionID = sessionID
	if convErr != nil {
		s.logger.Warn("Malformed pose landmarks",
			zap.String("user_id", req.UserID),
			zap.Int64("frame_number", req.FrameNumber),
			zap.Error(convErr),
		)
	}

	history, err := s.poseData.History(ctx, frame.UserID)
	if err != nil {
		return nil, err
	}

	var assessment evaluator.Assessment
	if evaluate {
		assessment = s.evaluator.Evaluate(frame, history)
	} else {
		s.evaluator.Extract(frame, history)
		assessment = evaluator.Assessment{Reason: models.ReasonBatchPending}
	}

	session, err := s.poseData.AppendFrame(ctx, frame)
	if err != nil {
		return nil, err
	}

	detection, err := s.emit(ctx, frame, assessment)
	if err != nil {
		return nil, err
	}
	return buildFrameResult(session, assessment, detection), nil
}

// emit 达到阈值且不在冷却期时创建事件并排队通知
func (s *FallDetectionService) emit(ctx context.Context, frame *models.PoseFrame, a evaluator.Assessment) (models.Detection, error) {
	if !a.Detected() {
		if a.Reason != models.ReasonBatchPending {
			s.logger.Debug("No fall detected",
				zap.String("user_id", frame.UserID),
				zap.String("reason", string(a.Reason)),
			)
		}
		return models.NoDetection{Reason: a.Reason}, nil
	}

	detectedAt := s.now()
	ok, err := s.dedup.TryReserve(ctx, frame.UserID, detectedAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Debug("Fall detection suppressed by cooldown",
			zap.String("user_id", frame.UserID),
			zap.Float64("confidence", a.Score.Confidence),
		)
		return models.NoDetection{Reason: models.ReasonCooldown}, nil
	}

	event := evaluator.NewFallEventBuilder(frame.UserID, frame.SessionID).BuildFallEvent(a, detectedAt)
	if err := s.fallEvents.SaveFallEvent(ctx, event); err != nil {
		s.dedup.Cancel(frame.UserID, detectedAt)
		return nil, fmt.Errorf("failed to save fall event: %w", err)
	}

	s.logger.Info("Fall event created",
		zap.String("event_id", event.EventID),
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.String("severity", string(event.Severity)),
		zap.Float64("confidence", event.ConfidenceScore),
		zap.String("fall_type", string(event.FallType)),
		zap.Strings("signals", a.Score.Signals),
	)

	if !s.dispatch.enqueue(event.Clone()) {
		s.logger.Error("Fall notification not queued",
			zap.String("event_id", event.EventID),
		)
	}
	return models.Detected{Event: event}, nil
}

// deliver 发送通知，成功后事件转为 NOTIFIED；失败只记录日志，事件保持 DETECTED
func (s *FallDetectionService) deliver(ctx context.Context, event *models.FallEvent) {
	notifyCtx, cancel := context.WithTimeout(ctx, s.opts.NotifyTimeout)
	defer cancel()

	if err := s.notifier.NotifyFall(notifyCtx, event); err != nil {
		s.logger.Error("Failed to dispatch fall notification",
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
		return
	}

	if err := s.fallEvents.MarkNotified(notifyCtx, event.EventID, s.now()); err != nil {
		if errors.Is(err, repository.ErrFallEventNotFound) {
			// 通知发出后事件记录已不存在（被删除或清理）
			s.logger.Warn("Fall event missing after notification",
				zap.String("event_id", event.EventID),
				zap.String("user_id", event.UserID),
			)
			return
		}
		s.logger.Error("Failed to mark fall event notified",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}

// GetFallStatus 用户监测状态与最近事件
func (s *FallDetectionService) GetFallStatus(ctx context.Context, userID string) (*models.FallStatus, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}

	status := &models.FallStatus{
		UserID:           userID,
		RecentFallEvents: []*models.FallEvent{},
	}

	buffered, err := s.poseData.window.Len(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pose window: %w", err)
	}
	status.IsMonitoring = buffered > 0

	if session, ok := s.poseData.sessions.Current(userID); ok {
		status.SessionActive = true
		id := session.SessionID
		status.CurrentSessionID = &id
	}

	events, err := s.fallEvents.FindRecentFallEvents(ctx, userID, s.now().Add(-s.opts.StatusLookback), s.opts.StatusLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to find recent fall events: %w", err)
	}
	if events != nil {
		status.RecentFallEvents = events
	}
	return status, nil
}

// PruneCooldowns 清理过期的冷却记录
func (s *FallDetectionService) PruneCooldowns() int {
	return s.dedup.Prune(s.now())
}

func validateFrameRequest(req *models.FrameRequest) error {
	if req == nil {
		return fmt.Errorf("%w: frame is required", ErrInvalidFrame)
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidFrame)
	}
	return nil
}

func buildFrameResult(session models.Session, a evaluator.Assessment, detection models.Detection) *models.FrameResult {
	result := &models.FrameResult{
		SessionID:  session.SessionID,
		FrameCount: session.TotalFrames,
	}
	switch d := detection.(type) {
	case models.Detected:
		id := d.Event.EventID
		confidence := d.Event.ConfidenceScore
		severity := d.Event.Severity
		result.FallDetected = true
		result.EventID = &id
		result.Confidence = &confidence
		result.Severity = &severity
		result.Message = "Fall detected"
	case models.NoDetection:
		if d.Reason == models.ReasonCooldown || d.Reason == models.ReasonBelowThreshold {
			confidence := a.Score.Confidence
			result.Confidence = &confidence
		}
		result.Message = string(d.Reason)
	}
	return result
}
