package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-fall/internal/models"
	"wisefido-fall/internal/repository"
	"wisefido-fall/internal/store"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const userLockStripes = 64

// sessionFrameRemover 会话结束后可以释放帧数据的仓库（内存实现）
type sessionFrameRemover interface {
	RemoveSession(sessionID string)
}

// PoseDataService 姿态帧缓冲与会话管理
type PoseDataService struct {
	window       store.WindowedStore
	sessions     *store.SessionStore
	sessionsRepo repository.SessionsRepository
	framesRepo   repository.PoseFramesRepository
	frames       *asyncQueue[*models.PoseFrame]
	capacity     int
	now          func() time.Time
	logger       *zap.Logger

	// 同一用户的帧处理、会话结束与空闲清理互斥
	userLocks [userLockStripes]sync.Mutex
}

// NewPoseDataService 创建姿态数据服务
func NewPoseDataService(
	window store.WindowedStore,
	sessions *store.SessionStore,
	sessionsRepo repository.SessionsRepository,
	framesRepo repository.PoseFramesRepository,
	capacity int,
	frameQueueSize int,
	logger *zap.Logger,
) *PoseDataService {
	s := &PoseDataService{
		window:       window,
		sessions:     sessions,
		sessionsRepo: sessionsRepo,
		framesRepo:   framesRepo,
		capacity:     capacity,
		now:          time.Now,
		logger:       logger,
	}
	s.frames = newAsyncQueue("pose_frames", frameQueueSize, s.persistFrame, logger)
	return s
}

// SetClock 替换时钟（测试使用）
func (s *PoseDataService) SetClock(now func() time.Time) {
	s.now = now
}

// Start 启动异步帧持久化
func (s *PoseDataService) Start(ctx context.Context) {
	s.frames.start(ctx, 1)
}

// Close 等待已排队的帧写完
func (s *PoseDataService) Close() {
	s.frames.close()
}

// LockUser 锁定用户，返回解锁函数
func (s *PoseDataService) LockUser(userID string) func() {
	l := &s.userLocks[xxhash.Sum64String(userID)%userLockStripes]
	l.Lock()
	return l.Unlock
}

// ResolveSession 取得用户当前会话，不存在时创建并持久化
func (s *PoseDataService) ResolveSession(ctx context.Context, userID, sessionID string) (models.Session, error) {
	res := s.sessions.GetOrCreate(userID, sessionID, s.now())

	if res.Replaced != nil {
		s.logger.Info("Monitoring session replaced",
			zap.String("user_id", userID),
			zap.String("old_session_id", res.Replaced.SessionID),
			zap.String("session_id", res.Session.SessionID),
		)
		s.retireSession(ctx, res.Replaced)
	}

	if res.Created {
		if err := s.sessionsRepo.SaveSession(ctx, &res.Session); err != nil {
			return models.Session{}, fmt.Errorf("failed to save session: %w", err)
		}
		s.logger.Debug("Monitoring session created",
			zap.String("user_id", userID),
			zap.String("session_id", res.Session.SessionID),
		)
	}
	return res.Session, nil
}

// History 用户缓冲中的历史帧（最新在前）
func (s *PoseDataService) History(ctx context.Context, userID string) ([]models.PoseFrame, error) {
	frames, err := s.window.Recent(ctx, userID, s.capacity)
	if err != nil {
		if errors.Is(err, store.ErrWindowMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pose window: %w", err)
	}
	return frames, nil
}

// AppendFrame 帧写入缓冲并累加会话帧数，数据库持久化异步进行
func (s *PoseDataService) AppendFrame(ctx context.Context, frame *models.PoseFrame) (models.Session, error) {
	if err := s.window.Append(ctx, frame.UserID, *frame); err != nil {
		return models.Session{}, fmt.Errorf("failed to append pose frame: %w", err)
	}

	session, err := s.sessions.Touch(frame.UserID, frame.SessionID, s.now())
	if errors.Is(err, store.ErrSessionNotFound) {
		// 会话在解析之后被结束，帧归入新会话
		s.logger.Info("Monitoring session ended while ingesting, starting a new one",
			zap.String("user_id", frame.UserID),
			zap.String("session_id", frame.SessionID),
		)
		resolved, resolveErr := s.ResolveSession(ctx, frame.UserID, "")
		if resolveErr != nil {
			return models.Session{}, resolveErr
		}
		frame.SessionID = resolved.SessionID
		session, err = s.sessions.Touch(frame.UserID, frame.SessionID, s.now())
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to update session %s: %w", frame.SessionID, err)
	}

	saved := *frame
	s.frames.enqueue(&saved)
	return session, nil
}

// EndSession 结束会话并持久化最终帧数
func (s *PoseDataService) EndSession(ctx context.Context, sessionID string) (models.Session, error) {
	if sessionID == "" {
		return models.Session{}, fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	userID, ok := s.sessions.Owner(sessionID)
	if !ok {
		return models.Session{}, store.ErrSessionNotFound
	}
	unlock := s.LockUser(userID)
	defer unlock()

	ended, err := s.sessions.End(sessionID, s.now())
	if err != nil {
		return models.Session{}, err
	}
	if err := s.sessionsRepo.SaveSession(ctx, &ended); err != nil {
		return models.Session{}, fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.window.Clear(ctx, ended.UserID); err != nil {
		s.logger.Warn("Failed to clear pose window",
			zap.String("user_id", ended.UserID),
			zap.Error(err),
		)
	}
	s.releaseFrames(ended.SessionID)

	s.logger.Info("Monitoring session ended",
		zap.String("user_id", ended.UserID),
		zap.String("session_id", ended.SessionID),
		zap.Int64("total_frames", ended.TotalFrames),
	)
	return ended, nil
}

// ExpireIdle 结束空闲会话并淘汰过期缓冲，返回结束的会话数
func (s *PoseDataService) ExpireIdle(ctx context.Context, idleTTL time.Duration) int {
	now := s.now()
	expired := 0
	for _, userID := range s.sessions.IdleUsers(now, idleTTL) {
		if s.expireUser(ctx, userID, now, idleTTL) {
			expired++
		}
	}

	evicted, err := s.window.EvictExpired(ctx, now)
	if err != nil {
		s.logger.Warn("Failed to evict idle pose windows", zap.Error(err))
	}
	if expired > 0 || evicted > 0 {
		s.logger.Info("Idle monitoring state expired",
			zap.Int("sessions", expired),
			zap.Int("windows", evicted),
		)
	}
	return expired
}

// expireUser 持锁后再次确认空闲，期间有新帧则保留会话
func (s *PoseDataService) expireUser(ctx context.Context, userID string, now time.Time, idleTTL time.Duration) bool {
	unlock := s.LockUser(userID)
	defer unlock()

	ended, ok := s.sessions.ExpireUser(userID, now, idleTTL)
	if !ok {
		return false
	}
	s.retireSession(ctx, &ended)
	return true
}

// retireSession 持久化已结束的会话并清理缓冲
func (s *PoseDataService) retireSession(ctx context.Context, ended *models.Session) {
	if err := s.sessionsRepo.SaveSession(ctx, ended); err != nil {
		s.logger.Error("Failed to save ended session",
			zap.String("session_id", ended.SessionID),
			zap.Error(err),
		)
	}
	if err := s.window.Clear(ctx, ended.UserID); err != nil {
		s.logger.Warn("Failed to clear pose window",
			zap.String("user_id", ended.UserID),
			zap.Error(err),
		)
	}
	s.releaseFrames(ended.SessionID)
}

func (s *PoseDataService) releaseFrames(sessionID string) {
	if r, ok := s.framesRepo.(sessionFrameRemover); ok {
		r.RemoveSession(sessionID)
	}
}

func (s *PoseDataService) persistFrame(ctx context.Context, frame *models.PoseFrame) {
	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.framesRepo.SavePoseFrame(saveCtx, frame); err != nil {
		s.logger.Error("Failed to save pose frame",
			zap.String("user_id", frame.UserID),
			zap.String("session_id", frame.SessionID),
			zap.Int64("frame_number", frame.FrameNumber),
			zap.Error(err),
		)
	}
}
