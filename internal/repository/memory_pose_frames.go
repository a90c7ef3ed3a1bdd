package repository

import (
	"context"
	"fmt"
	"sync"

	"wisefido-fall/internal/models"
)

// MemoryPoseFramesRepo 数据库未启用时只记录每个会话最近的若干帧
type MemoryPoseFramesRepo struct {
	mu       sync.RWMutex
	limit    int
	sessions map[string][]models.PoseFrame
}

func NewMemoryPoseFramesRepo(limit int) *MemoryPoseFramesRepo {
	if limit <= 0 {
		limit = 150
	}
	return &MemoryPoseFramesRepo{
		limit:    limit,
		sessions: map[string][]models.PoseFrame{},
	}
}

var _ PoseFramesRepository = (*MemoryPoseFramesRepo)(nil)

func (r *MemoryPoseFramesRepo) SavePoseFrame(_ context.Context, frame *models.PoseFrame) error {
	if frame == nil {
		return fmt.Errorf("frame is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := append(r.sessions[frame.SessionID], *frame)
	if len(frames) > r.limit {
		frames = frames[len(frames)-r.limit:]
	}
	r.sessions[frame.SessionID] = frames
	return nil
}

// CountFrames 会话已保存的帧数（用于测试与调试）
func (r *MemoryPoseFramesRepo) CountFrames(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// RemoveSession 会话结束后释放内存
func (r *MemoryPoseFramesRepo) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}
