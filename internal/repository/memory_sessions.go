package repository

import (
	"context"
	"fmt"
	"sync"

	"wisefido-fall/internal/models"
)

// MemorySessionsRepo 数据库未启用时使用的会话仓库
type MemorySessionsRepo struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

func NewMemorySessionsRepo() *MemorySessionsRepo {
	return &MemorySessionsRepo{
		sessions: map[string]models.Session{},
	}
}

var _ SessionsRepository = (*MemorySessionsRepo)(nil)

func (r *MemorySessionsRepo) SaveSession(_ context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *session
	if session.EndTime != nil {
		end := *session.EndTime
		s.EndTime = &end
	}
	r.sessions[s.SessionID] = s
	return nil
}

// GetSession 用于测试与调试
func (r *MemorySessionsRepo) GetSession(sessionID string) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}
