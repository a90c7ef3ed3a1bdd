package store

import (
	"errors"
	"sync"
	"time"

	"wisefido-fall/internal/models"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// ErrSessionNotFound 会话不存在或已结束
var ErrSessionNotFound = errors.New("session not found")

// Resolution GetOrCreate 的结果
type Resolution struct {
	Session  models.Session
	Created  bool
	Replaced *models.Session // 被新会话替换而结束的旧会话
}

// SessionStore 用户当前会话表，按用户分片
// 每个用户同一时间只有一个 ACTIVE 会话
type SessionStore struct {
	shards []*sessionShard

	indexMu sync.RWMutex
	index   map[string]string // session_id -> user_id
}

type sessionShard struct {
	mu     sync.Mutex
	byUser map[string]*models.Session
}

// NewSessionStore 创建会话表
func NewSessionStore() *SessionStore {
	s := &SessionStore{
		shards: make([]*sessionShard, defaultShardCount),
		index:  make(map[string]string),
	}
	for i := range s.shards {
		s.shards[i] = &sessionShard{byUser: make(map[string]*models.Session)}
	}
	return s
}

func (s *SessionStore) shard(userID string) *sessionShard {
	return s.shards[xxhash.Sum64String(userID)%uint64(len(s.shards))]
}

// GetOrCreate 解析会话：沿用当前 ACTIVE 会话，否则按传入或新生成的 ID 创建
// 传入的 session_id 属于其他用户时忽略它并生成新 ID
func (s *SessionStore) GetOrCreate(userID, sessionID string, now time.Time) Resolution {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur := sh.byUser[userID]
	if cur != nil && cur.Active() && (sessionID == "" || cur.SessionID == sessionID) {
		return Resolution{Session: *cur}
	}

	if sessionID != "" {
		s.indexMu.RLock()
		owner, taken := s.index[sessionID]
		s.indexMu.RUnlock()
		if taken && owner != userID {
			sessionID = ""
		}
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	var replaced *models.Session
	if cur != nil && cur.Active() {
		ended := endSession(cur, now)
		replaced = &ended
		s.indexMu.Lock()
		delete(s.index, cur.SessionID)
		s.indexMu.Unlock()
	}

	created := &models.Session{
		SessionID: sessionID,
		UserID:    userID,
		StartTime: now,
		Status:    models.SessionActive,
	}
	sh.byUser[userID] = created

	s.indexMu.Lock()
	s.index[sessionID] = userID
	s.indexMu.Unlock()

	return Resolution{Session: *created, Created: true, Replaced: replaced}
}

// Touch 记录一帧，累加 TotalFrames
func (s *SessionStore) Touch(userID, sessionID string, at time.Time) (models.Session, error) {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur := sh.byUser[userID]
	if cur == nil || cur.SessionID != sessionID || !cur.Active() {
		return models.Session{}, ErrSessionNotFound
	}
	cur.TotalFrames++
	cur.LastFrameAt = at
	return *cur, nil
}

// Current 用户当前 ACTIVE 会话
func (s *SessionStore) Current(userID string) (models.Session, bool) {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur := sh.byUser[userID]
	if cur == nil || !cur.Active() {
		return models.Session{}, false
	}
	return *cur, true
}

// End 结束指定会话
func (s *SessionStore) End(sessionID string, at time.Time) (models.Session, error) {
	s.indexMu.RLock()
	userID, ok := s.index[sessionID]
	s.indexMu.RUnlock()
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}

	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur := sh.byUser[userID]
	if cur == nil || cur.SessionID != sessionID || !cur.Active() {
		return models.Session{}, ErrSessionNotFound
	}
	ended := endSession(cur, at)
	delete(sh.byUser, userID)

	s.indexMu.Lock()
	delete(s.index, sessionID)
	s.indexMu.Unlock()
	return ended, nil
}

// Owner 会话所属用户
func (s *SessionStore) Owner(sessionID string) (string, bool) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	userID, ok := s.index[sessionID]
	return userID, ok
}

// IdleUsers 超过 ttl 没有新帧的用户
func (s *SessionStore) IdleUsers(now time.Time, ttl time.Duration) []string {
	var users []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for userID, cur := range sh.byUser {
			if idle(cur, now, ttl) {
				users = append(users, userID)
			}
		}
		sh.mu.Unlock()
	}
	return users
}

// ExpireUser 用户会话仍然空闲时结束它
func (s *SessionStore) ExpireUser(userID string, now time.Time, ttl time.Duration) (models.Session, bool) {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur := sh.byUser[userID]
	if cur == nil || !idle(cur, now, ttl) {
		return models.Session{}, false
	}
	ended := endSession(cur, now)
	delete(sh.byUser, userID)

	s.indexMu.Lock()
	delete(s.index, cur.SessionID)
	s.indexMu.Unlock()
	return ended, true
}

func idle(cur *models.Session, now time.Time, ttl time.Duration) bool {
	last := cur.LastFrameAt
	if last.IsZero() {
		last = cur.StartTime
	}
	return now.Sub(last) >= ttl
}

func endSession(cur *models.Session, at time.Time) models.Session {
	end := at
	cur.Status = models.SessionEnded
	cur.EndTime = &end
	return *cur
}
