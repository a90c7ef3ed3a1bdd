package store

import (
	"context"
	"sync"
	"time"

	"wisefido-fall/internal/models"

	"github.com/cespare/xxhash/v2"
)

const defaultShardCount = 32

// MemoryWindowStore 进程内分片环形缓冲
// 分片锁只保护 map，每个用户的缓冲区有独立的锁，不同用户之间没有全局锁
type MemoryWindowStore struct {
	opts   WindowOptions
	shards []*windowShard
	now    func() time.Time
}

type windowShard struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer
}

type ringBuffer struct {
	mu        sync.RWMutex
	frames    []models.PoseFrame
	head      int // 下一次写入位置
	size      int
	touchedAt time.Time
}

// NewMemoryWindowStore 创建内存缓冲
func NewMemoryWindowStore(opts WindowOptions) *MemoryWindowStore {
	s := &MemoryWindowStore{
		opts:   opts.normalized(),
		shards: make([]*windowShard, defaultShardCount),
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &windowShard{buffers: make(map[string]*ringBuffer)}
	}
	return s
}

// SetClock 替换时钟（用于测试空闲淘汰）
func (s *MemoryWindowStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MemoryWindowStore) shard(userID string) *windowShard {
	return s.shards[xxhash.Sum64String(userID)%uint64(len(s.shards))]
}

func (s *MemoryWindowStore) buffer(userID string, create bool) *ringBuffer {
	sh := s.shard(userID)
	sh.mu.RLock()
	b, ok := sh.buffers[userID]
	sh.mu.RUnlock()
	if ok || !create {
		return b
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if b, ok = sh.buffers[userID]; !ok {
		b = &ringBuffer{frames: make([]models.PoseFrame, s.opts.Capacity)}
		sh.buffers[userID] = b
	}
	return b
}

// Append 追加一帧，超出容量或保留时长的旧帧被淘汰
func (s *MemoryWindowStore) Append(_ context.Context, userID string, frame models.PoseFrame) error {
	b := s.buffer(userID, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.frames)
	b.frames[b.head] = frame
	b.head = (b.head + 1) % capacity
	if b.size < capacity {
		b.size++
	}
	b.touchedAt = s.now()

	cutoff := frame.Timestamp.Add(-s.opts.Retention)
	for b.size > 1 {
		oldest := (b.head - b.size + capacity) % capacity
		if !b.frames[oldest].Timestamp.Before(cutoff) {
			break
		}
		b.frames[oldest] = models.PoseFrame{}
		b.size--
	}
	return nil
}

// snapshot 最新在前的拷贝，limit <= 0 表示全部
func (b *ringBuffer) snapshot(limit int) []models.PoseFrame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.size
	if limit > 0 && limit < n {
		n = limit
	}
	capacity := len(b.frames)
	out := make([]models.PoseFrame, n)
	for i := 0; i < n; i++ {
		out[i] = b.frames[(b.head-1-i+capacity)%capacity]
	}
	return out
}

// Recent 最近 limit 帧
func (s *MemoryWindowStore) Recent(_ context.Context, userID string, limit int) ([]models.PoseFrame, error) {
	b := s.buffer(userID, false)
	if b == nil {
		return []models.PoseFrame{}, nil
	}
	return b.snapshot(limit), nil
}

// RecentSince 相对最新一帧 window 时长内的帧
func (s *MemoryWindowStore) RecentSince(ctx context.Context, userID string, window time.Duration) ([]models.PoseFrame, error) {
	frames, err := s.Recent(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	return withinRetention(frames, window), nil
}

// Latest 最新一帧
func (s *MemoryWindowStore) Latest(_ context.Context, userID string) (models.PoseFrame, error) {
	b := s.buffer(userID, false)
	if b == nil {
		return models.PoseFrame{}, ErrWindowMiss
	}
	frames := b.snapshot(1)
	if len(frames) == 0 {
		return models.PoseFrame{}, ErrWindowMiss
	}
	return frames[0], nil
}

// Len 当前缓冲帧数
func (s *MemoryWindowStore) Len(_ context.Context, userID string) (int, error) {
	b := s.buffer(userID, false)
	if b == nil {
		return 0, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size, nil
}

// Clear 删除用户缓冲
func (s *MemoryWindowStore) Clear(_ context.Context, userID string) error {
	sh := s.shard(userID)
	sh.mu.Lock()
	delete(sh.buffers, userID)
	sh.mu.Unlock()
	return nil
}

// EvictExpired 淘汰超过 IdleTTL 没有新帧的缓冲，返回淘汰的用户数
func (s *MemoryWindowStore) EvictExpired(_ context.Context, now time.Time) (int, error) {
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for userID, b := range sh.buffers {
			b.mu.RLock()
			idle := now.Sub(b.touchedAt) >= s.opts.IdleTTL
			b.mu.RUnlock()
			if idle {
				delete(sh.buffers, userID)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted, nil
}
