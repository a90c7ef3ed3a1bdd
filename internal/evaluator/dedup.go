package evaluator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-fall/internal/models"
)

// FallEventFinder 冷却期查询所需的仓库能力
type FallEventFinder interface {
	FindFallEventsSince(ctx context.Context, userID string, since time.Time) ([]*models.FallEvent, error)
}

// Deduplicator 同一用户冷却期内最多产生一个跌倒事件
// 进程内记录预占时间，同时查询仓库覆盖重启与多实例的情况
type Deduplicator struct {
	finder   FallEventFinder
	cooldown time.Duration

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	reserved map[string]time.Time
}

// NewDeduplicator 创建去重器
func NewDeduplicator(finder FallEventFinder, cooldown time.Duration) *Deduplicator {
	return &Deduplicator{
		finder:   finder,
		cooldown: cooldown,
		locks:    make(map[string]*sync.Mutex),
		reserved: make(map[string]time.Time),
	}
}

func (d *Deduplicator) userLock(userID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[userID] = l
	}
	return l
}

// TryReserve 冷却期内没有事件时预占本次事件，返回 false 表示应抑制
func (d *Deduplicator) TryReserve(ctx context.Context, userID string, now time.Time) (bool, error) {
	l := d.userLock(userID)
	l.Lock()
	defer l.Unlock()

	d.mu.Lock()
	last, ok := d.reserved[userID]
	d.mu.Unlock()
	if ok && now.Sub(last) < d.cooldown {
		return false, nil
	}

	if d.finder != nil {
		events, err := d.finder.FindFallEventsSince(ctx, userID, now.Add(-d.cooldown))
		if err != nil {
			return false, fmt.Errorf("failed to check fall event cooldown: %w", err)
		}
		if len(events) > 0 {
			return false, nil
		}
	}

	d.mu.Lock()
	d.reserved[userID] = now
	d.mu.Unlock()
	return true, nil
}

// Cancel 事件未能持久化时撤销预占
func (d *Deduplicator) Cancel(userID string, reservedAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.reserved[userID]; ok && last.Equal(reservedAt) {
		delete(d.reserved, userID)
	}
}

// Prune 清理已过冷却期的预占记录
func (d *Deduplicator) Prune(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for userID, last := range d.reserved {
		if now.Sub(last) >= d.cooldown {
			delete(d.reserved, userID)
			delete(d.locks, userID)
			removed++
		}
	}
	return removed
}
