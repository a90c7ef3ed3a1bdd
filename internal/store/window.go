package store

import (
	"context"
	"errors"
	"time"

	"wisefido-fall/internal/models"
)

// ErrWindowMiss 用户缓冲区不存在或为空
var ErrWindowMiss = errors.New("window miss")

// WindowedStore 每个用户的滚动帧缓冲（用于在单元测试与单实例部署中替换 Redis）
// 返回的帧均为最新在前
type WindowedStore interface {
	Append(ctx context.Context, userID string, frame models.PoseFrame) error
	Recent(ctx context.Context, userID string, limit int) ([]models.PoseFrame, error)
	RecentSince(ctx context.Context, userID string, window time.Duration) ([]models.PoseFrame, error)
	Latest(ctx context.Context, userID string) (models.PoseFrame, error)
	Len(ctx context.Context, userID string) (int, error)
	Clear(ctx context.Context, userID string) error
	EvictExpired(ctx context.Context, now time.Time) (int, error)
}

// WindowOptions 缓冲区参数
type WindowOptions struct {
	Capacity  int           // 每用户最多保留的帧数（30fps 下 5 秒）
	Retention time.Duration // 相对最新一帧的保留时长
	IdleTTL   time.Duration // 无新帧超过该时长后整体淘汰
}

// DefaultWindowOptions 默认缓冲区参数
func DefaultWindowOptions() WindowOptions {
	return WindowOptions{
		Capacity:  150,
		Retention: 5 * time.Second,
		IdleTTL:   300 * time.Second,
	}
}

func (o WindowOptions) normalized() WindowOptions {
	def := DefaultWindowOptions()
	if o.Capacity <= 0 {
		o.Capacity = def.Capacity
	}
	if o.Retention <= 0 {
		o.Retention = def.Retention
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = def.IdleTTL
	}
	return o
}

// withinRetention 截取相对 newest 不超过 window 的前缀（输入最新在前）
func withinRetention(frames []models.PoseFrame, window time.Duration) []models.PoseFrame {
	if len(frames) == 0 {
		return frames
	}
	cutoff := frames[0].Timestamp.Add(-window)
	for i, f := range frames {
		if f.Timestamp.Before(cutoff) {
			return frames[:i]
		}
	}
	return frames
}
