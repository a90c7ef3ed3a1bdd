package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-fall/internal/models"

	"github.com/go-redis/redis/v8"
)

// RedisWindowStore 基于 Redis List 的缓冲（多实例共享）
// LPUSH + LTRIM 控制容量，EXPIRE 实现空闲淘汰，保留时长在读取时过滤
type RedisWindowStore struct {
	client *redis.Client
	opts   WindowOptions
}

// NewRedisWindowStore 创建 Redis 缓冲
func NewRedisWindowStore(client *redis.Client, opts WindowOptions) *RedisWindowStore {
	return &RedisWindowStore{
		client: client,
		opts:   opts.normalized(),
	}
}

func windowKey(userID string) string {
	return fmt.Sprintf("fall:window:%s", userID)
}

// Append 追加一帧
func (r *RedisWindowStore) Append(ctx context.Context, userID string, frame models.PoseFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal pose frame: %w", err)
	}

	key := windowKey(userID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(r.opts.Capacity-1))
	pipe.Expire(ctx, key, r.opts.IdleTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append pose frame: %w", err)
	}
	return nil
}

func (r *RedisWindowStore) load(ctx context.Context, userID string, limit int) ([]models.PoseFrame, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	values, err := r.client.LRange(ctx, windowKey(userID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pose window: %w", err)
	}

	frames := make([]models.PoseFrame, 0, len(values))
	for _, v := range values {
		var f models.PoseFrame
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pose frame: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// Recent 最近 limit 帧（已按保留时长过滤）
func (r *RedisWindowStore) Recent(ctx context.Context, userID string, limit int) ([]models.PoseFrame, error) {
	frames, err := r.load(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return withinRetention(frames, r.opts.Retention), nil
}

// RecentSince 相对最新一帧 window 时长内的帧
func (r *RedisWindowStore) RecentSince(ctx context.Context, userID string, window time.Duration) ([]models.PoseFrame, error) {
	if window > r.opts.Retention {
		window = r.opts.Retention
	}
	frames, err := r.load(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	return withinRetention(frames, window), nil
}

// Latest 最新一帧
func (r *RedisWindowStore) Latest(ctx context.Context, userID string) (models.PoseFrame, error) {
	v, err := r.client.LIndex(ctx, windowKey(userID), 0).Result()
	if err != nil {
		if err == redis.Nil {
			return models.PoseFrame{}, ErrWindowMiss
		}
		return models.PoseFrame{}, fmt.Errorf("failed to read latest pose frame: %w", err)
	}
	var f models.PoseFrame
	if err := json.Unmarshal([]byte(v), &f); err != nil {
		return models.PoseFrame{}, fmt.Errorf("failed to unmarshal pose frame: %w", err)
	}
	return f, nil
}

// Len 列表长度（未按保留时长过滤）
func (r *RedisWindowStore) Len(ctx context.Context, userID string) (int, error) {
	n, err := r.client.LLen(ctx, windowKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read pose window length: %w", err)
	}
	return int(n), nil
}

// Clear 删除用户缓冲
func (r *RedisWindowStore) Clear(ctx context.Context, userID string) error {
	return r.client.Del(ctx, windowKey(userID)).Err()
}

// EvictExpired 空闲淘汰由 key 的 TTL 完成
func (r *RedisWindowStore) EvictExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
