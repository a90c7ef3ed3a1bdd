package notifier

import (
	"context"
	"fmt"

	rediscommon "wisefido-fall/internal/common/redis"
	"wisefido-fall/internal/models"

	"github.com/go-redis/redis/v8"
)

// StreamNotifier 追加到 Redis Stream，供下游服务（报警、卡片聚合）消费
type StreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

// DefaultStreamMaxLen fall:events:stream 保留的近似条数
const DefaultStreamMaxLen = 10000

// NewStreamNotifier 创建 Redis Stream 通知器
func NewStreamNotifier(client *redis.Client, stream string) *StreamNotifier {
	return &StreamNotifier{
		client: client,
		stream: stream,
		maxLen: DefaultStreamMaxLen,
	}
}

// NotifyFall XADD 事件
func (n *StreamNotifier) NotifyFall(ctx context.Context, event *models.FallEvent) error {
	if _, err := rediscommon.PublishJSONToCappedStream(ctx, n.client, n.stream, n.maxLen, NewFallMessage(event)); err != nil {
		return fmt.Errorf("failed to publish fall event to stream %s: %w", n.stream, err)
	}
	return nil
}
