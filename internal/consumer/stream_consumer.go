package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "wisefido-fall/internal/common/redis"
	"wisefido-fall/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamConfig Redis Streams 接入配置
type StreamConfig struct {
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int64
	Block         time.Duration
}

// StreamConsumer 从 Redis Streams 读取姿态帧
type StreamConsumer struct {
	config      StreamConfig
	redisClient *redis.Client
	dispatcher  *Dispatcher
	logger      *zap.Logger
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(cfg StreamConfig, redisClient *redis.Client, dispatcher *Dispatcher, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

// Start 启动消费循环，ctx 取消后返回
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.config.Stream, c.config.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.config.Stream, err)
	}

	c.logger.Info("Pose stream consumer started",
		zap.String("stream", c.config.Stream),
		zap.String("consumer_group", c.config.ConsumerGroup),
		zap.String("consumer_name", c.config.ConsumerName),
	)

	backoffDuration := time.Second // 初始退避时间
	maxBackoff := 30 * time.Second // 最大退避时间

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume pose stream",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)

			// 指数退避：等待后重试
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// consumeOnce 读取一批消息并投递到 Dispatcher
func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.config.Stream,
		c.config.ConsumerGroup,
		c.config.ConsumerName,
		c.config.BatchSize,
		c.config.Block,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", c.config.Stream, err)
	}

	for _, msg := range messages {
		req, err := decodeStreamFrame(msg)
		if err != nil {
			// 无法解析的消息直接确认，避免反复投递
			c.logger.Warn("Dropping undecodable pose message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			c.ack(msg.ID)
			continue
		}

		id := msg.ID
		if err := c.dispatcher.Submit(ctx, req, func(error) { c.ack(id) }); err != nil {
			return fmt.Errorf("failed to submit pose frame: %w", err)
		}
	}
	return nil
}

func (c *StreamConsumer) ack(id string) {
	// 使用独立 context，关闭过程中已处理的消息也能确认
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rediscommon.AckMessages(ctx, c.redisClient, c.config.Stream, c.config.ConsumerGroup, id); err != nil {
		c.logger.Warn("Failed to ack pose message",
			zap.String("message_id", id),
			zap.Error(err),
		)
	}
}

func decodeStreamFrame(msg rediscommon.StreamMessage) (*models.FrameRequest, error) {
	data, ok := msg.Data()
	if !ok {
		return nil, fmt.Errorf("missing data field")
	}
	var req models.FrameRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	return &req, nil
}
