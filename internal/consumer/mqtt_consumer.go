package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqttcommon "wisefido-fall/internal/common/mqtt"
	"wisefido-fall/internal/models"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 订阅 wisefido/pose/{user_id}/frames
type MQTTConsumer struct {
	subscriber Subscriber
	topic      string
	qos        byte
	dispatcher *Dispatcher
	logger     *zap.Logger
	ctx        context.Context
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(subscriber Subscriber, topic string, qos byte, dispatcher *Dispatcher, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		subscriber: subscriber,
		topic:      topic,
		qos:        qos,
		dispatcher: dispatcher,
		logger:     logger,
		ctx:        context.Background(),
	}
}

// Start 订阅主题
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.ctx = ctx
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return err
	}
	c.logger.Info("Pose MQTT consumer started", zap.String("topic", c.topic))
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() error {
	return c.subscriber.Unsubscribe(c.topic)
}

func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	var req models.FrameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if req.UserID == "" {
		req.UserID = userIDFromTopic(topic)
	}
	if req.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	return c.dispatcher.Submit(c.ctx, &req, nil)
}

// userIDFromTopic wisefido/pose/{user_id}/frames -> user_id
func userIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 4 && parts[1] == "pose" && parts[3] == "frames" {
		return parts[2]
	}
	return ""
}
