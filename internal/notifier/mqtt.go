package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-fall/internal/models"
)

// Publisher MQTT 发布能力（common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTNotifier 发布到 {prefix}{userID}
type MQTTNotifier struct {
	publisher   Publisher
	topicPrefix string
	qos         byte
}

// NewMQTTNotifier 创建 MQTT 通知器
func NewMQTTNotifier(publisher Publisher, topicPrefix string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{
		publisher:   publisher,
		topicPrefix: topicPrefix,
		qos:         qos,
	}
}

// Topic 用户的事件主题
func (n *MQTTNotifier) Topic(userID string) string {
	return n.topicPrefix + userID
}

// NotifyFall 发布事件
func (n *MQTTNotifier) NotifyFall(_ context.Context, event *models.FallEvent) error {
	payload, err := json.Marshal(NewFallMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal fall message: %w", err)
	}
	return n.publisher.Publish(n.Topic(event.UserID), n.qos, false, payload)
}
