package notifier

import (
	"context"
	"fmt"
	"time"

	"wisefido-fall/internal/common/config"
	"wisefido-fall/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// pushResponse 推送网关响应
type pushResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PushNotifier 推送网关客户端（照护人员 App 推送）
type PushNotifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewPushNotifier 创建推送网关客户端
func NewPushNotifier(cfg *config.PushConfig, logger *zap.Logger) *PushNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.GatewayURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	return &PushNotifier{
		httpClient: client,
		logger:     logger,
	}
}

// NotifyFall 调用推送网关
func (p *PushNotifier) NotifyFall(ctx context.Context, event *models.FallEvent) error {
	var response pushResponse
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetBody(NewFallMessage(event)).
		SetResult(&response).
		Post("/api/v1/push/fall")
	if err != nil {
		return fmt.Errorf("failed to call push gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode())
	}
	if response.Code != 0 && response.Code != 2000 {
		return fmt.Errorf("push gateway error: %s (code: %d)", response.Message, response.Code)
	}

	p.logger.Debug("Fall push sent",
		zap.String("event_id", event.EventID),
		zap.String("user_id", event.UserID),
	)
	return nil
}
