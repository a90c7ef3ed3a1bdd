package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"wisefido-fall/internal/common/database"
	mqttcommon "wisefido-fall/internal/common/mqtt"
	rediscommon "wisefido-fall/internal/common/redis"
	"wisefido-fall/internal/config"
	"wisefido-fall/internal/consumer"
	"wisefido-fall/internal/evaluator"
	"wisefido-fall/internal/notifier"
	"wisefido-fall/internal/repository"
	"wisefido-fall/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// FallService 跌倒检测服务（整合各层）
type FallService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	hub       *notifier.Hub
	poseData  *PoseDataService
	detection *FallDetectionService
	events    *FallEventService

	dispatcher     *consumer.Dispatcher
	streamConsumer *consumer.StreamConsumer
	mqttConsumer   *consumer.MQTTConsumer

	wg sync.WaitGroup
}

// NewFallService 创建跌倒检测服务
func NewFallService(cfg *config.Config, logger *zap.Logger) (*FallService, error) {
	s := &FallService{
		config: cfg,
		logger: logger,
	}
	ctx := context.Background()

	// 1. 连接基础设施（按配置启用）
	if cfg.Storage.Backend == "postgres" {
		db, err := database.Connect(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		if err := repository.EnsureSchema(ctx, db); err != nil {
			s.closeInfra()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	if cfg.Fall.WindowBackend == "redis" || cfg.Ingest.StreamEnabled || cfg.Notify.StreamEnabled {
		client, err := rediscommon.Connect(ctx, &cfg.Redis)
		if err != nil {
			s.closeInfra()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redisClient = client
	}

	if cfg.Ingest.MQTTEnabled || cfg.Notify.MQTTEnabled {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.closeInfra()
			return nil, err
		}
		s.mqttClient = mqttClient
	}

	// 2. 创建 Repository 层
	var (
		fallEvents   repository.FallEventsRepository
		poseFrames   repository.PoseFramesRepository
		sessionsRepo repository.SessionsRepository
	)
	if s.db != nil {
		fallEvents = repository.NewPostgresFallEventsRepository(s.db)
		poseFrames = repository.NewPostgresPoseFramesRepository(s.db)
		sessionsRepo = repository.NewPostgresSessionsRepository(s.db)
	} else {
		fallEvents = repository.NewMemoryFallEventsRepo()
		poseFrames = repository.NewMemoryPoseFramesRepo(cfg.Fall.BufferCapacity)
		sessionsRepo = repository.NewMemorySessionsRepo()
	}

	// 3. 创建缓冲层
	windowOpts := store.WindowOptions{
		Capacity:  cfg.Fall.BufferCapacity,
		Retention: cfg.Fall.Retention,
		IdleTTL:   cfg.Fall.IdleTTL,
	}
	var window store.WindowedStore
	if cfg.Fall.WindowBackend == "redis" {
		window = store.NewRedisWindowStore(s.redisClient, windowOpts)
	} else {
		window = store.NewMemoryWindowStore(windowOpts)
	}

	// 4. 创建通知通道
	s.hub = notifier.NewHub(logger)
	channels := []notifier.Channel{{Name: "websocket", Notifier: s.hub}}
	if cfg.Notify.PushEnabled {
		channels = append(channels, notifier.Channel{Name: "push", Notifier: notifier.NewPushNotifier(&cfg.Push, logger)})
	}
	if cfg.Notify.MQTTEnabled {
		channels = append(channels, notifier.Channel{
			Name:     "mqtt",
			Notifier: notifier.NewMQTTNotifier(s.mqttClient, cfg.Notify.MQTTTopicPrefix, cfg.MQTT.QoS),
		})
	}
	if cfg.Notify.StreamEnabled {
		channels = append(channels, notifier.Channel{
			Name:     "stream",
			Notifier: notifier.NewStreamNotifier(s.redisClient, cfg.Notify.Stream),
		})
	}

	// 5. 创建 Service 层
	thresholds := cfg.Fall.Thresholds
	s.poseData = NewPoseDataService(window, store.NewSessionStore(), sessionsRepo, poseFrames,
		cfg.Fall.BufferCapacity, cfg.Fall.FrameQueueSize, logger)
	s.detection = NewFallDetectionService(
		s.poseData,
		evaluator.NewEvaluator(thresholds, logger),
		evaluator.NewDeduplicator(fallEvents, thresholds.Cooldown),
		fallEvents,
		notifier.NewMulti(logger, channels...),
		DetectionOptions{
			NotifyQueueSize: cfg.Fall.NotifyQueueSize,
			StatusLookback:  cfg.Fall.StatusLookback,
			StatusLimit:     cfg.Fall.StatusLimit,
		},
		logger,
	)
	s.events = NewFallEventService(fallEvents, logger)

	// 6. 创建接入层
	if cfg.Ingest.StreamEnabled || cfg.Ingest.MQTTEnabled {
		s.dispatcher = consumer.NewDispatcher(s.detection, cfg.Ingest.Workers, cfg.Ingest.QueueSize, logger)
	}
	if cfg.Ingest.StreamEnabled {
		s.streamConsumer = consumer.NewStreamConsumer(consumer.StreamConfig{
			Stream:        cfg.Ingest.Stream,
			ConsumerGroup: cfg.Ingest.ConsumerGroup,
			ConsumerName:  cfg.Ingest.ConsumerName,
			BatchSize:     cfg.Ingest.BatchSize,
			Block:         cfg.Ingest.Block,
		}, s.redisClient, s.dispatcher, logger)
	}
	if cfg.Ingest.MQTTEnabled {
		s.mqttConsumer = consumer.NewMQTTConsumer(s.mqttClient, cfg.Ingest.MQTTTopic, cfg.MQTT.QoS, s.dispatcher, logger)
	}

	return s, nil
}

// PoseData 姿态数据服务
func (s *FallService) PoseData() *PoseDataService { return s.poseData }

// Detection 跌倒检测服务
func (s *FallService) Detection() *FallDetectionService { return s.detection }

// Events 跌倒事件服务
func (s *FallService) Events() *FallEventService { return s.events }

// Hub WebSocket 广播中心
func (s *FallService) Hub() *notifier.Hub { return s.hub }

// SetClock 替换所有服务的时钟（测试使用）
func (s *FallService) SetClock(now func() time.Time) {
	s.poseData.SetClock(now)
	s.detection.SetClock(now)
	s.events.SetClock(now)
}

// Start 启动后台任务与接入消费者
func (s *FallService) Start(ctx context.Context) error {
	s.logger.Info("Starting fall detection service",
		zap.String("storage_backend", s.config.Storage.Backend),
		zap.String("window_backend", s.config.Fall.WindowBackend),
		zap.Bool("stream_ingest", s.config.Ingest.StreamEnabled),
		zap.Bool("mqtt_ingest", s.config.Ingest.MQTTEnabled),
	)

	s.poseData.Start(ctx)
	s.detection.Start(ctx)
	go s.hub.Run(ctx)

	if s.dispatcher != nil {
		s.dispatcher.Start(ctx)
	}

	if s.streamConsumer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.streamConsumer.Start(ctx); err != nil {
				s.logger.Error("Pose stream consumer stopped", zap.Error(err))
			}
		}()
	}

	if s.mqttConsumer != nil {
		if err := s.mqttConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt consumer: %w", err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJanitor(ctx)
	}()

	return nil
}

// runJanitor 定期结束空闲会话、淘汰过期缓冲与冷却记录
func (s *FallService) runJanitor(ctx context.Context) {
	interval := s.config.Fall.JanitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep 执行一次空闲清理
func (s *FallService) Sweep(ctx context.Context) {
	s.poseData.ExpireIdle(ctx, s.config.Fall.IdleTTL)
	s.detection.PruneCooldowns()
}

// Stop 停止服务；调用前应先取消 Start 使用的 ctx
func (s *FallService) Stop() error {
	s.logger.Info("Stopping fall detection service")

	if s.mqttConsumer != nil {
		if err := s.mqttConsumer.Stop(); err != nil {
			s.logger.Warn("Failed to unsubscribe pose topic", zap.Error(err))
		}
	}
	s.wg.Wait()

	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	s.poseData.Close()
	s.detection.Close()

	s.closeInfra()
	return nil
}

func (s *FallService) closeInfra() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
}
