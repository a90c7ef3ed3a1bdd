package config

import (
	"os"
	"strconv"
	"time"

	"wisefido-fall/internal/common/config"
	"wisefido-fall/internal/evaluator"
)

// Config 跌倒检测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	Push     config.PushConfig

	HTTP struct {
		Addr string // 监听地址，默认 ":8090"
	}

	// 持久化后端：postgres | memory
	Storage struct {
		Backend string
	}

	// 帧接入配置
	Ingest struct {
		StreamEnabled bool
		Stream        string // 姿态帧流，如 "pose:frames:stream"
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64         // 每次 XREADGROUP 读取的消息数
		Block         time.Duration // XREADGROUP 阻塞时长
		MQTTEnabled   bool
		MQTTTopic     string // 如 "wisefido/pose/+/frames"
		Workers       int    // 按用户分区的有序 worker 数
		QueueSize     int    // 每个 worker 的队列长度
	}

	// 通知通道配置
	Notify struct {
		PushEnabled     bool
		MQTTEnabled     bool
		MQTTTopicPrefix string // 如 "wisefido/fall/"
		StreamEnabled   bool
		Stream          string // 如 "fall:events:stream"
	}

	// 检测引擎配置
	Fall struct {
		WindowBackend   string        // memory | redis
		BufferCapacity  int           // 每用户缓冲帧数，默认 150
		Retention       time.Duration // 默认 5 秒
		IdleTTL         time.Duration // 默认 300 秒
		JanitorInterval time.Duration // 空闲会话清理间隔
		FrameQueueSize  int           // 异步帧持久化队列
		NotifyQueueSize int           // 异步通知队列
		StatusLookback  time.Duration // getFallStatus 返回的事件范围，默认 24 小时
		StatusLimit     int

		Thresholds evaluator.Thresholds
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5
	cfg.Database.ConnMaxLifetime = 30 * time.Minute
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 20
	cfg.Redis.DialTimeout = 5 * time.Second
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-fall")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Push.Timeout = 5 * time.Second
	cfg.Push.RetryCount = 2
	cfg.Push.LoadFromEnv("PUSH")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")
	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", "postgres")

	cfg.Ingest.StreamEnabled = getEnvBool("INGEST_STREAM_ENABLED", true)
	cfg.Ingest.Stream = getEnv("STREAM_POSE_FRAMES", "pose:frames:stream")
	cfg.Ingest.ConsumerGroup = getEnv("CONSUMER_GROUP", "fall-detection-group")
	cfg.Ingest.ConsumerName = getEnv("CONSUMER_NAME", "fall-detection-1")
	cfg.Ingest.BatchSize = int64(getEnvInt("INGEST_BATCH_SIZE", 50))
	cfg.Ingest.Block = getEnvDuration("INGEST_BLOCK", time.Second)
	cfg.Ingest.MQTTEnabled = getEnvBool("INGEST_MQTT_ENABLED", false)
	cfg.Ingest.MQTTTopic = getEnv("MQTT_POSE_TOPIC", "wisefido/pose/+/frames")
	cfg.Ingest.Workers = getEnvInt("INGEST_WORKERS", 8)
	cfg.Ingest.QueueSize = getEnvInt("INGEST_QUEUE_SIZE", 256)

	cfg.Notify.PushEnabled = getEnvBool("NOTIFY_PUSH_ENABLED", cfg.Push.GatewayURL != "")
	cfg.Notify.MQTTEnabled = getEnvBool("NOTIFY_MQTT_ENABLED", false)
	cfg.Notify.MQTTTopicPrefix = getEnv("MQTT_FALL_TOPIC_PREFIX", "wisefido/fall/")
	cfg.Notify.StreamEnabled = getEnvBool("NOTIFY_STREAM_ENABLED", true)
	cfg.Notify.Stream = getEnv("STREAM_FALL_EVENTS", "fall:events:stream")

	cfg.Fall.WindowBackend = getEnv("WINDOW_BACKEND", "memory")
	cfg.Fall.BufferCapacity = getEnvInt("FALL_BUFFER_CAPACITY", 150)
	cfg.Fall.Retention = getEnvDuration("FALL_RETENTION", 5*time.Second)
	cfg.Fall.IdleTTL = getEnvDuration("FALL_IDLE_TTL", 300*time.Second)
	cfg.Fall.JanitorInterval = getEnvDuration("FALL_JANITOR_INTERVAL", 30*time.Second)
	cfg.Fall.FrameQueueSize = getEnvInt("FALL_FRAME_QUEUE_SIZE", 1024)
	cfg.Fall.NotifyQueueSize = getEnvInt("FALL_NOTIFY_QUEUE_SIZE", 128)
	cfg.Fall.StatusLookback = getEnvDuration("FALL_STATUS_LOOKBACK", 24*time.Hour)
	cfg.Fall.StatusLimit = getEnvInt("FALL_STATUS_LIMIT", 10)

	cfg.Fall.Thresholds = evaluator.DefaultThresholds()
	loadThresholds(&cfg.Fall.Thresholds)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// loadThresholds 用 FALL_ 前缀的环境变量覆盖判定阈值
func loadThresholds(th *evaluator.Thresholds) {
	ints := map[string]*int{
		"FALL_MIN_HISTORY_FRAMES":     &th.MinHistoryFrames,
		"FALL_MOTION_WINDOW_FRAMES":   &th.MotionWindowFrames,
		"FALL_ANGLE_LOOKBACK_FRAMES":  &th.AngleLookbackFrames,
		"FALL_PATTERN_WINDOW_FRAMES":  &th.PatternWindowFrames,
		"FALL_PATTERN_STOP_FRAMES":    &th.PatternStopFrames,
		"FALL_SITTING_WINDOW_FRAMES":  &th.SittingWindowFrames,
		"FALL_SITTING_MIN_SAMPLES":    &th.SittingMinSamples,
		"FALL_EXERCISE_WINDOW_FRAMES": &th.ExerciseWindowFrames,
		"FALL_EXERCISE_MIN_REVERSALS": &th.ExerciseMinReversals,
		"FALL_CAMERA_WINDOW_FRAMES":   &th.CameraWindowFrames,
	}
	for key, p := range ints {
		*p = getEnvInt(key, *p)
	}

	floats := map[string]*float64{
		"FALL_HORIZONTAL_NOSE_ANKLE":       &th.HorizontalNoseAnkle,
		"FALL_HORIZONTAL_TORSO":            &th.HorizontalTorso,
		"FALL_HORIZONTAL_VISIBILITY":       &th.HorizontalVisibility,
		"FALL_PATTERN_STOP_DELTA":          &th.PatternStopDelta,
		"FALL_LOW_CONFIDENCE":              &th.LowConfidence,
		"FALL_SITTING_VELOCITY_MAX":        &th.SittingVelocityMax,
		"FALL_SITTING_CENTER_Y_MIN":        &th.SittingCenterYMin,
		"FALL_SITTING_CENTER_Y_MAX":        &th.SittingCenterYMax,
		"FALL_EXERCISE_MIN_AMPLITUDE":      &th.ExerciseMinAmplitude,
		"FALL_CAMERA_CONFIDENCE_DROP":      &th.CameraConfidenceDrop,
		"FALL_DETECTION_MIN_CONFIDENCE":    &th.DetectionMinConfidence,
		"FALL_VELOCITY_THRESHOLD":          &th.VelocityThreshold,
		"FALL_VELOCITY_STRONG":             &th.VelocityStrong,
		"FALL_LOW_POSITION":                &th.LowPosition,
		"FALL_NO_MOTION":                   &th.NoMotion,
		"FALL_LITTLE_MOTION":               &th.LittleMotion,
		"FALL_ANGLE_CHANGE":                &th.AngleChange,
		"FALL_MIN_CONFIDENCE_SCORE":        &th.MinConfidenceScore,
		"FALL_WEIGHT_RAPID_DESCENT":        &th.Weights.RapidDescent,
		"FALL_WEIGHT_STRONG_DESCENT":       &th.Weights.StrongDescent,
		"FALL_WEIGHT_LOW_POSITION":         &th.Weights.LowPosition,
		"FALL_WEIGHT_HORIZONTAL":           &th.Weights.Horizontal,
		"FALL_WEIGHT_HORIZONTAL_LOW":       &th.Weights.HorizontalLow,
		"FALL_WEIGHT_NO_MOTION_LOW":        &th.Weights.NoMotionLow,
		"FALL_WEIGHT_LITTLE_MOTION_LOW":    &th.Weights.LittleMotionLow,
		"FALL_WEIGHT_SUDDEN_ANGLE_CHANGE":  &th.Weights.SuddenAngleChange,
		"FALL_WEIGHT_FALL_PATTERN":         &th.Weights.FallPatternMatched,
		"FALL_SEVERITY_CRITICAL":           &th.Severity.Critical,
		"FALL_SEVERITY_CRITICAL_NO_MOTION": &th.Severity.CriticalNoMotion,
		"FALL_SEVERITY_HIGH":               &th.Severity.High,
		"FALL_SEVERITY_MEDIUM":             &th.Severity.Medium,
		"FALL_DIRECTIONAL_ANGLE":           &th.DirectionalAngle,
		"FALL_DIRECTIONAL_CONFIDENCE":      &th.DirectionalConfidence,
		"FALL_LATERAL_ANGLE":               &th.LateralAngle,
	}
	for key, p := range floats {
		*p = getEnvFloat(key, *p)
	}

	th.Cooldown = getEnvDuration("FALL_COOLDOWN", th.Cooldown)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}
