package models

// NoDetectionReason 未产生事件的原因
type NoDetectionReason string

const (
	ReasonInsufficientHistory NoDetectionReason = "insufficient_history"
	ReasonMalformedLandmarks  NoDetectionReason = "malformed_landmarks"
	ReasonLowConfidence       NoDetectionReason = "low_confidence"
	ReasonSitting             NoDetectionReason = "sitting_pattern"
	ReasonExercise            NoDetectionReason = "exercise_pattern"
	ReasonCameraMovement      NoDetectionReason = "camera_movement"
	ReasonBelowThreshold      NoDetectionReason = "below_threshold"
	ReasonCooldown            NoDetectionReason = "cooldown"
	ReasonBatchPending        NoDetectionReason = "batch_pending"
)

// Detection 单帧判定结果：NoDetection 或 Detected
type Detection interface {
	isDetection()
}

// NoDetection 本帧没有产生跌倒事件
type NoDetection struct {
	Reason NoDetectionReason
}

// Detected 本帧产生了一个新的跌倒事件
type Detected struct {
	Event *FallEvent
}

func (NoDetection) isDetection() {}
func (Detected) isDetection()    {}

// FrameResult processFrame 的返回值
type FrameResult struct {
	SessionID    string    `json:"session_id"`
	FrameCount   int64     `json:"frame_count"`
	FallDetected bool      `json:"fall_detected"`
	EventID      *string   `json:"event_id,omitempty"`
	Confidence   *float64  `json:"confidence,omitempty"`
	Severity     *Severity `json:"severity,omitempty"`
	Message      string    `json:"message"`
}

// FallStatus getFallStatus 的返回值
type FallStatus struct {
	UserID           string       `json:"user_id"`
	IsMonitoring     bool         `json:"is_monitoring"`
	SessionActive    bool         `json:"session_active"`
	CurrentSessionID *string      `json:"current_session_id,omitempty"`
	RecentFallEvents []*FallEvent `json:"recent_fall_events"`
}
