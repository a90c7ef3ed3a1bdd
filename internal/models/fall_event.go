package models

import (
	"time"
)

// Severity 跌倒严重程度
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank 用于比较严重程度
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast 取 s 与 floor 中较高者
func (s Severity) AtLeast(floor Severity) Severity {
	if floor.Rank() > s.Rank() {
		return floor
	}
	return s
}

// FallEventStatus 跌倒事件状态
type FallEventStatus string

const (
	FallStatusDetected      FallEventStatus = "DETECTED"
	FallStatusNotified      FallEventStatus = "NOTIFIED"
	FallStatusFalsePositive FallEventStatus = "FALSE_POSITIVE"
)

// FallType 跌倒方向标签
type FallType string

const (
	FallTypeForward  FallType = "FORWARD"
	FallTypeBackward FallType = "BACKWARD"
	FallTypeLateral  FallType = "LATERAL"
	FallTypeUnknown  FallType = "UNKNOWN"
)

// FallEvent 跌倒事件（对应 fall_events 表）
type FallEvent struct {
	EventID            string          `json:"event_id" db:"event_id"`
	UserID             string          `json:"user_id" db:"user_id"`
	SessionID          string          `json:"session_id" db:"session_id"`
	DetectedAt         time.Time       `json:"detected_at" db:"detected_at"`
	Severity           Severity        `json:"severity" db:"severity"`
	ConfidenceScore    float64         `json:"confidence_score" db:"confidence_score"`
	Status             FallEventStatus `json:"status" db:"status"`
	BodyAngle          float64         `json:"body_angle" db:"body_angle"`
	FallType           FallType        `json:"fall_type" db:"fall_type"`
	FalsePositive      bool            `json:"false_positive" db:"false_positive"`
	NotificationSent   bool            `json:"notification_sent" db:"notification_sent"`
	NotificationSentAt *time.Time      `json:"notification_sent_at,omitempty" db:"notification_sent_at"`
	FeedbackComment    *string         `json:"feedback_comment,omitempty" db:"feedback_comment"`
	FeedbackAt         *time.Time      `json:"feedback_at,omitempty" db:"feedback_at"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Clone 深拷贝，避免内存仓库与调用方共享指针字段
func (e *FallEvent) Clone() *FallEvent {
	c := *e
	if e.NotificationSentAt != nil {
		t := *e.NotificationSentAt
		c.NotificationSentAt = &t
	}
	if e.FeedbackComment != nil {
		s := *e.FeedbackComment
		c.FeedbackComment = &s
	}
	if e.FeedbackAt != nil {
		t := *e.FeedbackAt
		c.FeedbackAt = &t
	}
	return &c
}
