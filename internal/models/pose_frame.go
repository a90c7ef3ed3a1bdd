package models

import (
	"time"
)

// PoseFrame 单帧姿态观测
// CenterY 在入缓冲前计算；VelocityY / IsHorizontal / MotionScore / BodyAngle 由特征提取器填充
type PoseFrame struct {
	UserID            string    `json:"user_id"`
	SessionID         string    `json:"session_id"`
	Timestamp         time.Time `json:"timestamp"`
	FrameNumber       int64     `json:"frame_number"`
	Landmarks         Landmarks `json:"landmarks"`
	OverallConfidence *float64  `json:"overall_confidence"`

	// 派生字段
	CenterY      float64 `json:"center_y"`
	VelocityY    float64 `json:"velocity_y"`
	IsHorizontal bool    `json:"is_horizontal"`
	MotionScore  float64 `json:"motion_score"`
	BodyAngle    float64 `json:"body_angle"`

	// Malformed 关键点异常，仍然进入缓冲但不参与判定
	Malformed bool `json:"malformed,omitempty"`
}

// Confidence 整体置信度，缺失时为 0
func (f *PoseFrame) Confidence() float64 {
	if f.OverallConfidence == nil {
		return 0
	}
	return *f.OverallConfidence
}

// HipCenterY 左右髋关节 Y 坐标中点
func (f *PoseFrame) HipCenterY() float64 {
	return (f.Landmarks.At(LeftHip).Y + f.Landmarks.At(RightHip).Y) / 2
}

// FrameRequest 采集端上报的单帧数据（HTTP / Redis Stream / MQTT 共用）
type FrameRequest struct {
	UserID            string     `json:"user_id"`
	SessionID         string     `json:"session_id,omitempty"`
	Timestamp         int64      `json:"timestamp"` // Unix 毫秒，0 表示使用接收时间
	FrameNumber       int64      `json:"frame_number"`
	Landmarks         []Landmark `json:"landmarks"`
	OverallConfidence *float64   `json:"overall_confidence"`
}

// ToPoseFrame 转换为内部帧结构，关键点异常时置 Malformed 而不是报错
func (r *FrameRequest) ToPoseFrame(receivedAt time.Time) (*PoseFrame, error) {
	ts := receivedAt
	if r.Timestamp > 0 {
		ts = time.UnixMilli(r.Timestamp)
	}
	landmarks, err := LandmarksFromSlice(r.Landmarks)
	frame := &PoseFrame{
		UserID:            r.UserID,
		SessionID:         r.SessionID,
		Timestamp:         ts,
		FrameNumber:       r.FrameNumber,
		Landmarks:         landmarks,
		OverallConfidence: r.OverallConfidence,
		Malformed:         err != nil,
	}
	return frame, err
}
