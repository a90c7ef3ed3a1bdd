package models

import "time"

// SessionStatus 监测会话状态
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionEnded  SessionStatus = "ENDED"
)

// Session 一个用户的连续监测流
type Session struct {
	SessionID   string        `json:"session_id" db:"session_id"`
	UserID      string        `json:"user_id" db:"user_id"`
	StartTime   time.Time     `json:"start_time" db:"start_time"`
	EndTime     *time.Time    `json:"end_time,omitempty" db:"end_time"`
	Status      SessionStatus `json:"status" db:"status"`
	TotalFrames int64         `json:"total_frames" db:"total_frames"`
	LastFrameAt time.Time     `json:"last_frame_at" db:"last_frame_at"`
}

// Active 会话是否仍在监测中
func (s *Session) Active() bool {
	return s.Status == SessionActive
}
