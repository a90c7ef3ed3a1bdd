package evaluator

import (
	"math"
	"time"

	"wisefido-fall/internal/models"
)

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

const frameInterval = 33 * time.Millisecond

func floatPtr(v float64) *float64 {
	return &v
}

// uprightLandmarks 站立姿态：鼻子可见度低，水平判定无法成立
func uprightLandmarks(centerY float64) models.Landmarks {
	var ls models.Landmarks
	for i := range ls {
		ls[i] = models.Landmark{X: 0.5, Y: centerY, Visibility: 0.9}
	}
	ls[models.Nose] = models.Landmark{X: 0.5, Y: math.Max(centerY-0.3, 0), Visibility: 0.3}
	ls[models.LeftShoulder] = models.Landmark{X: 0.45, Y: centerY - 0.2, Visibility: 0.9}
	ls[models.RightShoulder] = models.Landmark{X: 0.55, Y: centerY - 0.2, Visibility: 0.9}
	ls[models.LeftHip] = models.Landmark{X: 0.45, Y: centerY, Visibility: 0.9}
	ls[models.RightHip] = models.Landmark{X: 0.55, Y: centerY, Visibility: 0.9}
	ls[models.LeftAnkle] = models.Landmark{X: 0.45, Y: math.Min(centerY+0.3, 1), Visibility: 0.9}
	ls[models.RightAnkle] = models.Landmark{X: 0.55, Y: math.Min(centerY+0.3, 1), Visibility: 0.9}
	return ls
}

// horizontalLandmarks 平躺姿态：所有关键点同一高度
func horizontalLandmarks(centerY float64) models.Landmarks {
	var ls models.Landmarks
	for i := range ls {
		ls[i] = models.Landmark{X: 0.5, Y: centerY, Visibility: 0.9}
	}
	ls[models.Nose].X = 0.2
	ls[models.LeftShoulder].X = 0.3
	ls[models.RightShoulder].X = 0.3
	ls[models.LeftHip].X = 0.6
	ls[models.RightHip].X = 0.6
	ls[models.LeftAnkle].X = 0.9
	ls[models.RightAnkle].X = 0.9
	return ls
}

func newFrame(i int, ls models.Landmarks) models.PoseFrame {
	return models.PoseFrame{
		UserID:            "user-1",
		SessionID:         "session-1",
		Timestamp:         baseTime.Add(time.Duration(i) * frameInterval),
		FrameNumber:       int64(i),
		Landmarks:         ls,
		OverallConfidence: floatPtr(0.9),
	}
}

// standingFrames n 帧静止站立
func standingFrames(n int, centerY float64) []models.PoseFrame {
	frames := make([]models.PoseFrame, n)
	for i := range frames {
		frames[i] = newFrame(i, uprightLandmarks(centerY))
	}
	return frames
}

// fallSequence 30 帧站立 -> 10 帧下降（0.2 -> 0.85）-> 30 帧静止
func fallSequence() []models.PoseFrame {
	frames := standingFrames(30, 0.2)
	for k := 1; k <= 10; k++ {
		y := 0.2 + 0.065*float64(k)
		ls := uprightLandmarks(y)
		if y > 0.7 {
			ls = horizontalLandmarks(y)
		}
		frames = append(frames, newFrame(len(frames), ls))
	}
	for i := 0; i < 30; i++ {
		frames = append(frames, newFrame(len(frames), horizontalLandmarks(0.85)))
	}
	return frames
}

// squatCenterY 周期 30 帧（约 1 秒），0.3 <-> 0.6
func squatCenterY(i int) float64 {
	return 0.45 + 0.15*math.Sin(2*math.Pi*float64(i)/30)
}

// historyOf 按缓冲区语义返回第 i 帧之前的帧（最新在前）
func historyOf(frames []models.PoseFrame, i, capacity int) []models.PoseFrame {
	start := i - capacity
	if start < 0 {
		start = 0
	}
	prior := frames[start:i]
	history := make([]models.PoseFrame, len(prior))
	for j := range prior {
		history[j] = prior[len(prior)-1-j]
	}
	return history
}

// runSequence 逐帧评估
func runSequence(e *Evaluator, frames []models.PoseFrame) []Assessment {
	out := make([]Assessment, len(frames))
	for i := range frames {
		current := frames[i]
		out[i] = e.Evaluate(&current, historyOf(frames, i, 150))
		frames[i] = current
	}
	return out
}
