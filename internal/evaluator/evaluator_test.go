package evaluator

import (
	"testing"
	"time"

	"wisefido-fall/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEvaluator_StandingNeverDetects(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), zap.NewNop())
	frames := standingFrames(40, 0.2)

	results := runSequence(e, frames)
	for i, a := range results {
		assert.False(t, a.Detected(), "frame %d", i)
	}
	assert.Equal(t, models.ReasonInsufficientHistory, results[28].Reason)
	assert.Equal(t, models.ReasonBelowThreshold, results[39].Reason)
	assert.Equal(t, 0.0, results[39].Score.Confidence)
}

func TestEvaluator_FallSequence(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), zap.NewNop())
	frames := fallSequence()

	results := runSequence(e, frames)

	first := -1
	for i, a := range results {
		if a.Detected() {
			first = i
			break
		}
	}
	require.Equal(t, 37, first, "first detection should be the first low horizontal frame")

	hit := results[first]
	assert.Equal(t, models.SeverityCritical, hit.Score.Severity)
	assert.Equal(t, 1.0, hit.Score.Confidence)
	assert.Equal(t, models.FallTypeLateral, hit.FallType)
	assert.Contains(t, hit.Score.Signals, SignalRapidDescent)
	assert.Contains(t, hit.Score.Signals, SignalSuddenAngleChange)

	// 直立下降阶段只有速度得分
	assert.Equal(t, models.ReasonBelowThreshold, results[36].Reason)
	assert.Equal(t, 0.45, results[36].Score.Confidence)

	// 派生字段写回帧
	assert.InDelta(t, 0.72, frames[first].CenterY, 1e-9)
	assert.Greater(t, frames[first].VelocityY, 1.9)
	assert.True(t, frames[first].IsHorizontal)

	// 静止躺地：低位 + 水平 + 无运动
	last := results[len(results)-1]
	assert.True(t, last.Detected())
	assert.Equal(t, 0.75, last.Score.Confidence)
	assert.Equal(t, models.SeverityHigh, last.Score.Severity)
	assert.Contains(t, last.Score.Signals, SignalNoMotion)
}

func TestEvaluator_InsufficientHistory(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), zap.NewNop())
	frames := fallSequence()[20:48]

	for i, a := range runSequence(e, frames) {
		assert.Equal(t, models.ReasonInsufficientHistory, a.Reason, "frame %d", i)
	}
}

func TestEvaluator_MalformedCurrentFrame(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), zap.NewNop())
	frames := standingFrames(40, 0.2)
	current := frames[39]
	current.Malformed = true

	a := e.Evaluate(&current, historyOf(frames, 39, 150))
	assert.Equal(t, models.ReasonMalformedLandmarks, a.Reason)
}

func TestEvaluator_MalformedHistorySkipped(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), zap.NewNop())
	frames := standingFrames(40, 0.2)
	for i := 0; i < 15; i++ {
		frames[i].Malformed = true
	}
	current := frames[39]

	a := e.Evaluate(&current, historyOf(frames, 39, 150))
	assert.Equal(t, models.ReasonInsufficientHistory, a.Reason)
	assert.Equal(t, 25, a.Features.HistoryFrames)
}

func TestEvaluator_LowConfidenceFiltered(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), zap.NewNop())
	frames := standingFrames(40, 0.2)

	current := frames[39]
	current.OverallConfidence = nil
	a := e.Evaluate(&current, historyOf(frames, 39, 150))
	assert.Equal(t, models.ReasonLowConfidence, a.Reason)

	current.OverallConfidence = floatPtr(0.2)
	a = e.Evaluate(&current, historyOf(frames, 39, 150))
	assert.Equal(t, models.ReasonLowConfidence, a.Reason)
}

func TestEvaluator_CameraMovementFiltered(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), zap.NewNop())
	frames := standingFrames(40, 0.2)
	current := frames[39]
	current.Landmarks = horizontalLandmarks(0.85)
	current.OverallConfidence = floatPtr(0.55)

	a := e.Evaluate(&current, historyOf(frames, 39, 150))
	assert.Equal(t, models.ReasonCameraMovement, a.Reason)
}

func TestEvaluator_SittingFiltered(t *testing.T) {
	th := DefaultThresholds()
	e := NewEvaluator(th, zap.NewNop())

	// 缓慢下降：每帧 0.006，间隔 100ms，速度 0.06/s
	frames := make([]models.PoseFrame, 61)
	for i := range frames {
		frames[i] = newFrame(i, uprightLandmarks(0.2+0.006*float64(i)))
		frames[i].Timestamp = baseTime.Add(time.Duration(i) * 100 * time.Millisecond)
	}
	current := frames[60]

	a := e.Evaluate(&current, historyOf(frames, 60, 150))
	assert.Equal(t, models.ReasonSitting, a.Reason)
}

func TestEvaluator_SquatSuppressedByExerciseFilter(t *testing.T) {
	th := DefaultThresholds()
	e := NewEvaluator(th, zap.NewNop())

	frames := make([]models.PoseFrame, 91)
	for i := 0; i < 90; i++ {
		frames[i] = newFrame(i, horizontalLandmarks(squatCenterY(i)))
	}
	frames[90] = newFrame(90, horizontalLandmarks(0.85))
	history := historyOf(frames, 90, 150)

	// 不经过过滤时本帧足以触发
	probe := frames[90]
	features, ok := ExtractFeatures(th, &probe, history)
	require.True(t, ok)
	score := ScoreFrame(th, &probe, features)
	require.True(t, score.Detected)
	require.GreaterOrEqual(t, score.Confidence, 0.7)

	current := frames[90]
	a := e.Evaluate(&current, history)
	assert.Equal(t, models.ReasonExercise, a.Reason)
}

func TestEvaluator_SquatUprightNeverDetects(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), zap.NewNop())

	frames := make([]models.PoseFrame, 120)
	for i := range frames {
		frames[i] = newFrame(i, uprightLandmarks(squatCenterY(i)))
	}
	for i, a := range runSequence(e, frames) {
		assert.False(t, a.Detected(), "frame %d", i)
	}
}
