package evaluator

import (
	"wisefido-fall/internal/models"

	"gonum.org/v1/gonum/stat"
)

// CheckFalsePositive 在评分前检查误报模式，任一命中即抑制本帧
func CheckFalsePositive(th Thresholds, current *models.PoseFrame, history []models.PoseFrame) (models.NoDetectionReason, bool) {
	if current.OverallConfidence == nil || *current.OverallConfidence < th.LowConfidence {
		return models.ReasonLowConfidence, true
	}

	valid := validHistory(history)

	if isSitting(th, current, chronological(current, valid, th.SittingWindowFrames)) {
		return models.ReasonSitting, true
	}
	if isExercising(th, chronological(current, valid, th.ExerciseWindowFrames)) {
		return models.ReasonExercise, true
	}
	if isCameraMovement(th, chronological(current, valid, th.CameraWindowFrames)) {
		return models.ReasonCameraMovement, true
	}
	return "", false
}

// isSitting 缓慢单向下降且停在中等高度
func isSitting(th Thresholds, current *models.PoseFrame, frames []*models.PoseFrame) bool {
	slow := 0
	for i := 1; i < len(frames); i++ {
		v := velocityY(frames[i], frames[i-1])
		if v > 0 && v < th.SittingVelocityMax {
			slow++
		}
	}
	if slow < th.SittingMinSamples {
		return false
	}
	y := current.HipCenterY()
	return y > th.SittingCenterYMin && y < th.SittingCenterYMax
}

// isExercising 周期性上下运动（深蹲、跳跃等）
func isExercising(th Thresholds, frames []*models.PoseFrame) bool {
	return countReversals(centerSeries(frames), th.ExerciseMinAmplitude) >= th.ExerciseMinReversals
}

// countReversals 统计方向反转次数，反向移动达到 minAmplitude 才算一次
func countReversals(ys []float64, minAmplitude float64) int {
	if len(ys) < 2 {
		return 0
	}
	direction := 0
	extreme := ys[0]
	reversals := 0
	for _, y := range ys[1:] {
		switch direction {
		case 0:
			if y-extreme >= minAmplitude {
				direction, extreme = 1, y
			} else if extreme-y >= minAmplitude {
				direction, extreme = -1, y
			}
		case 1:
			if y > extreme {
				extreme = y
			} else if extreme-y >= minAmplitude {
				direction, extreme = -1, y
				reversals++
			}
		case -1:
			if y < extreme {
				extreme = y
			} else if y-extreme >= minAmplitude {
				direction, extreme = 1, y
				reversals++
			}
		}
	}
	return reversals
}

// isCameraMovement 当前帧置信度相对前几帧均值骤降
func isCameraMovement(th Thresholds, frames []*models.PoseFrame) bool {
	if len(frames) < 2 {
		return false
	}
	prior := make([]float64, len(frames)-1)
	for i, f := range frames[:len(frames)-1] {
		prior[i] = f.Confidence()
	}
	drop := stat.Mean(prior, nil) - frames[len(frames)-1].Confidence()
	return drop > th.CameraConfidenceDrop
}
