package evaluator

import (
	"math"

	"wisefido-fall/internal/models"
)

// 触发信号名称，用于日志
const (
	SignalRapidDescent      = "rapid_descent"
	SignalStrongDescent     = "strong_descent"
	SignalLowPosition       = "low_position"
	SignalHorizontal        = "horizontal"
	SignalHorizontalLow     = "horizontal_low"
	SignalNoMotion          = "no_motion"
	SignalLittleMotion      = "little_motion"
	SignalSuddenAngleChange = "sudden_angle_change"
	SignalFallPattern       = "fall_pattern"
)

// Score 评分结果
type Score struct {
	Confidence float64
	Severity   models.Severity
	Detected   bool
	Signals    []string
}

// ScoreFrame 加权求和计算跌倒置信度与严重程度
func ScoreFrame(th Thresholds, frame *models.PoseFrame, f Features) Score {
	if frame.Confidence() < th.DetectionMinConfidence {
		return Score{Severity: models.SeverityLow}
	}

	w := th.Weights
	var (
		score        float64
		signals      []string
		noMotion     bool
		littleMotion bool
	)

	if f.VelocityY > th.VelocityThreshold {
		score += w.RapidDescent
		signals = append(signals, SignalRapidDescent)
		if f.VelocityY > th.VelocityStrong {
			score += w.StrongDescent
			signals = append(signals, SignalStrongDescent)
		}
	}

	low := f.CenterY > th.LowPosition
	if low {
		score += w.LowPosition
		signals = append(signals, SignalLowPosition)
	}

	if f.IsHorizontal {
		score += w.Horizontal
		signals = append(signals, SignalHorizontal)
		if low {
			score += w.HorizontalLow
			signals = append(signals, SignalHorizontalLow)
		}
	}

	if low {
		if f.MotionScore < th.NoMotion {
			score += w.NoMotionLow
			noMotion = true
			signals = append(signals, SignalNoMotion)
		} else if f.MotionScore < th.LittleMotion {
			score += w.LittleMotionLow
			littleMotion = true
			signals = append(signals, SignalLittleMotion)
		}
	}

	if f.AngleDelta > th.AngleChange {
		score += w.SuddenAngleChange
		signals = append(signals, SignalSuddenAngleChange)
	}

	if f.PatternMatched {
		score += w.FallPatternMatched
		signals = append(signals, SignalFallPattern)
	}

	confidence := roundScore(math.Min(math.Max(score, 0), 1))
	return Score{
		Confidence: confidence,
		Severity:   classifySeverity(th.Severity, confidence, noMotion, littleMotion),
		Detected:   confidence >= th.MinConfidenceScore,
		Signals:    signals,
	}
}

// classifySeverity 按置信度分档，再应用静止程度带来的下限
func classifySeverity(b SeverityBreakpoints, confidence float64, noMotion, littleMotion bool) models.Severity {
	severity := models.SeverityLow
	switch {
	case confidence >= b.Critical:
		severity = models.SeverityCritical
	case confidence >= b.High:
		severity = models.SeverityHigh
	case confidence >= b.Medium:
		severity = models.SeverityMedium
	}

	if noMotion {
		floor := models.SeverityHigh
		if confidence >= b.CriticalNoMotion {
			floor = models.SeverityCritical
		}
		severity = severity.AtLeast(floor)
	}
	if littleMotion {
		severity = severity.AtLeast(models.SeverityMedium)
	}
	return severity
}

// roundScore 保留 4 位小数，消除加权求和的浮点误差
func roundScore(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
