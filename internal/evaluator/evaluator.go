package evaluator

import (
	"wisefido-fall/internal/models"

	"go.uber.org/zap"
)

// Assessment 单帧评估结果，Reason 为空表示本帧达到检测阈值
type Assessment struct {
	Reason   models.NoDetectionReason
	Features Features
	Score    Score
	FallType models.FallType
}

// Detected 是否达到检测阈值（冷却期由 Deduplicator 另行判断）
func (a Assessment) Detected() bool {
	return a.Reason == ""
}

// Evaluator 跌倒评估器：特征提取 -> 误报过滤 -> 置信度评分
// 纯计算，无 I/O，可并发调用（不同用户的帧）
type Evaluator struct {
	thresholds Thresholds
	logger     *zap.Logger
}

// NewEvaluator 创建评估器
func NewEvaluator(thresholds Thresholds, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		thresholds: thresholds,
		logger:     logger,
	}
}

// Thresholds 当前使用的阈值
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Extract 只计算派生特征（批量上报中非最后一帧使用）
func (e *Evaluator) Extract(current *models.PoseFrame, history []models.PoseFrame) (Features, bool) {
	if current.Malformed {
		return Features{}, false
	}
	return ExtractFeatures(e.thresholds, current, history)
}

// Evaluate 评估当前帧；history 为最新在前、不含当前帧的缓冲快照
func (e *Evaluator) Evaluate(current *models.PoseFrame, history []models.PoseFrame) Assessment {
	if current.Malformed {
		return Assessment{Reason: models.ReasonMalformedLandmarks}
	}

	features, ok := ExtractFeatures(e.thresholds, current, history)
	if !ok {
		return Assessment{Reason: models.ReasonInsufficientHistory, Features: features}
	}

	if reason, filtered := CheckFalsePositive(e.thresholds, current, history); filtered {
		e.logger.Debug("Fall candidate filtered",
			zap.String("user_id", current.UserID),
			zap.String("reason", string(reason)),
		)
		return Assessment{Reason: reason, Features: features}
	}

	score := ScoreFrame(e.thresholds, current, features)
	if !score.Detected {
		return Assessment{Reason: models.ReasonBelowThreshold, Features: features, Score: score}
	}

	e.logger.Debug("Fall candidate scored",
		zap.String("user_id", current.UserID),
		zap.Float64("confidence", score.Confidence),
		zap.String("severity", string(score.Severity)),
		zap.Strings("signals", score.Signals),
	)

	return Assessment{
		Features: features,
		Score:    score,
		FallType: eventFallType(e.thresholds, features, score),
	}
}

// eventFallType 事件标签使用检测置信度，而非帧的姿态识别置信度
func eventFallType(th Thresholds, f Features, s Score) models.FallType {
	return ClassifyFallType(th, f.BodyAngle, s.Confidence)
}
