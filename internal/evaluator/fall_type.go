package evaluator

import (
	"math"

	"wisefido-fall/internal/models"
)

// ClassifyFallType 根据身体角度粗分跌倒方向，仅作为事件标签，不参与判定
func ClassifyFallType(th Thresholds, bodyAngle, confidence float64) models.FallType {
	switch {
	case math.Abs(bodyAngle) > th.DirectionalAngle && confidence > th.DirectionalConfidence:
		if bodyAngle > 0 {
			return models.FallTypeForward
		}
		return models.FallTypeBackward
	case math.Abs(bodyAngle) < th.LateralAngle:
		return models.FallTypeLateral
	default:
		return models.FallTypeUnknown
	}
}
