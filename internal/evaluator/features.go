package evaluator

import (
	"math"

	"wisefido-fall/internal/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Features 单帧派生特征
type Features struct {
	CenterY        float64
	VelocityY      float64 // 正值表示向下运动
	IsHorizontal   bool
	MotionScore    float64 // 越小越静止
	BodyAngle      float64 // 肩中点 -> 髋中点，单位度
	AngleDelta     float64 // 与约 1 秒前帧的角度变化
	PatternMatched bool
	HistoryFrames  int // 参与判定的有效缓冲帧数（含当前帧）
}

// ExtractFeatures 根据当前帧与历史帧（最新在前，不含当前帧）计算派生特征并写回当前帧
// 有效缓冲帧不足 MinHistoryFrames 时返回 false，此时只填充速度等可计算的字段
func ExtractFeatures(th Thresholds, current *models.PoseFrame, history []models.PoseFrame) (Features, bool) {
	valid := validHistory(history)

	f := Features{
		CenterY:       current.HipCenterY(),
		IsHorizontal:  isHorizontal(th, &current.Landmarks),
		BodyAngle:     bodyAngle(&current.Landmarks),
		HistoryFrames: len(valid) + 1,
	}
	if len(valid) > 0 {
		f.VelocityY = velocityY(current, valid[0])
	}

	current.CenterY = f.CenterY
	current.VelocityY = f.VelocityY
	current.IsHorizontal = f.IsHorizontal
	current.BodyAngle = f.BodyAngle

	if f.HistoryFrames < th.MinHistoryFrames {
		return f, false
	}

	f.MotionScore = motionScore(chronological(current, valid, th.MotionWindowFrames))
	current.MotionScore = f.MotionScore

	lookback := th.AngleLookbackFrames - 1
	if lookback >= len(valid) {
		lookback = len(valid) - 1
	}
	f.AngleDelta = angleDifference(f.BodyAngle, bodyAngle(&valid[lookback].Landmarks))
	f.PatternMatched = matchFallPattern(th, chronological(current, valid, th.PatternWindowFrames))

	return f, true
}

// validHistory 过滤掉关键点异常的帧
func validHistory(history []models.PoseFrame) []*models.PoseFrame {
	valid := make([]*models.PoseFrame, 0, len(history))
	for i := range history {
		if !history[i].Malformed {
			valid = append(valid, &history[i])
		}
	}
	return valid
}

// chronological 取最近 n 帧（含当前帧），按时间从旧到新排列
func chronological(current *models.PoseFrame, valid []*models.PoseFrame, n int) []*models.PoseFrame {
	if n <= 0 {
		return nil
	}
	take := n - 1
	if take > len(valid) {
		take = len(valid)
	}
	out := make([]*models.PoseFrame, 0, take+1)
	for i := take - 1; i >= 0; i-- {
		out = append(out, valid[i])
	}
	return append(out, current)
}

// velocityY 两帧之间的垂直速度（单位/秒），Δt <= 0 时为 0
func velocityY(newer, older *models.PoseFrame) float64 {
	dt := newer.Timestamp.Sub(older.Timestamp).Seconds()
	if dt <= 0 {
		return 0
	}
	return (newer.HipCenterY() - older.HipCenterY()) / dt
}

// centerSeries 中心点 Y 序列
func centerSeries(frames []*models.PoseFrame) []float64 {
	ys := make([]float64, len(frames))
	for i, f := range frames {
		ys[i] = f.HipCenterY()
	}
	return ys
}

// motionScore 帧间中心点位移绝对值的平均
func motionScore(frames []*models.PoseFrame) float64 {
	if len(frames) < 2 {
		return 0
	}
	ys := centerSeries(frames)
	deltas := make([]float64, len(ys)-1)
	for i := 1; i < len(ys); i++ {
		deltas[i-1] = math.Abs(ys[i] - ys[i-1])
	}
	return stat.Mean(deltas, nil)
}

// isHorizontal 身体是否接近水平；关键部位可见度不足时视为无法判定（false）
func isHorizontal(th Thresholds, ls *models.Landmarks) bool {
	nose := ls.At(models.Nose)
	leftAnkle, rightAnkle := ls.At(models.LeftAnkle), ls.At(models.RightAnkle)
	leftShoulder, rightShoulder := ls.At(models.LeftShoulder), ls.At(models.RightShoulder)

	visibility := []float64{
		nose.Visibility,
		leftAnkle.Visibility, rightAnkle.Visibility,
		leftShoulder.Visibility, rightShoulder.Visibility,
	}
	if floats.Min(visibility) < th.HorizontalVisibility {
		return false
	}

	ankleY := (leftAnkle.Y + rightAnkle.Y) / 2
	if math.Abs(nose.Y-ankleY) < th.HorizontalNoseAnkle {
		return true
	}

	shoulderY := (leftShoulder.Y + rightShoulder.Y) / 2
	hipY := (ls.At(models.LeftHip).Y + ls.At(models.RightHip).Y) / 2
	return math.Abs(shoulderY-hipY) < th.HorizontalTorso
}

// bodyAngle 肩中点到髋中点连线的角度（度），直立约 90，平躺约 0 或 180
func bodyAngle(ls *models.Landmarks) float64 {
	sx, sy := models.Midpoint(ls.At(models.LeftShoulder), ls.At(models.RightShoulder))
	hx, hy := models.Midpoint(ls.At(models.LeftHip), ls.At(models.RightHip))
	return math.Atan2(hy-sy, hx-sx) * 180 / math.Pi
}

// angleDifference 两个角度的最小夹角，范围 [0,180]
func angleDifference(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// matchFallPattern 高度下降 -> 急落 -> 静止
func matchFallPattern(th Thresholds, frames []*models.PoseFrame) bool {
	if len(frames) < th.PatternWindowFrames || th.PatternWindowFrames < 2 {
		return false
	}
	frames = frames[len(frames)-th.PatternWindowFrames:]
	n := len(frames)

	peakIdx, peakV := 0, math.Inf(-1)
	for i := 1; i < n; i++ {
		if v := velocityY(frames[i], frames[i-1]); v > peakV {
			peakIdx, peakV = i, v
		}
	}
	if peakV <= th.VelocityThreshold {
		return false
	}
	stop := th.PatternStopFrames
	if peakIdx < 2 || peakIdx >= n-stop {
		return false
	}

	ys := centerSeries(frames)
	if ys[peakIdx-1] <= ys[0] {
		return false
	}
	for i := n - stop; i < n; i++ {
		if math.Abs(ys[i]-ys[i-1]) >= th.PatternStopDelta {
			return false
		}
	}
	return true
}
