package evaluator

import "time"

// Thresholds 跌倒判定的全部数值阈值
// 数值来自现场调参，保持原值，可通过配置覆盖
type Thresholds struct {
	// 特征提取
	MinHistoryFrames     int     // 判定所需最少缓冲帧数（约 1 秒）
	MotionWindowFrames   int     // 运动分数窗口
	AngleLookbackFrames  int     // 角度变化对比的回看帧数（约 1 秒前）
	HorizontalNoseAnkle  float64 // |nose.y - avg(ankle.y)|
	HorizontalTorso      float64 // |avg(shoulder.y) - avg(hip.y)|，0.3*0.7
	HorizontalVisibility float64 // 水平判定要求的最低可见度
	PatternWindowFrames  int     // 跌倒模式（下降 -> 急落 -> 静止）窗口
	PatternStopFrames    int     // 模式末尾静止的帧间隔数
	PatternStopDelta     float64 // 静止判定的最大帧间位移

	// 误报过滤
	LowConfidence        float64
	SittingWindowFrames  int
	SittingMinSamples    int
	SittingVelocityMax   float64
	SittingCenterYMin    float64
	SittingCenterYMax    float64
	ExerciseWindowFrames int
	ExerciseMinAmplitude float64
	ExerciseMinReversals int
	CameraWindowFrames   int
	CameraConfidenceDrop float64

	// 置信度评分
	DetectionMinConfidence float64 // 帧整体置信度低于该值不判定
	VelocityThreshold      float64
	VelocityStrong         float64
	LowPosition            float64
	NoMotion               float64
	LittleMotion           float64
	AngleChange            float64
	MinConfidenceScore     float64

	Weights  Weights
	Severity SeverityBreakpoints

	// 跌倒方向
	DirectionalAngle      float64
	DirectionalConfidence float64
	LateralAngle          float64

	// 去重
	Cooldown time.Duration
}

// Weights 各信号的加分
type Weights struct {
	RapidDescent       float64
	StrongDescent      float64
	LowPosition        float64
	Horizontal         float64
	HorizontalLow      float64
	NoMotionLow        float64
	LittleMotionLow    float64
	SuddenAngleChange  float64
	FallPatternMatched float64
}

// SeverityBreakpoints 严重程度分档
type SeverityBreakpoints struct {
	Critical         float64
	CriticalNoMotion float64
	High             float64
	Medium           float64
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHistoryFrames:     30,
		MotionWindowFrames:   30,
		AngleLookbackFrames:  30,
		HorizontalNoseAnkle:  0.3,
		HorizontalTorso:      0.3 * 0.7,
		HorizontalVisibility: 0.5,
		PatternWindowFrames:  15,
		PatternStopFrames:    3,
		PatternStopDelta:     0.01,

		LowConfidence:        0.3,
		SittingWindowFrames:  60,
		SittingMinSamples:    30,
		SittingVelocityMax:   0.1,
		SittingCenterYMin:    0.4,
		SittingCenterYMax:    0.7,
		ExerciseWindowFrames: 90,
		ExerciseMinAmplitude: 0.05,
		ExerciseMinReversals: 6,
		CameraWindowFrames:   5,
		CameraConfidenceDrop: 0.3,

		DetectionMinConfidence: 0.5,
		VelocityThreshold:      0.15,
		VelocityStrong:         0.15 * 1.5,
		LowPosition:            0.7,
		NoMotion:               0.01,
		LittleMotion:           0.05,
		AngleChange:            60,
		MinConfidenceScore:     0.7,

		Weights: Weights{
			RapidDescent:       0.30,
			StrongDescent:      0.15,
			LowPosition:        0.25,
			Horizontal:         0.15,
			HorizontalLow:      0.15,
			NoMotionLow:        0.20,
			LittleMotionLow:    0.10,
			SuddenAngleChange:  0.10,
			FallPatternMatched: 0.10,
		},
		Severity: SeverityBreakpoints{
			Critical:         0.85,
			CriticalNoMotion: 0.8,
			High:             0.75,
			Medium:           0.7,
		},

		DirectionalAngle:      80,
		DirectionalConfidence: 0.8,
		LateralAngle:          30,

		Cooldown: 30 * time.Second,
	}
}
