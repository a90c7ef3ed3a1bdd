package models

import (
	"errors"
	"fmt"
)

// LandmarkCount 每帧关键点数量（33 点人体姿态模型）
const LandmarkCount = 33

// LandmarkIndex 关键点索引（按解剖位置编号）
type LandmarkIndex int

const (
	Nose          LandmarkIndex = 0
	LeftShoulder  LandmarkIndex = 11
	RightShoulder LandmarkIndex = 12
	LeftHip       LandmarkIndex = 23
	RightHip      LandmarkIndex = 24
	LeftAnkle     LandmarkIndex = 27
	RightAnkle    LandmarkIndex = 28
)

// ErrMalformedLandmarks 关键点数组缺失或坐标越界
var ErrMalformedLandmarks = errors.New("malformed landmarks")

// Landmark 单个关键点（图像归一化坐标）
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// InRange 坐标与可见度是否都在 [0,1]
func (l Landmark) InRange() bool {
	return inUnit(l.X) && inUnit(l.Y) && inUnit(l.Z) && inUnit(l.Visibility)
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// Landmarks 固定长度的关键点数组，按 LandmarkIndex 访问
type Landmarks [LandmarkCount]Landmark

// At 按解剖位置取关键点
func (ls *Landmarks) At(i LandmarkIndex) Landmark {
	return ls[i]
}

// Validate 检查所有关键点是否在合法范围内
func (ls *Landmarks) Validate() error {
	for i := range ls {
		if !ls[i].InRange() {
			return fmt.Errorf("%w: landmark %d out of range", ErrMalformedLandmarks, i)
		}
	}
	return nil
}

// LandmarksFromSlice 将线上传输的关键点列表转换为固定数组
// 长度不足或超出时返回 ErrMalformedLandmarks，已有的点仍然会被拷贝
func LandmarksFromSlice(src []Landmark) (Landmarks, error) {
	var ls Landmarks
	copy(ls[:], src)
	if len(src) != LandmarkCount {
		return ls, fmt.Errorf("%w: expected %d landmarks, got %d", ErrMalformedLandmarks, LandmarkCount, len(src))
	}
	return ls, ls.Validate()
}

// Midpoint 两个关键点的中点
func Midpoint(a, b Landmark) (x, y float64) {
	return (a.X + b.X) / 2, (a.Y + b.Y) / 2
}
