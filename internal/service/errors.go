package service

import "errors"

var (
	// ErrInvalidFrame 帧请求缺少必要字段（user_id 等）
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrInvalidRequest 查询或反馈参数不合法
	ErrInvalidRequest = errors.New("invalid request")
)
