package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// asyncQueue 有界的后台处理队列，队列满时丢弃并记录日志
// 用于帧持久化与通知分发，调用方不等待处理结果
type asyncQueue[T any] struct {
	name   string
	items  chan T
	handle func(ctx context.Context, item T)
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newAsyncQueue[T any](name string, size int, handle func(ctx context.Context, item T), logger *zap.Logger) *asyncQueue[T] {
	if size <= 0 {
		size = 1
	}
	return &asyncQueue[T]{
		name:   name,
		items:  make(chan T, size),
		handle: handle,
		logger: logger,
	}
}

// start 启动 workers 个处理协程；关闭由 close 控制，ctx 取消后仍会处理完已排队的条目
func (q *asyncQueue[T]) start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for item := range q.items {
				q.handle(ctx, item)
			}
		}()
	}
}

// enqueue 非阻塞投递，返回 false 表示队列已满或已关闭
func (q *asyncQueue[T]) enqueue(item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.items <- item:
		return true
	default:
		q.logger.Warn("Async queue full, dropping item", zap.String("queue", q.name))
		return false
	}
}

// close 停止接收并等待已投递的条目处理完
func (q *asyncQueue[T]) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.items)
	q.mu.Unlock()
	q.wg.Wait()
}
