package consumer

import (
	"context"
	"errors"
	"sync"

	"wisefido-fall/internal/models"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// ErrDispatcherStopped Dispatcher 已停止
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// FrameProcessor 帧处理入口（service.FallDetectionService 实现）
type FrameProcessor interface {
	ProcessRequest(ctx context.Context, req *models.FrameRequest) (*models.FrameResult, error)
}

type job struct {
	req  *models.FrameRequest
	done func(error)
}

// Dispatcher 按 user_id 分区的有序 worker 池
// 同一用户的帧总是落到同一个 worker，保证到达顺序；不同用户之间并行
type Dispatcher struct {
	processor FrameProcessor
	queues    []chan job
	logger    *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher 创建 Dispatcher
func NewDispatcher(processor FrameProcessor, workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	queues := make([]chan job, workers)
	for i := range queues {
		queues[i] = make(chan job, queueSize)
	}
	return &Dispatcher{
		processor: processor,
		queues:    queues,
		logger:    logger,
	}
}

// Partition user_id 对应的 worker 下标
func Partition(userID string, workers int) int {
	return int(xxhash.Sum64String(userID) % uint64(workers))
}

// Start 启动 worker
func (d *Dispatcher) Start(ctx context.Context) {
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.work(ctx, i, q)
	}
}

func (d *Dispatcher) work(ctx context.Context, id int, q <-chan job) {
	defer d.wg.Done()
	for j := range q {
		_, err := d.processor.ProcessRequest(ctx, j.req)
		if err != nil {
			d.logger.Error("Failed to process pose frame",
				zap.Int("worker", id),
				zap.String("user_id", j.req.UserID),
				zap.Int64("frame_number", j.req.FrameNumber),
				zap.Error(err),
			)
		}
		if j.done != nil {
			j.done(err)
		}
	}
}

// Submit 投递一帧；队列满时阻塞（背压），ctx 取消或已停止时返回错误
func (d *Dispatcher) Submit(ctx context.Context, req *models.FrameRequest, done func(error)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	q := d.queues[Partition(req.UserID, len(d.queues))]
	select {
	case q <- job{req: req, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 停止接收并等待已投递的帧处理完
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
