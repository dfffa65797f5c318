package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/pkg/logger"
)

// TaskQueue 后台执行副作用任务（邮件等），入队不阻塞调用方
type TaskQueue interface {
	Enqueue(name string, fn func(context.Context) error, fields ...zap.Field) bool
}

type task struct {
	name   string
	fn     func(context.Context) error
	fields []zap.Field
	enqAt  time.Time
}

// Dispatcher 本地异步任务执行器：有界队列 + 固定 worker，队列满时丢弃并告警
type Dispatcher struct {
	ch          chan task
	best        BestEffort
	taskTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	metricsCh chan time.Duration
}

func NewDispatcher(best BestEffort, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Dispatcher{
		ch:          make(chan task, queueSize),
		best:        best,
		taskTimeout: 10 * time.Second,
		metricsCh:   make(chan time.Duration, 4096),
	}
}

// Start 启动 workers；返回的停止函数拒绝新任务并等待队列排空，ctx 到期则放弃等待
func (d *Dispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for t := range d.ch {
				d.run(t)
			}
		}()
	}
	return func(ctx context.Context) error {
		d.mu.Lock()
		if !d.closed {
			d.closed = true
			close(d.ch)
		}
		d.mu.Unlock()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			logger.Warn("dispatcher stopped with pending tasks", zap.Int("pending", len(d.ch)))
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
	defer cancel()
	d.best.Attempt(ctx, t.name, t.fn, t.fields...)
	select {
	case d.metricsCh <- time.Since(t.enqAt):
	default:
	}
}

// Enqueue 非阻塞入队；队列已满或已停止时丢弃并返回 false
func (d *Dispatcher) Enqueue(name string, fn func(context.Context) error, fields ...zap.Field) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		logger.Warn("dispatcher stopped, drop task", append(fields, zap.String("task", name))...)
		return false
	}
	select {
	case d.ch <- task{name: name, fn: fn, fields: fields, enqAt: time.Now()}:
		return true
	default:
		logger.Warn("dispatcher queue full, drop task", append(fields, zap.String("task", name))...)
		return false
	}
}

// Metrics 返回任务从入队到执行完成的耗时
func (d *Dispatcher) Metrics() <-chan time.Duration { return d.metricsCh }

// QueueLen 当前排队任务数（采样值）
func (d *Dispatcher) QueueLen() int { return len(d.ch) }

// inlineQueue 同步执行，未配置 Dispatcher 时使用
type inlineQueue struct{ best BestEffort }

func (q inlineQueue) Enqueue(name string, fn func(context.Context) error, fields ...zap.Field) bool {
	return q.best.Attempt(context.Background(), name, fn, fields...)
}
