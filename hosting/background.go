package hosting

import (
	"context"
	"sync"
	"time"

	"github.com/gocrud/ioc/logging"
)

// WorkerFunc 阻塞运行的后台任务，通过 ctx.Done() 判断退出
type WorkerFunc func(ctx context.Context) error

// Worker 把 WorkerFunc 适配为 HostedService，Stop 取消 Start 的 context
type Worker struct {
	name string
	fn   WorkerFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(name string, fn WorkerFunc) *Worker {
	return &Worker{name: name, fn: fn, done: make(chan struct{})}
}

func (w *Worker) Name() string { return w.name }

func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer close(w.done)
	defer cancel()
	return w.fn(ctx)
}

// Stop 取消任务并等待其返回或 ctx 超时
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TimedHostedService 按固定间隔执行任务，任务失败只记录日志
type TimedHostedService struct {
	*Worker
	interval time.Duration
	task     func(ctx context.Context) error
	logger   logging.Logger
}

// NewTimedHostedService 创建定时托管服务
func NewTimedHostedService(name string, interval time.Duration, task func(ctx context.Context) error, logger logging.Logger) *TimedHostedService {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &TimedHostedService{interval: interval, task: task, logger: logger}
	s.Worker = NewWorker(name, s.run)
	return s
}

func (s *TimedHostedService) run(ctx context.Context) error {
	s.logger.Info("timed service running", logging.F("service", s.name), logging.F("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.task(ctx); err != nil {
				s.logger.Error("timed service task failed", logging.F("service", s.name), logging.Err(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}
