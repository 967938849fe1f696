package hosting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gocrud/ioc/logging"
)

// HostedService 托管服务接口
// 框架会在独立的 goroutine 中调用 Start，服务无需自己启动 goroutine
type HostedService interface {
	// Start 启动服务。该方法可以阻塞，直到 context 被取消或发生错误。
	Start(ctx context.Context) error

	// Stop 执行优雅关闭逻辑。
	// Start 的 context 被取消时服务应自行退出，Stop 用于额外的清理工作。
	Stop(ctx context.Context) error
}

// HostedServiceManager 托管服务管理器
type HostedServiceManager struct {
	services []HostedService
	logger   logging.Logger
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewHostedServiceManager 创建托管服务管理器
func NewHostedServiceManager(logger logging.Logger) *HostedServiceManager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &HostedServiceManager{
		services: make([]HostedService, 0),
		logger:   logger,
	}
}

// Add 添加托管服务
func (m *HostedServiceManager) Add(service HostedService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, service)
}

// Len 已添加的服务数
func (m *HostedServiceManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// StartAll 并发启动所有托管服务。
// 返回的通道接收服务 Start 返回的错误，context 取消导致的退出不算错误。
func (m *HostedServiceManager) StartAll(ctx context.Context) <-chan error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errCh := make(chan error, len(m.services))
	m.logger.Info("starting hosted services", logging.F("count", len(m.services)))

	for i, service := range m.services {
		m.wg.Add(1)
		go func(index int, svc HostedService) {
			defer m.wg.Done()
			name := serviceName(index, svc)
			m.logger.Debug("starting hosted service", logging.F("service", name))

			if err := svc.Start(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					m.logger.Debug("hosted service stopped (context done)", logging.F("service", name))
					return
				}
				m.logger.Error("hosted service failed", logging.F("service", name), logging.Err(err))
				// 缓冲区等于服务数量，不会阻塞
				errCh <- fmt.Errorf("hosting: %s: %w", name, err)
				return
			}
			m.logger.Debug("hosted service completed", logging.F("service", name))
		}(i, service)
	}
	return errCh
}

// StopAll 逆序并发停止所有托管服务，单个服务的失败只记录日志
func (m *HostedServiceManager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.logger.Info("stopping hosted services", logging.F("count", len(m.services)))

	var wg sync.WaitGroup
	for i := len(m.services) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(idx int, svc HostedService) {
			defer wg.Done()
			name := serviceName(idx, svc)
			if err := svc.Stop(ctx); err != nil {
				m.logger.Error("failed to stop hosted service", logging.F("service", name), logging.Err(err))
				return
			}
			m.logger.Debug("hosted service stopped", logging.F("service", name))
		}(i, m.services[i])
	}
	wg.Wait()
	return nil
}

// Wait 等待所有 Start 返回，ctx 结束时提前返回其错误
func (m *HostedServiceManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Named 可选接口，用于日志中的服务名
type Named interface {
	Name() string
}

func serviceName(index int, svc HostedService) string {
	if n, ok := svc.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("#%d(%T)", index+1, svc)
}
