package core

import (
	"context"
	"fmt"
	"time"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/hosting"
)

// WithHostedService 以类型 T 注册组件，并在 Run 时解析为托管服务启动。
// T 必须实现 hosting.HostedService；组件在容器初始化之后解析，因此可以注入任意依赖。
func WithHostedService[T hosting.HostedService](opts ...di.DefOption) Option {
	return func(rt *Runtime) error {
		if err := rt.Build(); err != nil {
			return err
		}
		cd, err := di.Register[T](rt.container, opts...)
		if err != nil {
			return fmt.Errorf("core: register hosted service: %w", err)
		}
		rt.services = append(rt.services, serviceKey(cd))
		return nil
	}
}

// WithHostedServiceValue 注册已有的托管服务对象
func WithHostedServiceValue(svc hosting.HostedService, opts ...di.DefOption) Option {
	return func(rt *Runtime) error {
		if err := rt.Build(); err != nil {
			return err
		}
		cd, err := di.RegisterValue(rt.container, svc, opts...)
		if err != nil {
			return fmt.Errorf("core: register hosted service: %w", err)
		}
		rt.services = append(rt.services, serviceKey(cd))
		return nil
	}
}

// serviceKey 有名称时按名称解析，避免同类型的多个服务互相歧义
func serviceKey(cd *di.ComponentDef) any {
	if cd.Name() != "" {
		return cd.Name()
	}
	return cd.ComponentType()
}

// WithWorker 将一个阻塞的函数注册为后台服务，Stop 时取消其 context
func WithWorker(name string, fn hosting.WorkerFunc) Option {
	return func(rt *Runtime) error {
		if err := rt.Build(); err != nil {
			return err
		}
		rt.hosted.Add(hosting.NewWorker(name, fn))
		return nil
	}
}

// WithTicker 每隔 interval 执行一次 task，失败只记录日志
func WithTicker(name string, interval time.Duration, task func(ctx context.Context) error) Option {
	return func(rt *Runtime) error {
		if err := rt.Build(); err != nil {
			return err
		}
		logger := rt.factory.CreateLogger("ioc.hosting")
		rt.hosted.Add(hosting.NewTimedHostedService(name, interval, task, logger))
		return nil
	}
}

// WithConfigurationRefresh 定期重新加载可重新加载的配置，例如 etcd 或文件源
func WithConfigurationRefresh(interval time.Duration) Option {
	return func(rt *Runtime) error {
		if err := rt.Build(); err != nil {
			return err
		}
		r, ok := rt.configuration.(config.Reloadable)
		if !ok {
			return fmt.Errorf("core: configuration %T cannot be reloaded", rt.configuration)
		}
		logger := rt.logger
		return WithTicker("config-refresh", interval, func(context.Context) error {
			if err := r.Reload(); err != nil {
				return err
			}
			logger.Debug("configuration reloaded")
			return nil
		})(rt)
	}
}
