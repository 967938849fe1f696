package redis

import (
	"context"
	"fmt"

	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/txres"
)

// FactoryName 工厂在容器中的组件名
const FactoryName = "redisClientFactory"

// ResourceName 客户端 name 的事务资源管理器（*txres.Redis）的组件名
func ResourceName(name string) string {
	return name + ".tx"
}

// BuilderOption 用于配置 Redis Builder
type BuilderOption func(*Builder)

// WithClient 添加 Redis 客户端配置
func WithClient(name string, opts ...func(*RedisClientOptions)) BuilderOption {
	return func(b *Builder) {
		b.AddClient(name, func(o *RedisClientOptions) {
			for _, opt := range opts {
				opt(o)
			}
		})
	}
}

// WithConfiguredClient 从配置节读取客户端配置
func WithConfiguredClient(name, section string) BuilderOption {
	return func(b *Builder) {
		b.AddConfiguredClient(name, section)
	}
}

// New 启用 Redis 能力。
// 每个客户端以其名称注册为 *redis.Client，事务资源管理器以 ResourceName(name) 注册。
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		builder := NewBuilder(rt.Configuration())
		for _, opt := range opts {
			opt(builder)
		}

		logger := rt.LoggerFactory().CreateLogger("ioc.redis")
		factory, err := builder.Build(logger)
		if err != nil {
			return err
		}
		if factory == nil {
			return nil
		}

		c := rt.Container()
		if _, err := di.RegisterValue(c, factory, di.WithName(FactoryName)); err != nil {
			return err
		}
		var regErr error
		factory.Each(func(name string, rm *txres.Redis) {
			if regErr != nil {
				return
			}
			if _, err := di.RegisterValue(c, rm.Client(), di.WithName(name), di.WithNameOnly()); err != nil {
				regErr = err
				return
			}
			_, regErr = di.RegisterValue(c, rm, di.WithName(ResourceName(name)), di.WithNameOnly())
		})
		if regErr != nil {
			_ = factory.Close()
			return fmt.Errorf("redis: failed to register instance: %w", regErr)
		}

		rt.Lifecycle.OnStop(func(ctx context.Context) error {
			logger.Info("closing redis clients")
			return factory.Close()
		})
		return nil
	}
}
