package mongodb

import (
	"context"
	"fmt"

	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/txres"
)

// FactoryName 工厂在容器中的组件名
const FactoryName = "mongoFactory"

// ResourceName 客户端 name 的事务资源管理器（*txres.Mongo）的组件名
func ResourceName(name string) string {
	return name + ".tx"
}

// BuilderOption 用于配置 MongoDB Builder
type BuilderOption func(*Builder)

// WithClient 添加 MongoDB 客户端配置
func WithClient(name string, uri string, opts ...func(*MongoOptions)) BuilderOption {
	return func(b *Builder) {
		b.Add(name, uri, func(o *MongoOptions) {
			for _, opt := range opts {
				opt(o)
			}
		})
	}
}

// New 启用 MongoDB 能力。
// 每个客户端以其名称注册为 *mongo.Client，事务资源管理器以 ResourceName(name) 注册。
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		builder := NewBuilder()
		for _, opt := range opts {
			opt(builder)
		}

		logger := rt.LoggerFactory().CreateLogger("ioc.mongodb")
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
		factory.Each(func(name string, rm *txres.Mongo) {
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
			return fmt.Errorf("mongodb: failed to register instance: %w", regErr)
		}

		rt.Lifecycle.OnStop(func(ctx context.Context) error {
			logger.Info("closing mongo clients")
			return factory.Close()
		})
		return nil
	}
}
