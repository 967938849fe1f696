package etcd

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/di"
)

// FactoryName 工厂在容器中的组件名
const FactoryName = "etcdClientFactory"

// BuilderOption 用于配置 Etcd Builder
type BuilderOption func(*Builder)

// WithClient 添加 Etcd 客户端配置
func WithClient(name string, opts ...func(*EtcdClientOptions)) BuilderOption {
	return func(b *Builder) {
		b.AddClient(name, func(o *EtcdClientOptions) {
			for _, opt := range opts {
				opt(o)
			}
		})
	}
}

// WithConfiguredClient 从配置节 section 读取客户端配置
func WithConfiguredClient(name, section string, opts ...func(*EtcdClientOptions)) BuilderOption {
	return func(b *Builder) {
		b.AddConfiguredClient(name, section, opts...)
	}
}

// New 启用 Etcd 能力，每个客户端以其名称注册为 *clientv3.Client
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		builder := NewBuilder(rt.Configuration())
		for _, opt := range opts {
			opt(builder)
		}

		logger := rt.LoggerFactory().CreateLogger("ioc.etcd")
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
		factory.Each(func(name string, client *clientv3.Client) {
			if regErr == nil {
				_, regErr = di.RegisterValue(c, client, di.WithName(name), di.WithNameOnly())
			}
		})
		if regErr != nil {
			_ = factory.Close()
			return fmt.Errorf("etcd: failed to register instance: %w", regErr)
		}

		rt.Lifecycle.OnStop(func(ctx context.Context) error {
			logger.Info("closing etcd clients")
			return factory.Close()
		})
		return nil
	}
}
