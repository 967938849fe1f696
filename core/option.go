package core

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/logging"
	"github.com/gocrud/ioc/tx"
)

// Option 定义了修改 Runtime 状态的函数签名
// 这是框架唯一的扩展点
type Option func(rt *Runtime) error

// WithConfiguration 追加配置源，多次调用按顺序叠加，后面的源覆盖前面的
func WithConfiguration(configure func(*config.ConfigurationBuilder)) Option {
	return func(rt *Runtime) error {
		return rt.setting(func() {
			rt.configure = append(rt.configure, configure)
		})
	}
}

// WithConfigurationFile 读取 JSON 或 YAML 文件，再以 envPrefix 开头的环境变量覆盖
func WithConfigurationFile(path, envPrefix string) Option {
	return WithConfiguration(func(b *config.ConfigurationBuilder) {
		if path != "" {
			b.AddFile(path, true)
		}
		if envPrefix != "" {
			b.AddEnvironmentVariables(envPrefix)
		}
	})
}

// WithConfigurationInstance 使用已经构建好的配置，忽略 WithConfiguration 追加的源
func WithConfigurationInstance(cfg config.Configuration) Option {
	return func(rt *Runtime) error {
		return rt.setting(func() { rt.configuration = cfg })
	}
}

// WithOptionsSection 运行时选项所在的配置节，默认 config.DefaultSection
func WithOptionsSection(section string) Option {
	return func(rt *Runtime) error {
		return rt.setting(func() { rt.section = section })
	}
}

// WithLogging 用日志构建器替换按配置生成的日志工厂
func WithLogging(configure func(*logging.LoggingBuilder)) Option {
	return func(rt *Runtime) error {
		return rt.setting(func() {
			b := logging.NewLoggingBuilder()
			configure(b)
			rt.loggerFactory = b.Build()
		})
	}
}

// WithLogOutput 按配置生成的日志写入 w，默认标准输出
func WithLogOutput(w io.Writer) Option {
	return func(rt *Runtime) error {
		return rt.setting(func() { rt.logOutput = w })
	}
}

// WithContainerOptions 追加根容器选项，在配置得出的选项之后应用
func WithContainerOptions(opts ...di.ContainerOption) Option {
	return func(rt *Runtime) error {
		return rt.setting(func() {
			rt.containerOpts = append(rt.containerOpts, opts...)
		})
	}
}

// WithTransactionOptions 追加事务管理器选项，在配置得出的选项之后应用
func WithTransactionOptions(opts ...tx.Option) Option {
	return func(rt *Runtime) error {
		return rt.setting(func() {
			rt.txOpts = append(rt.txOpts, opts...)
		})
	}
}

// WithMetricsRegisterer 事务计数器注册到 reg，默认 prometheus.DefaultRegisterer
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(rt *Runtime) error {
		return rt.setting(func() { rt.registerer = reg })
	}
}

// WithShutdownTimeout 优雅关闭的超时，默认 30 秒
func WithShutdownTimeout(d time.Duration) Option {
	return func(rt *Runtime) error {
		return rt.setting(func() { rt.shutdownTimeout = d })
	}
}

// WithComponents 在根容器中注册组件
//
//	core.WithComponents(func(c di.Container) error {
//	    _, err := di.Register[*OrderService](c)
//	    return err
//	})
func WithComponents(register func(c di.Container) error) Option {
	return func(rt *Runtime) error {
		if err := rt.Build(); err != nil {
			return err
		}
		return register(rt.container)
	}
}

// WithChild 创建命名空间为 ns 的子容器并包含到根容器中
func WithChild(ns string, register func(c di.Container) error, opts ...di.ContainerOption) Option {
	return func(rt *Runtime) error {
		if err := rt.Build(); err != nil {
			return err
		}
		opts = append([]di.ContainerOption{
			di.WithLogger(rt.factory.CreateLogger("ioc.di")),
			di.WithNamespace(ns),
		}, opts...)
		child := di.New(opts...)
		if register != nil {
			if err := register(child); err != nil {
				return err
			}
		}
		return rt.container.Include(child)
	}
}
