package etcd

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/logging"
)

// Builder Etcd 客户端配置构建器
type Builder struct {
	cfg     config.Configuration
	configs map[string]EtcdClientOptions
	order   []string
	errors  error
}

// NewBuilder 创建 Etcd 构建器，cfg 可以为 nil
func NewBuilder(cfg config.Configuration) *Builder {
	return &Builder{
		cfg:     cfg,
		configs: make(map[string]EtcdClientOptions),
	}
}

// AddClient 添加一个 etcd 客户端配置
func (b *Builder) AddClient(name string, configure func(*EtcdClientOptions)) *Builder {
	opts := NewDefaultOptions(name)
	if configure != nil {
		configure(opts)
	}
	return b.add(name, opts)
}

// AddConfiguredClient 从配置节 section 读取客户端配置，未配置的字段保留默认值
func (b *Builder) AddConfiguredClient(name, section string, configure ...func(*EtcdClientOptions)) *Builder {
	if b.cfg == nil {
		b.errors = multierr.Append(b.errors, fmt.Errorf("etcd client '%s': no configuration", name))
		return b
	}
	opts := NewDefaultOptions(name)
	if err := b.cfg.Bind(section, opts); err != nil {
		b.errors = multierr.Append(b.errors, fmt.Errorf("etcd client '%s': %w", name, err))
		return b
	}
	opts.Name = name
	for _, fn := range configure {
		fn(opts)
	}
	return b.add(name, opts)
}

func (b *Builder) add(name string, opts *EtcdClientOptions) *Builder {
	if _, exists := b.configs[name]; exists {
		b.errors = multierr.Append(b.errors, fmt.Errorf("etcd client '%s' already configured", name))
		return b
	}
	if err := opts.Validate(); err != nil {
		b.errors = multierr.Append(b.errors, fmt.Errorf("invalid etcd configuration for '%s': %w", name, err))
		return b
	}
	b.configs[name] = *opts
	b.order = append(b.order, name)
	return b
}

// Build 构建 Etcd 客户端工厂，没有配置时返回 nil
func (b *Builder) Build(logger logging.Logger) (*EtcdClientFactory, error) {
	if b.errors != nil {
		return nil, fmt.Errorf("etcd configuration errors: %w", b.errors)
	}
	if len(b.configs) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Nop()
	}

	factory := NewEtcdClientFactory()
	for _, name := range b.order {
		opts := b.configs[name]
		if err := factory.Register(opts); err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("failed to register etcd client '%s': %w", name, err)
		}
		logger.Info("etcd client registered",
			logging.F("name", name),
			logging.F("endpoints", fmt.Sprintf("%v", opts.Endpoints)))
	}
	return factory, nil
}
