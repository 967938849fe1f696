package redis

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/logging"
)

// Builder Redis 客户端配置构建器
type Builder struct {
	cfg     config.Configuration
	configs map[string]RedisClientOptions
	order   []string
	errors  error
}

// NewBuilder 创建 Redis 构建器，cfg 可以为 nil
func NewBuilder(cfg config.Configuration) *Builder {
	return &Builder{
		cfg:     cfg,
		configs: make(map[string]RedisClientOptions),
	}
}

// AddClient 添加一个 Redis 客户端配置
func (b *Builder) AddClient(name string, configure func(*RedisClientOptions)) *Builder {
	if _, exists := b.configs[name]; exists {
		b.errors = multierr.Append(b.errors, fmt.Errorf("redis client '%s' already configured", name))
		return b
	}

	opts := NewDefaultOptions(name)
	if configure != nil {
		configure(opts)
	}
	if err := opts.Validate(); err != nil {
		b.errors = multierr.Append(b.errors, fmt.Errorf("invalid redis configuration for '%s': %w", name, err))
		return b
	}

	b.configs[name] = *opts
	b.order = append(b.order, name)
	return b
}

// AddConfiguredClient 从配置节 section 读取客户端配置，未出现的字段保留默认值
func (b *Builder) AddConfiguredClient(name, section string) *Builder {
	if b.cfg == nil {
		b.errors = multierr.Append(b.errors, fmt.Errorf("redis client '%s': no configuration", name))
		return b
	}
	var bindErr error
	b.AddClient(name, func(o *RedisClientOptions) {
		bindErr = b.cfg.Bind(section, o)
		o.Name = name
	})
	if bindErr != nil {
		b.errors = multierr.Append(b.errors, fmt.Errorf("redis client '%s': %w", name, bindErr))
	}
	return b
}

// Build 构建 Redis 客户端工厂，没有配置时返回 nil
func (b *Builder) Build(logger logging.Logger) (*RedisClientFactory, error) {
	if b.errors != nil {
		return nil, fmt.Errorf("redis configuration errors: %w", b.errors)
	}
	if len(b.configs) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Nop()
	}

	factory := NewRedisClientFactory()
	for _, name := range b.order {
		opts := b.configs[name]
		if err := factory.Register(opts); err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("failed to register redis client '%s': %w", name, err)
		}
		logger.Info("redis client registered",
			logging.F("name", name),
			logging.F("addr", opts.Addr),
			logging.F("db", opts.DB))
	}
	return factory, nil
}
