package mongodb

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/gocrud/ioc/logging"
)

// Builder MongoDB 客户端配置构建器
type Builder struct {
	configs map[string]MongoOptions
	order   []string
	errors  error
}

// NewBuilder 创建构建器
func NewBuilder() *Builder {
	return &Builder{configs: make(map[string]MongoOptions)}
}

// Add 添加客户端配置
func (b *Builder) Add(name, uri string, configure func(*MongoOptions)) *Builder {
	if _, exists := b.configs[name]; exists {
		b.errors = multierr.Append(b.errors, fmt.Errorf("mongo client '%s' already configured", name))
		return b
	}

	opts := NewDefaultOptions(name, uri)
	if configure != nil {
		configure(opts)
	}
	if err := opts.Validate(); err != nil {
		b.errors = multierr.Append(b.errors, fmt.Errorf("invalid mongo configuration for '%s': %w", name, err))
		return b
	}

	b.configs[name] = *opts
	b.order = append(b.order, name)
	return b
}

// Build 构建客户端工厂，没有配置时返回 nil
func (b *Builder) Build(logger logging.Logger) (*MongoFactory, error) {
	if b.errors != nil {
		return nil, fmt.Errorf("mongo configuration errors: %w", b.errors)
	}
	if len(b.configs) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Nop()
	}

	factory := NewMongoFactory()
	for _, name := range b.order {
		if err := factory.Register(b.configs[name]); err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("failed to register mongo client '%s': %w", name, err)
		}
		logger.Info("mongo client registered", logging.F("name", name))
	}
	return factory, nil
}
