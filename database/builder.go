package database

import (
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/logging"
)

// Builder 数据库配置构建器
type Builder struct {
	cfg     config.Configuration
	configs map[string]DatabaseOptions
	order   []string
	errors  error
}

// NewBuilder 创建构建器，cfg 可以为 nil
func NewBuilder(cfg config.Configuration) *Builder {
	return &Builder{
		cfg:     cfg,
		configs: make(map[string]DatabaseOptions),
	}
}

// Configuration 运行时配置，供选项读取连接串等设置
func (b *Builder) Configuration() config.Configuration {
	return b.cfg
}

// Add 添加数据库配置
// name: 实例名称
// dialector: GORM 驱动 (e.g. sqlite.Open(dsn))
// configure: 可选的配置函数
func (b *Builder) Add(name string, dialector gorm.Dialector, configure func(*DatabaseOptions)) *Builder {
	if _, exists := b.configs[name]; exists {
		b.Fail(fmt.Errorf("database '%s' already configured", name))
		return b
	}

	opts := NewDefaultOptions(name, dialector)
	if configure != nil {
		configure(opts)
	}
	if err := opts.Validate(); err != nil {
		b.Fail(fmt.Errorf("invalid configuration for '%s': %w", name, err))
		return b
	}

	b.configs[name] = *opts
	b.order = append(b.order, name)
	return b
}

// Fail 记录一个配置错误，Build 时返回
func (b *Builder) Fail(err error) {
	b.errors = multierr.Append(b.errors, err)
}

// Build 按添加顺序打开所有数据库，没有配置时返回 nil
func (b *Builder) Build(logger logging.Logger) (*DatabaseFactory, error) {
	if b.errors != nil {
		return nil, fmt.Errorf("database configuration errors: %w", b.errors)
	}
	if len(b.configs) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Nop()
	}

	factory := NewDatabaseFactory()
	for _, name := range b.order {
		opts := b.configs[name]
		if err := factory.Register(opts); err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("failed to register database '%s': %w", name, err)
		}
		logger.Info("database registered",
			logging.F("name", name),
			logging.F("dialector", opts.Dialector.Name()))
	}
	return factory, nil
}
