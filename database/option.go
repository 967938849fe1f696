package database

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/txres"
)

// FactoryName 工厂在容器中的组件名
const FactoryName = "databaseFactory"

// ResourceName 数据库 name 的事务资源管理器（*txres.Gorm）的组件名
func ResourceName(name string) string {
	return name + ".tx"
}

// BuilderOption 用于配置 Database Builder
type BuilderOption func(*Builder)

// WithDatabase 添加数据库配置
func WithDatabase(name string, dialector gorm.Dialector, opts ...func(*DatabaseOptions)) BuilderOption {
	return func(b *Builder) {
		b.Add(name, dialector, combine(opts))
	}
}

// WithSqlite 以 sqlite 驱动添加数据库
func WithSqlite(name, dsn string, opts ...func(*DatabaseOptions)) BuilderOption {
	return WithDatabase(name, sqlite.Open(dsn), opts...)
}

// SqliteSettings 配置节中的 sqlite 设置
type SqliteSettings struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
}

// WithConfiguredSqlite 从配置节 section 读取 sqlite 设置
//
//	database:
//	  orders:
//	    dsn: file:orders.db
//	    maxOpenConns: 5
func WithConfiguredSqlite(name, section string, opts ...func(*DatabaseOptions)) BuilderOption {
	return func(b *Builder) {
		if b.Configuration() == nil {
			b.Fail(fmt.Errorf("database '%s': no configuration", name))
			return
		}
		s, err := config.Load[SqliteSettings](b.Configuration(), section)
		if err != nil {
			b.Fail(fmt.Errorf("database '%s': %w", name, err))
			return
		}
		b.Add(name, sqlite.Open(s.DSN), func(o *DatabaseOptions) {
			if s.MaxOpenConns > 0 {
				o.MaxOpenConns = s.MaxOpenConns
			}
			if s.MaxIdleConns > 0 {
				o.MaxIdleConns = s.MaxIdleConns
			}
			combine(opts)(o)
		})
	}
}

func combine(opts []func(*DatabaseOptions)) func(*DatabaseOptions) {
	return func(o *DatabaseOptions) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

// New 启用数据库能力。
//
// 每个数据库以其名称注册为 *gorm.DB 组件，事务资源管理器 *txres.Gorm 以 ResourceName(name) 注册；
// 工厂以 FactoryName 注册，运行时停止时关闭全部连接。
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		builder := NewBuilder(rt.Configuration())
		for _, opt := range opts {
			opt(builder)
		}

		logger := rt.LoggerFactory().CreateLogger("ioc.database")
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
		factory.Each(func(name string, rm *txres.Gorm) {
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
			return fmt.Errorf("database: failed to register instance: %w", regErr)
		}

		rt.Lifecycle.OnStop(func(ctx context.Context) error {
			logger.Info("closing database connections")
			return factory.Close()
		})
		return nil
	}
}
