package database

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/gocrud/ioc/txres"
)

// DatabaseOptions 数据库配置选项
type DatabaseOptions struct {
	Name         string
	Dialector    gorm.Dialector
	GormConfig   *gorm.Config
	MaxIdleConns int
	MaxOpenConns int
	MaxLifetime  time.Duration
	AutoMigrate  []any // 需要自动迁移的模型
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name string, dialector gorm.Dialector) *DatabaseOptions {
	return &DatabaseOptions{
		Name:         name,
		Dialector:    dialector,
		GormConfig:   &gorm.Config{},
		MaxIdleConns: 10,
		MaxOpenConns: 100,
		MaxLifetime:  time.Hour,
		AutoMigrate:  make([]any, 0),
	}
}

// Validate 验证配置
func (o *DatabaseOptions) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if o.Dialector == nil {
		return fmt.Errorf("database dialector is required")
	}
	return nil
}

// DatabaseFactory 持有打开的连接及其事务资源管理器
type DatabaseFactory struct {
	dbs map[string]*txres.Gorm
	mu  sync.RWMutex
}

// NewDatabaseFactory 创建数据库工厂
func NewDatabaseFactory() *DatabaseFactory {
	return &DatabaseFactory{dbs: make(map[string]*txres.Gorm)}
}

// Register 打开连接、配置连接池并执行自动迁移
func (f *DatabaseFactory) Register(opts DatabaseOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.dbs[opts.Name]; exists {
		return fmt.Errorf("database '%s' already registered", opts.Name)
	}
	gormConfig := opts.GormConfig
	if gormConfig == nil {
		gormConfig = &gorm.Config{}
	}
	db, err := gorm.Open(opts.Dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to open database '%s': %w", opts.Name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for '%s': %w", opts.Name, err)
	}
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(opts.MaxLifetime)

	if len(opts.AutoMigrate) > 0 {
		if err := db.AutoMigrate(opts.AutoMigrate...); err != nil {
			_ = sqlDB.Close()
			return fmt.Errorf("auto migrate failed for '%s': %w", opts.Name, err)
		}
	}

	f.dbs[opts.Name] = txres.NewGorm(opts.Name, db)
	return nil
}

// Get 按名称取得连接
func (f *DatabaseFactory) Get(name string) (*gorm.DB, error) {
	rm, err := f.Resource(name)
	if err != nil {
		return nil, err
	}
	return rm.Client(), nil
}

// Resource 按名称取得事务资源管理器
func (f *DatabaseFactory) Resource(name string) (*txres.Gorm, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rm, ok := f.dbs[name]
	if !ok {
		return nil, fmt.Errorf("database '%s' not found", name)
	}
	return rm, nil
}

// Each 按名称顺序遍历所有数据库
func (f *DatabaseFactory) Each(fn func(name string, rm *txres.Gorm)) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.dbs))
	for name := range f.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn(name, f.dbs[name])
	}
}

// Close 关闭所有数据库连接
func (f *DatabaseFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs error
	for name, rm := range f.dbs {
		sqlDB, err := rm.Client().DB()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to get sql.DB for '%s': %w", name, err))
			continue
		}
		if err := sqlDB.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close database '%s': %w", name, err))
		}
	}
	f.dbs = make(map[string]*txres.Gorm)
	return errs
}
