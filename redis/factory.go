package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/gocrud/ioc/txres"
)

// RedisClientOptions Redis 客户端配置选项
type RedisClientOptions struct {
	Name         string        `yaml:"-"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	PoolSize     int           `yaml:"poolSize"`
	MinIdleConns int           `yaml:"minIdleConns"`
	MaxRetries   int           `yaml:"maxRetries"`
	// ExecTimeout 事务提交时执行管道的超时
	ExecTimeout time.Duration `yaml:"execTimeout"`
	// Lazy 为 true 时注册不做连通性检查
	Lazy bool `yaml:"lazy"`
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name string) *RedisClientOptions {
	return &RedisClientOptions{
		Name:         name,
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		ExecTimeout:  5 * time.Second,
	}
}

// Validate 验证配置
func (o *RedisClientOptions) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("redis client name is required")
	}
	if o.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if o.DB < 0 {
		return fmt.Errorf("redis database number must be non-negative")
	}
	if o.DialTimeout <= 0 {
		return fmt.Errorf("redis dial timeout must be positive")
	}
	return nil
}

// RedisClientFactory Redis 客户端工厂，每个客户端对应一个事务资源管理器
type RedisClientFactory struct {
	clients map[string]*txres.Redis
	mu      sync.RWMutex
}

// NewRedisClientFactory 创建客户端工厂
func NewRedisClientFactory() *RedisClientFactory {
	return &RedisClientFactory{clients: make(map[string]*txres.Redis)}
}

// Register 创建客户端，非 Lazy 时先测试连接
func (f *RedisClientFactory) Register(opts RedisClientOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.clients[opts.Name]; exists {
		return fmt.Errorf("redis client '%s' already registered", opts.Name)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		MaxRetries:   opts.MaxRetries,
	})

	if !opts.Lazy {
		ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	f.clients[opts.Name] = txres.NewRedis(opts.Name, client, opts.ExecTimeout)
	return nil
}

// Get 获取指定名称的 Redis 客户端
func (f *RedisClientFactory) Get(name string) (*redis.Client, error) {
	rm, err := f.Resource(name)
	if err != nil {
		return nil, err
	}
	return rm.Client(), nil
}

// Resource 获取指定名称的事务资源管理器
func (f *RedisClientFactory) Resource(name string) (*txres.Redis, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rm, exists := f.clients[name]
	if !exists {
		return nil, fmt.Errorf("redis client '%s' not found", name)
	}
	return rm, nil
}

// Each 按名称顺序遍历所有客户端
func (f *RedisClientFactory) Each(fn func(name string, rm *txres.Redis)) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.clients))
	for name := range f.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn(name, f.clients[name])
	}
}

// Close 关闭所有 Redis 客户端
func (f *RedisClientFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs error
	for name, rm := range f.clients {
		if err := rm.Client().Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close client '%s': %w", name, err))
		}
	}
	f.clients = make(map[string]*txres.Redis)
	return errs
}
