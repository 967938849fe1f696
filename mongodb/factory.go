package mongodb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/multierr"

	"github.com/gocrud/ioc/txres"
)

// MongoOptions MongoDB 客户端配置选项
type MongoOptions struct {
	Name        string
	Uri         string
	Username    string
	Password    string
	MaxPoolSize uint64
	MinPoolSize uint64
	Timeout     time.Duration
	// Lazy 为 true 时注册不做连通性检查
	Lazy bool
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name string, uri string) *MongoOptions {
	return &MongoOptions{
		Name:        name,
		Uri:         uri,
		MaxPoolSize: 100,
		MinPoolSize: 5,
		Timeout:     10 * time.Second,
	}
}

// Validate 验证配置
func (o *MongoOptions) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("mongo client name is required")
	}
	if o.Uri == "" {
		return fmt.Errorf("mongo uri is required")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("mongo timeout must be positive")
	}
	return nil
}

// clientOptions 转换为驱动选项
func (o *MongoOptions) clientOptions() *options.ClientOptions {
	clientOpts := options.Client().ApplyURI(o.Uri)
	if o.Username != "" || o.Password != "" {
		clientOpts.SetAuth(options.Credential{
			Username: o.Username,
			Password: o.Password,
		})
	}
	if o.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(o.MaxPoolSize)
	}
	if o.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(o.MinPoolSize)
	}
	return clientOpts.SetConnectTimeout(o.Timeout)
}

// MongoFactory MongoDB 客户端工厂，每个客户端对应一个事务资源管理器
type MongoFactory struct {
	clients map[string]*txres.Mongo
	mu      sync.RWMutex
}

// NewMongoFactory 创建客户端工厂
func NewMongoFactory() *MongoFactory {
	return &MongoFactory{clients: make(map[string]*txres.Mongo)}
}

// Register 创建客户端，非 Lazy 时 Ping 主节点
func (f *MongoFactory) Register(opts MongoOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.clients[opts.Name]; exists {
		return fmt.Errorf("mongo client '%s' already registered", opts.Name)
	}

	client, err := mongo.Connect(opts.clientOptions())
	if err != nil {
		return fmt.Errorf("failed to create mongo client '%s': %w", opts.Name, err)
	}
	if !opts.Lazy {
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return fmt.Errorf("failed to connect to mongo '%s': %w", opts.Name, err)
		}
	}

	f.clients[opts.Name] = txres.NewMongo(opts.Name, client, opts.Timeout)
	return nil
}

// Get 获取指定名称的客户端
func (f *MongoFactory) Get(name string) (*mongo.Client, error) {
	rm, err := f.Resource(name)
	if err != nil {
		return nil, err
	}
	return rm.Client(), nil
}

// Resource 获取指定名称的事务资源管理器
func (f *MongoFactory) Resource(name string) (*txres.Mongo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rm, ok := f.clients[name]
	if !ok {
		return nil, fmt.Errorf("mongo client '%s' not found", name)
	}
	return rm, nil
}

// Each 按名称顺序遍历所有客户端
func (f *MongoFactory) Each(fn func(name string, rm *txres.Mongo)) {
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

// Close 断开所有客户端
func (f *MongoFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs error
	for name, rm := range f.clients {
		if err := rm.Client().Disconnect(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close client '%s': %w", name, err))
		}
	}
	f.clients = make(map[string]*txres.Mongo)
	return errs
}
