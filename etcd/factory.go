package etcd

import (
	"fmt"
	"sort"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"

	"github.com/gocrud/ioc/config"
)

// EtcdClientOptions etcd 客户端配置选项
type EtcdClientOptions struct {
	Name               string        `yaml:"-"`
	Endpoints          []string      `yaml:"endpoints"`
	DialTimeout        time.Duration `yaml:"dialTimeout"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	AutoSyncInterval   time.Duration `yaml:"autoSyncInterval"`
	MaxCallSendMsgSize int           `yaml:"maxCallSendMsgSize"`
	MaxCallRecvMsgSize int           `yaml:"maxCallRecvMsgSize"`
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name string) *EtcdClientOptions {
	return &EtcdClientOptions{
		Name:        name,
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: 5 * time.Second,
	}
}

// Validate 验证配置
func (o *EtcdClientOptions) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("etcd client name is required")
	}
	if len(o.Endpoints) == 0 {
		return fmt.Errorf("etcd endpoints are required")
	}
	if o.DialTimeout <= 0 {
		return fmt.Errorf("etcd dial timeout must be positive")
	}
	return nil
}

func (o *EtcdClientOptions) clientConfig() clientv3.Config {
	cfg := clientv3.Config{
		Endpoints:   o.Endpoints,
		DialTimeout: o.DialTimeout,
	}
	if o.Username != "" {
		cfg.Username = o.Username
		cfg.Password = o.Password
	}
	if o.AutoSyncInterval > 0 {
		cfg.AutoSyncInterval = o.AutoSyncInterval
	}
	if o.MaxCallSendMsgSize > 0 {
		cfg.MaxCallSendMsgSize = o.MaxCallSendMsgSize
	}
	if o.MaxCallRecvMsgSize > 0 {
		cfg.MaxCallRecvMsgSize = o.MaxCallRecvMsgSize
	}
	return cfg
}

// EtcdClientFactory etcd 客户端工厂
type EtcdClientFactory struct {
	clients map[string]*clientv3.Client
	mu      sync.RWMutex
}

// NewEtcdClientFactory 创建客户端工厂
func NewEtcdClientFactory() *EtcdClientFactory {
	return &EtcdClientFactory{clients: make(map[string]*clientv3.Client)}
}

// Register 创建客户端。clientv3 在首次请求时才建立连接
func (f *EtcdClientFactory) Register(opts EtcdClientOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.clients[opts.Name]; exists {
		return fmt.Errorf("etcd client '%s' already registered", opts.Name)
	}
	client, err := clientv3.New(opts.clientConfig())
	if err != nil {
		return fmt.Errorf("failed to create etcd client: %w", err)
	}
	f.clients[opts.Name] = client
	return nil
}

// Get 获取指定名称的客户端
func (f *EtcdClientFactory) Get(name string) (*clientv3.Client, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	client, ok := f.clients[name]
	if !ok {
		return nil, fmt.Errorf("etcd client '%s' not found", name)
	}
	return client, nil
}

// ConfigSource 以客户端 name 读取 prefix 下的键作为配置源，客户端由工厂负责关闭
func (f *EtcdClientFactory) ConfigSource(name, prefix string) (*config.EtcdSource, error) {
	client, err := f.Get(name)
	if err != nil {
		return nil, err
	}
	return config.NewEtcdSource(config.EtcdOptions{
		Endpoints: client.Endpoints(),
		Prefix:    prefix,
		Client:    client,
	}), nil
}

// Each 按名称顺序遍历所有客户端
func (f *EtcdClientFactory) Each(fn func(name string, client *clientv3.Client)) {
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

// Close 关闭所有 etcd 客户端
func (f *EtcdClientFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs error
	for name, client := range f.clients {
		if err := client.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close client '%s': %w", name, err))
		}
	}
	f.clients = make(map[string]*clientv3.Client)
	return errs
}
