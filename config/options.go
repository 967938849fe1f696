package config

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultSection 运行时选项所在的配置节
const DefaultSection = "ioc"

// Options 运行时选项
type Options struct {
	Container   ContainerOptions   `yaml:"container"`
	Transaction TransactionOptions `yaml:"transaction"`
	Logging     LoggingOptions     `yaml:"logging"`
}

// ContainerOptions 根容器选项
type ContainerOptions struct {
	ThreadSafe bool   `yaml:"threadSafe"`
	Namespace  string `yaml:"namespace"`
	// TrustedPrefixes 为空时使用容器默认值
	TrustedPrefixes []string `yaml:"trustedPrefixes"`
}

// TransactionOptions 事务管理器选项
type TransactionOptions struct {
	Timeout time.Duration `yaml:"timeout"`
	// NonJoinable 为空时使用 tx.DefaultNonJoinablePrefixes
	NonJoinable []string `yaml:"nonJoinable"`
	// MetricsNamespace 非空时注册 prometheus 计数器
	MetricsNamespace string `yaml:"metricsNamespace"`
}

// LoggingOptions 日志选项
type LoggingOptions struct {
	// Level trace、debug、info、warn、error、fatal
	Level string `yaml:"level"`
	// Provider console 或 zap
	Provider string `yaml:"provider"`
	// JSON 只对 zap 生效
	JSON bool `yaml:"json"`
}

// DefaultOptions 没有配置时的运行时选项
func DefaultOptions() Options {
	return Options{
		Logging: LoggingOptions{Level: "info", Provider: "console"},
	}
}

// LoadOptions 从 section 读取运行时选项，section 为空时使用 DefaultSection。
// 配置节不存在时返回默认值。
func LoadOptions(cfg Configuration, section string) (Options, error) {
	if section == "" {
		section = DefaultSection
	}
	opts := DefaultOptions()
	if err := cfg.Bind(section, &opts); err != nil && !errors.Is(err, ErrKeyNotFound) {
		return opts, fmt.Errorf("config: failed to load %s options: %w", section, err)
	}
	return opts, nil
}

// Monitor 跟随配置重新加载的类型化选项
type Monitor[T any] struct {
	config  Configuration
	section string

	mu      sync.RWMutex
	current T
	err     error
}

// NewMonitor 绑定 section 并在 Reloadable 配置重新加载时刷新
func NewMonitor[T any](cfg Configuration, section string) *Monitor[T] {
	m := &Monitor[T]{config: cfg, section: section}
	m.reload()
	if r, ok := cfg.(Reloadable); ok {
		r.OnReload(m.reload)
	}
	return m
}

func (m *Monitor[T]) reload() {
	var next T
	err := m.config.Bind(m.section, &next)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	if err == nil {
		m.current = next
	}
}

// Value 最近一次成功绑定的值
func (m *Monitor[T]) Value() T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Err 最近一次绑定的错误
func (m *Monitor[T]) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}
