package tx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gocrud/ioc/logging"
)

// config 管理器与其创建的事务共享
type config struct {
	logger      logging.Logger
	nonJoinable []string
	metrics     *metrics
}

// Option 配置 Manager
type Option func(*managerOptions)

type managerOptions struct {
	logger      logging.Logger
	nonJoinable []string
	registerer  prometheus.Registerer
	namespace   string
	timeout     time.Duration
}

func defaultManagerOptions() *managerOptions {
	return &managerOptions{
		logger:      logging.Nop(),
		nonJoinable: append([]string(nil), DefaultNonJoinablePrefixes...),
	}
}

func WithLogger(l logging.Logger) Option {
	return func(o *managerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNonJoinablePrefixes 替换不可加入已有分支的厂商前缀
func WithNonJoinablePrefixes(prefixes ...string) Option {
	return func(o *managerOptions) {
		o.nonJoinable = prefixes
	}
}

// WithMetrics 在 reg 上注册事务计数器
func WithMetrics(namespace string, reg prometheus.Registerer) Option {
	return func(o *managerOptions) {
		o.namespace, o.registerer = namespace, reg
	}
}

// WithTimeout 设置默认事务超时，只做记录
func WithTimeout(d time.Duration) Option {
	return func(o *managerOptions) {
		o.timeout = d
	}
}
