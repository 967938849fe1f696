package di

import (
	"reflect"

	"github.com/gocrud/ioc/logging"
)

// DefaultTrustedPrefixes 默认不信任任何包，setter 兜底绑定需要通过 WithTrustedPrefixes 开启
var DefaultTrustedPrefixes []string

// Disambiguator 在歧义查找时挑选一个候选，返回 nil 表示放弃
type Disambiguator func(key any, candidates []*ComponentDef) *ComponentDef

// Behavior 查找未命中时按需提供组件定义，返回 nil 表示没有
type Behavior interface {
	AcquireComponentDef(c Container, key any) (*ComponentDef, error)
}

// BehaviorFunc 把函数适配为 Behavior
type BehaviorFunc func(c Container, key any) (*ComponentDef, error)

func (f BehaviorFunc) AcquireComponentDef(c Container, key any) (*ComponentDef, error) {
	return f(c, key)
}

// ContainerOption 配置容器。
type ContainerOption func(*containerOptions)

type containerOptions struct {
	registry        *Registry
	logger          logging.Logger
	threadSafe      bool
	namespace       string
	path            string
	interfaces      []reflect.Type
	trustedPrefixes []string
	weaver          Weaver
	converter       Converter
	disambiguator   Disambiguator
	behavior        Behavior
	external        ExternalContext
}

func defaultContainerOptions() *containerOptions {
	return &containerOptions{
		registry:        DefaultRegistry(),
		logger:          logging.Nop(),
		trustedPrefixes: DefaultTrustedPrefixes,
		weaver:          identityWeaver{},
		converter:       DefaultConverter,
	}
}

// WithThreadSafe 所有注册表读写都在根容器的互斥锁下进行
func WithThreadSafe() ContainerOption {
	return func(o *containerOptions) {
		o.threadSafe = true
	}
}

// WithRegistry 指定策略注册表
func WithRegistry(r *Registry) ContainerOption {
	return func(o *containerOptions) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithLogger 设置容器日志
func WithLogger(l logging.Logger) ContainerOption {
	return func(o *containerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNamespace 设置命名空间
func WithNamespace(ns string) ContainerOption {
	return func(o *containerOptions) {
		o.namespace = ns
	}
}

// WithPath 设置容器路径，用于在根容器中查找子孙容器
func WithPath(path string) ContainerOption {
	return func(o *containerOptions) {
		o.path = path
	}
}

// WithInterfaces 注册时检查组件类型是否实现这些接口，实现了则以接口为键一并注册
func WithInterfaces(types ...reflect.Type) ContainerOption {
	return func(o *containerOptions) {
		o.interfaces = append(o.interfaces, types...)
	}
}

// WithTrustedPrefixes 替换受信任包前缀列表
func WithTrustedPrefixes(prefixes ...string) ContainerOption {
	return func(o *containerOptions) {
		o.trustedPrefixes = prefixes
	}
}

// WithWeaver 设置计算实际类型的 Weaver
func WithWeaver(w Weaver) ContainerOption {
	return func(o *containerOptions) {
		if w != nil {
			o.weaver = w
		}
	}
}

// WithConverter 设置值转换函数
func WithConverter(c Converter) ContainerOption {
	return func(o *containerOptions) {
		if c != nil {
			o.converter = c
		}
	}
}

// WithDisambiguator 设置歧义处理钩子
func WithDisambiguator(d Disambiguator) ContainerOption {
	return func(o *containerOptions) {
		o.disambiguator = d
	}
}

// WithBehavior 设置查找未命中时的行为钩子
func WithBehavior(b Behavior) ContainerOption {
	return func(o *containerOptions) {
		o.behavior = b
	}
}

// WithDefaultExternalContext 设置 ctx 中没有外部上下文时使用的默认值
func WithDefaultExternalContext(ec ExternalContext) ContainerOption {
	return func(o *containerOptions) {
		o.external = ec
	}
}
