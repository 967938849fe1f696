package di

import (
	"context"
	"sync"
)

// AttributeMap 是外部上下文中的一个属性作用域
type AttributeMap interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
}

// ExternalContext 宿主环境（例如一次 HTTP 请求）提供的上下文。
//
// 组件装配只读取参数和请求头，请求/会话/应用作用域的组件实例
// 存放在对应的 AttributeMap 中。
type ExternalContext interface {
	Param(name string) (string, bool)
	ParamValues(name string) []string
	Header(name string) (string, bool)
	HeaderValues(name string) []string
	// Request 请求级属性，也作为外部绑定的通用属性表
	Request() AttributeMap
	Session() AttributeMap
	Application() AttributeMap
}

// Attributes 是线程安全的 AttributeMap 实现
type Attributes struct {
	m sync.Map
}

// NewAttributes 创建空属性表
func NewAttributes() *Attributes {
	return &Attributes{}
}

func (a *Attributes) Get(key string) (any, bool) { return a.m.Load(key) }
func (a *Attributes) Set(key string, value any)  { a.m.Store(key, value) }
func (a *Attributes) Delete(key string)          { a.m.Delete(key) }

// MapContext 基于内存 map 的 ExternalContext，适合测试与非 Web 宿主
type MapContext struct {
	Params           map[string][]string
	Headers          map[string][]string
	RequestAttrs     *Attributes
	SessionAttrs     *Attributes
	ApplicationAttrs *Attributes
}

// NewMapContext 创建所有作用域均为空的上下文
func NewMapContext() *MapContext {
	return &MapContext{
		Params:           make(map[string][]string),
		Headers:          make(map[string][]string),
		RequestAttrs:     NewAttributes(),
		SessionAttrs:     NewAttributes(),
		ApplicationAttrs: NewAttributes(),
	}
}

func (m *MapContext) Param(name string) (string, bool) {
	if vs := m.Params[name]; len(vs) > 0 {
		return vs[0], true
	}
	return "", false
}

func (m *MapContext) ParamValues(name string) []string { return m.Params[name] }

func (m *MapContext) Header(name string) (string, bool) {
	if vs := m.Headers[name]; len(vs) > 0 {
		return vs[0], true
	}
	return "", false
}

func (m *MapContext) HeaderValues(name string) []string { return m.Headers[name] }
func (m *MapContext) Request() AttributeMap             { return m.RequestAttrs }
func (m *MapContext) Session() AttributeMap             { return m.SessionAttrs }
func (m *MapContext) Application() AttributeMap         { return m.ApplicationAttrs }

type externalContextKey struct{}

// WithExternalContext 将外部上下文附加到 ctx
func WithExternalContext(ctx context.Context, ec ExternalContext) context.Context {
	return context.WithValue(ctx, externalContextKey{}, ec)
}

// ExternalContextFrom 取出 ctx 中的外部上下文，没有时返回 nil
func ExternalContextFrom(ctx context.Context) ExternalContext {
	if ctx == nil {
		return nil
	}
	ec, _ := ctx.Value(externalContextKey{}).(ExternalContext)
	return ec
}

// resolutionChain 记录当前调用链上正在构造的组件定义
type resolutionChain struct {
	parent *resolutionChain
	def    *ComponentDef
}

type resolutionChainKey struct{}

func (r *resolutionChain) contains(cd *ComponentDef) bool {
	for n := r; n != nil; n = n.parent {
		if n.def == cd {
			return true
		}
	}
	return false
}

func inResolution(ctx context.Context, cd *ComponentDef) bool {
	chain, _ := ctx.Value(resolutionChainKey{}).(*resolutionChain)
	return chain.contains(cd)
}

func enterResolution(ctx context.Context, cd *ComponentDef) context.Context {
	chain, _ := ctx.Value(resolutionChainKey{}).(*resolutionChain)
	return context.WithValue(ctx, resolutionChainKey{}, &resolutionChain{parent: chain, def: cd})
}
