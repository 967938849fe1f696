package web

import (
	"github.com/gin-gonic/gin"

	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/tx"
)

// contextKey gin Keys 中保存外部上下文的键
const contextKey = "ioc.externalContext"

// MiddlewareOption 中间件选项
type MiddlewareOption func(*binder)

// WithManager 为每个请求的 context 绑定事务槽
func WithManager(m *tx.Manager) MiddlewareOption {
	return func(b *binder) { b.manager = m }
}

// WithApplication 使用给定的应用作用域属性表
func WithApplication(attrs di.AttributeMap) MiddlewareOption {
	return func(b *binder) { b.application = attrs }
}

type binder struct {
	store       SessionStore
	application di.AttributeMap
	manager     *tx.Manager
}

// Middleware 把外部上下文附加到请求的 context 上，
// 之后以 Request().Context() 解析的请求、会话作用域组件按请求区分。
// store 为 nil 时没有会话作用域。应用作用域默认取容器的外部上下文，容器没有时所有请求共享一个属性表。
func Middleware(c di.Container, store SessionStore, opts ...MiddlewareOption) gin.HandlerFunc {
	b := &binder{store: store}
	for _, opt := range opts {
		opt(b)
	}
	if b.application == nil && c != nil {
		if ec := c.ExternalContext(); ec != nil {
			b.application = ec.Application()
		}
	}
	if b.application == nil {
		b.application = di.NewAttributes()
	}

	return func(gc *gin.Context) {
		var sess di.AttributeMap
		if b.store != nil {
			sess = b.store.Session(gc)
		}
		ec := NewContext(gc, sess, b.application)
		gc.Set(contextKey, ec)

		ctx := di.WithExternalContext(gc.Request.Context(), ec)
		if b.manager != nil {
			ctx = b.manager.Bind(ctx)
		}
		gc.Request = gc.Request.WithContext(ctx)
		gc.Next()
	}
}

// ExternalContext 返回中间件附加的外部上下文，没有经过中间件时按请求临时创建
func ExternalContext(gc *gin.Context) *Context {
	if v, ok := gc.Get(contextKey); ok {
		if ec, ok := v.(*Context); ok {
			return ec
		}
	}
	return NewContext(gc, nil, nil)
}

// Resolve 在请求的上下文中按类型 T 解析组件
func Resolve[T any](gc *gin.Context, c di.Container) (T, error) {
	ctx := gc.Request.Context()
	if di.ExternalContextFrom(ctx) == nil {
		ctx = di.WithExternalContext(ctx, ExternalContext(gc))
	}
	return di.ResolveContext[T](ctx, c)
}
