package web

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/di"
)

// HostName Web 主机在容器中的组件名
const HostName = "webHost"

// BuilderOption 用于配置 Web Builder
type BuilderOption func(*Builder)

// WithAddr 设置监听地址
func WithAddr(addr string) BuilderOption {
	return func(b *Builder) { b.UseAddr(addr) }
}

// WithConfiguredHost 从配置节读取主机配置，例如 "web"
func WithConfiguredHost(section string) BuilderOption {
	return func(b *Builder) { b.UseConfiguration(section) }
}

// WithControllers 添加控制器
func WithControllers(controllers ...any) BuilderOption {
	return func(b *Builder) { b.AddControllers(controllers...) }
}

// WithRoutes 注册路由
func WithRoutes(fn func(router gin.IRouter)) BuilderOption {
	return func(b *Builder) { b.Routes(fn) }
}

// WithMiddleware 添加全局中间件，排在外部上下文中间件之前
func WithMiddleware(middleware ...gin.HandlerFunc) BuilderOption {
	return func(b *Builder) { b.Use(middleware...) }
}

// WithSessionStore 替换会话存储
func WithSessionStore(store SessionStore) BuilderOption {
	return func(b *Builder) { b.UseSessionStore(store) }
}

// WithSessionIdle 内存会话的空闲清理时间，默认 30 分钟
func WithSessionIdle(d time.Duration) BuilderOption {
	return func(b *Builder) { b.UseSessionIdle(d) }
}

// New 启用 Web 能力：请求携带外部上下文和事务槽，主机作为托管服务运行
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		builder := NewBuilder(rt.Configuration(), rt.LoggerFactory().CreateLogger("ioc.web"))
		for _, opt := range opts {
			opt(builder)
		}

		c := rt.Container()
		host, err := builder.Build(c, Middleware(c, builder.SessionStore(), WithManager(rt.Manager())))
		if err != nil {
			return err
		}

		if store, ok := builder.SessionStore().(*MemoryStore); ok && builder.sessionIdle > 0 {
			idle := builder.sessionIdle
			expire := core.WithTicker("web-sessions", idle, func(context.Context) error {
				store.Expire(idle)
				return nil
			})
			if err := expire(rt); err != nil {
				return err
			}
		}
		return core.WithHostedServiceValue(host, di.WithName(HostName))(rt)
	}
}
