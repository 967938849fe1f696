package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/logging"
)

// Controller 控制器在 Host 启动时从容器解析并挂载路由
type Controller interface {
	MountRoutes(router gin.IRouter)
}

// HostOptions Web 主机配置
type HostOptions struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
}

// Builder Web 主机构建器（基于 Gin）
type Builder struct {
	cfg         config.Configuration
	logger      logging.Logger
	options     HostOptions
	engine      *gin.Engine
	store       SessionStore
	sessionIdle time.Duration
	routes      []func(gin.IRouter)
	controllers []any
	errors      error
}

// NewBuilder 创建 Web 构建器，cfg 可以为 nil
func NewBuilder(cfg config.Configuration, logger logging.Logger) *Builder {
	if logger == nil {
		logger = logging.Nop()
	}
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	// 默认中间件：恢复 panic
	engine.Use(gin.Recovery())

	return &Builder{
		cfg:     cfg,
		logger:  logger,
		options: HostOptions{Addr: ":8080", ReadHeaderTimeout: 10 * time.Second},
		engine:      engine,
		store:       NewMemoryStore(),
		sessionIdle: 30 * time.Minute,
	}
}

// UseAddr 设置监听地址
func (b *Builder) UseAddr(addr string) *Builder {
	b.options.Addr = addr
	return b
}

// UseConfiguration 从配置节 section 读取主机配置，未配置的字段保留当前值
func (b *Builder) UseConfiguration(section string) *Builder {
	if b.cfg == nil {
		b.errors = multierr.Append(b.errors, fmt.Errorf("web: no configuration for section '%s'", section))
		return b
	}
	if err := b.cfg.Bind(section, &b.options); err != nil && !errors.Is(err, config.ErrKeyNotFound) {
		b.errors = multierr.Append(b.errors, fmt.Errorf("web: %w", err))
	}
	return b
}

// UseSessionStore 替换默认的内存会话存储，nil 表示禁用会话作用域
func (b *Builder) UseSessionStore(store SessionStore) *Builder {
	b.store = store
	return b
}

// UseSessionIdle 内存会话超过 d 未访问即被清理
func (b *Builder) UseSessionIdle(d time.Duration) *Builder {
	b.sessionIdle = d
	return b
}

// Routes 注册不需要控制器的路由，与控制器一样挂在外部上下文中间件之后
func (b *Builder) Routes(fn func(router gin.IRouter)) *Builder {
	b.routes = append(b.routes, fn)
	return b
}

// Use 使用全局中间件
func (b *Builder) Use(middleware ...gin.HandlerFunc) *Builder {
	b.engine.Use(middleware...)
	return b
}

// AddControllers 注册控制器。
// 可以是构造函数（参数由容器注入），也可以是带 di 标签的实例指针。
func (b *Builder) AddControllers(controllers ...any) *Builder {
	b.controllers = append(b.controllers, controllers...)
	return b
}

// Engine 获取 Gin 引擎（用于高级定制）。直接在引擎上注册的路由不经过外部上下文中间件
func (b *Builder) Engine() *gin.Engine {
	return b.engine
}

// SessionStore 当前的会话存储
func (b *Builder) SessionStore() SessionStore {
	return b.store
}

// Build 把控制器注册到容器并创建主机，中间件 mw 挂在所有路由之前
func (b *Builder) Build(container di.Container, mw ...gin.HandlerFunc) (*Host, error) {
	if b.errors != nil {
		return nil, b.errors
	}

	types := make([]reflect.Type, 0, len(b.controllers))
	for _, item := range b.controllers {
		cd, err := controllerDef(item)
		if err != nil {
			return nil, err
		}
		if err := container.Register(cd); err != nil {
			return nil, fmt.Errorf("web: register controller %v: %w", cd.ComponentType(), err)
		}
		types = append(types, cd.ComponentType())
	}

	return &Host{
		options:     b.options,
		engine:      b.engine,
		middleware:  mw,
		routes:      b.routes,
		container:   container,
		controllers: types,
		logger:      b.logger,
	}, nil
}

// controllerDef 构造函数按返回类型注册，实例指针经过属性装配
func controllerDef(item any) (*di.ComponentDef, error) {
	v := reflect.ValueOf(item)
	switch {
	case v.Kind() == reflect.Func && v.Type().NumOut() > 0:
		return di.NewComponentDef(v.Type().Out(0), "", di.WithConstructor(item)), nil
	case v.Kind() == reflect.Pointer && !v.IsNil():
		ctor := reflect.MakeFunc(reflect.FuncOf(nil, []reflect.Type{v.Type()}, false),
			func([]reflect.Value) []reflect.Value { return []reflect.Value{v} })
		return di.NewComponentDef(v.Type(), "", di.WithConstructor(ctor.Interface())), nil
	}
	return nil, fmt.Errorf("web: controller must be a constructor or a pointer, got %T", item)
}

// Host Web 主机，实现 hosting.HostedService
type Host struct {
	options     HostOptions
	engine      *gin.Engine
	middleware  []gin.HandlerFunc
	routes      []func(gin.IRouter)
	container   di.Container
	controllers []reflect.Type
	logger      logging.Logger

	mu      sync.Mutex
	server  *http.Server
	addr    string
	ready   chan struct{}
	stopped bool
	once    sync.Once
}

// Name 实现 hosting.Named
func (h *Host) Name() string { return "web" }

// Handler 挂载控制器后的 HTTP 处理器，可直接用于 httptest
func (h *Host) Handler(ctx context.Context) (http.Handler, error) {
	var err error
	h.once.Do(func() { err = h.mapControllers(ctx) })
	if err != nil {
		return nil, fmt.Errorf("web: failed to map controllers: %w", err)
	}
	return h.engine, nil
}

// Addr 实际监听地址，Start 之前为空
func (h *Host) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Ready 在开始接受连接后关闭
func (h *Host) Ready() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ready == nil {
		h.ready = make(chan struct{})
	}
	return h.ready
}

// Start 启动 Web 主机，阻塞直到 Stop
func (h *Host) Start(ctx context.Context) error {
	handler, err := h.Handler(ctx)
	if err != nil {
		return err
	}

	// 同步监听，确保端口可用
	ln, err := net.Listen("tcp", h.options.Addr)
	if err != nil {
		return fmt.Errorf("web: failed to listen on %s: %w", h.options.Addr, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: h.options.ReadHeaderTimeout,
		ReadTimeout:       h.options.ReadTimeout,
		WriteTimeout:      h.options.WriteTimeout,
		IdleTimeout:       h.options.IdleTimeout,
	}
	h.Ready()
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	h.server = server
	h.addr = ln.Addr().String()
	close(h.ready)
	h.mu.Unlock()

	h.logger.Info("web host started", logging.F("address", ln.Addr().String()))
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		h.logger.Error("web host error", logging.Err(err))
		return err
	}
	return nil
}

// Stop 优雅关闭 Web 主机
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	server := h.server
	h.stopped = true
	h.mu.Unlock()
	if server == nil {
		return nil
	}

	h.logger.Info("stopping web host")
	if err := server.Shutdown(ctx); err != nil {
		h.logger.Error("failed to shutdown web host gracefully", logging.Err(err))
		return err
	}
	h.logger.Info("web host stopped")
	return nil
}

// mapControllers 先挂载中间件，再注册路由和从容器解析的控制器
func (h *Host) mapControllers(ctx context.Context) error {
	h.engine.Use(h.middleware...)
	for _, fn := range h.routes {
		fn(h.engine)
	}
	for _, typ := range h.controllers {
		instance, err := h.container.GetComponentContext(ctx, typ)
		if err != nil {
			return fmt.Errorf("failed to resolve controller %v: %w", typ, err)
		}
		ctrl, ok := instance.(Controller)
		if !ok {
			return fmt.Errorf("instance %v does not implement web.Controller interface", typ)
		}
		ctrl.MountRoutes(h.engine)
		h.logger.Debug("mapped controller routes", logging.F("controller", typ.String()))
	}
	return nil
}
