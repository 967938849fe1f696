package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/hosting"
	"github.com/gocrud/ioc/logging"
	"github.com/gocrud/ioc/tx"
)

// TransactionManagerName 事务管理器在根容器中的组件名
const TransactionManagerName = "transactionManager"

// ErrSealed 运行时已经构建，配置与日志不能再修改
var ErrSealed = errors.New("core: runtime already built")

// Runtime 是框架的状态容器：配置、日志、根容器、事务管理器与托管服务。
//
// 配置类 Option（WithConfiguration、WithLogging 等）只记录设置；
// 第一次访问 Container 或 Manager 时按这些设置构建运行时，之后再修改设置返回 ErrSealed。
type Runtime struct {
	// Lifecycle 生命周期钩子，在托管服务启动前执行，停止时逆序执行
	Lifecycle *LifecycleEvents

	// ErrorHandler 记录托管服务的致命错误，默认写入运行时日志
	ErrorHandler func(err error)

	mu      sync.Mutex
	sealed  bool
	built   error
	section string

	configure       []func(*config.ConfigurationBuilder)
	configuration   config.Configuration
	loggerFactory   logging.LoggerFactory
	logOutput       io.Writer
	containerOpts   []di.ContainerOption
	txOpts          []tx.Option
	registerer      prometheus.Registerer
	shutdownTimeout time.Duration

	options   config.Options
	factory   logging.LoggerFactory
	logger    logging.Logger
	container di.Container
	manager   *tx.Manager
	hosted    *hosting.HostedServiceManager
	services  []any

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewRuntime 创建一个尚未构建的运行时
func NewRuntime() *Runtime {
	rt := &Runtime{
		Lifecycle:       NewLifecycle(),
		section:         config.DefaultSection,
		logOutput:       os.Stdout,
		registerer:      prometheus.DefaultRegisterer,
		shutdownTimeout: 30 * time.Second,
		shutdownCh:      make(chan struct{}),
	}
	rt.ErrorHandler = func(err error) {
		rt.Logger().Error("runtime error", logging.Err(err))
	}
	return rt
}

// Apply 按顺序应用 Option，遇到第一个错误即返回
func (rt *Runtime) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return err
		}
	}
	return nil
}

// setting 在运行时构建之前修改设置
func (rt *Runtime) setting(fn func()) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.sealed {
		return ErrSealed
	}
	fn()
	return nil
}

// Build 按当前设置构建运行时，重复调用返回第一次的结果
func (rt *Runtime) Build() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.sealed {
		rt.sealed = true
		rt.built = rt.build()
	}
	return rt.built
}

func (rt *Runtime) build() error {
	cfg := rt.configuration
	if cfg == nil {
		b := config.NewConfigurationBuilder()
		for _, fn := range rt.configure {
			fn(b)
		}
		loaded, err := b.BuildReloadable()
		if err != nil {
			return fmt.Errorf("core: build configuration: %w", err)
		}
		cfg = loaded
	}
	rt.configuration = cfg

	opts, err := config.LoadOptions(cfg, rt.section)
	if err != nil {
		return err
	}
	rt.options = opts

	rt.factory = rt.loggerFactory
	if rt.factory == nil {
		b := logging.NewLoggingBuilder().
			SetMinimumLevel(logging.ParseLevel(opts.Logging.Level)).
			SetOutput(rt.logOutput)
		if err := b.AddNamed(opts.Logging.Provider, opts.Logging.JSON); err != nil {
			return err
		}
		rt.factory = b.Build()
	}
	rt.logger = rt.factory.CreateLogger("ioc")
	if r, ok := cfg.(config.Reloadable); ok && rt.loggerFactory == nil {
		r.OnReload(rt.reloadLogLevel)
	}

	rt.container = di.New(rt.containerOptions(opts.Container)...)
	rt.manager = tx.NewManager(rt.transactionOptions(opts.Transaction)...)
	rt.hosted = hosting.NewHostedServiceManager(rt.factory.CreateLogger("ioc.hosting"))

	if _, err := di.RegisterValue(rt.container, rt.manager, di.WithName(TransactionManagerName)); err != nil {
		return err
	}
	if _, err := di.RegisterValue(rt.container, cfg, di.WithName("configuration"), di.As[config.Configuration]()); err != nil {
		return err
	}
	if _, err := di.RegisterValue(rt.container, rt.factory, di.WithName("loggerFactory"), di.As[logging.LoggerFactory]()); err != nil {
		return err
	}
	rt.logger.Debug("runtime built",
		logging.F("namespace", rt.container.Namespace()),
		logging.F("threadSafe", opts.Container.ThreadSafe))
	return nil
}

func (rt *Runtime) containerOptions(o config.ContainerOptions) []di.ContainerOption {
	opts := []di.ContainerOption{di.WithLogger(rt.factory.CreateLogger("ioc.di"))}
	if o.ThreadSafe {
		opts = append(opts, di.WithThreadSafe())
	}
	if o.Namespace != "" {
		opts = append(opts, di.WithNamespace(o.Namespace))
	}
	if len(o.TrustedPrefixes) > 0 {
		opts = append(opts, di.WithTrustedPrefixes(o.TrustedPrefixes...))
	}
	return append(opts, rt.containerOpts...)
}

func (rt *Runtime) transactionOptions(o config.TransactionOptions) []tx.Option {
	opts := []tx.Option{tx.WithLogger(rt.factory.CreateLogger("ioc"))}
	if o.Timeout > 0 {
		opts = append(opts, tx.WithTimeout(o.Timeout))
	}
	if len(o.NonJoinable) > 0 {
		opts = append(opts, tx.WithNonJoinablePrefixes(o.NonJoinable...))
	}
	if o.MetricsNamespace != "" && rt.registerer != nil {
		opts = append(opts, tx.WithMetrics(o.MetricsNamespace, rt.registerer))
	}
	return append(opts, rt.txOpts...)
}

// reloadLogLevel 配置重新加载后调整最小日志级别
func (rt *Runtime) reloadLogLevel() {
	opts, err := config.LoadOptions(rt.configuration, rt.section)
	if err != nil {
		rt.logger.Warn("ignoring invalid runtime options after reload", logging.Err(err))
		return
	}
	rt.factory.SetMinimumLevel(logging.ParseLevel(opts.Logging.Level))
}

// mustBuild 供访问器使用；构建失败时返回的组件为 nil，错误由 Build 或 Run 报告
func (rt *Runtime) mustBuild() {
	_ = rt.Build()
}

// Container 根容器
func (rt *Runtime) Container() di.Container {
	rt.mustBuild()
	return rt.container
}

// Manager 事务管理器
func (rt *Runtime) Manager() *tx.Manager {
	rt.mustBuild()
	return rt.manager
}

func (rt *Runtime) Configuration() config.Configuration {
	rt.mustBuild()
	return rt.configuration
}

// Options 构建时读取的运行时选项
func (rt *Runtime) Options() config.Options {
	rt.mustBuild()
	return rt.options
}

// Logger 运行时日志，构建失败时为 Nop
func (rt *Runtime) Logger() logging.Logger {
	rt.mustBuild()
	if rt.logger == nil {
		return logging.Nop()
	}
	return rt.logger
}

// LoggerFactory 用于为各模块创建分类日志
func (rt *Runtime) LoggerFactory() logging.LoggerFactory {
	rt.mustBuild()
	return rt.factory
}

// Shutdown 请求应用退出
func (rt *Runtime) Shutdown() {
	rt.shutdownOnce.Do(func() { close(rt.shutdownCh) })
}

// Done 返回一个通道，当应用需要退出时该通道会关闭
func (rt *Runtime) Done() <-chan struct{} {
	return rt.shutdownCh
}

// Run 初始化容器，执行启动钩子并启动托管服务，
// 阻塞到 ctx 结束、收到退出信号、调用 Shutdown 或托管服务失败，然后优雅关闭。
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Build(); err != nil {
		return err
	}
	logger := rt.logger

	if err := rt.container.Init(); err != nil {
		rt.container.Destroy()
		return fmt.Errorf("core: init container: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := rt.Lifecycle.Start(runCtx); err != nil {
		cancel()
		return multierr.Append(fmt.Errorf("core: start: %w", err), rt.stop())
	}
	if err := rt.addHostedServices(runCtx); err != nil {
		cancel()
		return multierr.Append(err, rt.stop())
	}
	errCh := rt.hosted.StartAll(runCtx)
	logger.Info("runtime started", logging.F("hostedServices", rt.hosted.Len()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", logging.F("signal", sig.String()))
	case <-rt.Done():
		logger.Info("shutdown requested")
	case <-ctx.Done():
		logger.Info("context cancelled")
	case err := <-errCh:
		rt.ErrorHandler(err)
		runErr = err
	}

	cancel()
	return multierr.Append(runErr, rt.stop())
}

// addHostedServices 解析通过 WithHostedService 注册的组件
func (rt *Runtime) addHostedServices(ctx context.Context) error {
	for _, key := range rt.services {
		v, err := rt.container.GetComponentContext(ctx, key)
		if err != nil {
			return fmt.Errorf("core: resolve hosted service %v: %w", key, err)
		}
		svc, ok := v.(hosting.HostedService)
		if !ok {
			return fmt.Errorf("core: %T does not implement hosting.HostedService", v)
		}
		rt.hosted.Add(svc)
	}
	rt.services = nil
	return nil
}

// stop 停止托管服务、执行停止钩子并销毁容器树
func (rt *Runtime) stop() error {
	logger := rt.logger
	logger.Info("shutting down", logging.F("timeout", rt.shutdownTimeout.String()))

	ctx, cancel := context.WithTimeout(context.Background(), rt.shutdownTimeout)
	defer cancel()

	err := rt.hosted.StopAll(ctx)
	if werr := rt.hosted.Wait(ctx); werr != nil {
		logger.Warn("hosted services did not exit in time", logging.Err(werr))
	}
	err = multierr.Append(err, rt.Lifecycle.Stop(ctx))
	rt.container.Destroy()
	logger.Info("runtime stopped")
	return err
}
