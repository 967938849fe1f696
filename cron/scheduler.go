package cron

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/logging"
	"github.com/gocrud/ioc/tx"
)

const (
	// MetaSpec 组件上的 cron 表达式元数据
	MetaSpec = "cron"
	// MetaMethod 要调度的方法名元数据，默认 DefaultMethod
	MetaMethod = "cron.method"
	// DefaultMethod 未指定 MetaMethod 时调用的方法
	DefaultMethod = "Run"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// jobDefinition 任务定义
type jobDefinition struct {
	spec    string
	name    string
	handler any
}

type options struct {
	location         *time.Location
	enableSeconds    bool
	enableCronLogger bool
	manager          *tx.Manager
}

// Option 调度器选项
type Option func(*options)

// WithSeconds 启用秒级精度，表达式第一段为秒
func WithSeconds() Option {
	return func(o *options) { o.enableSeconds = true }
}

// WithLocation 设置时区，默认 UTC
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

// EnableCronLogger 启用 cron 库的内部调度日志
func EnableCronLogger() Option {
	return func(o *options) { o.enableCronLogger = true }
}

// WithTransactionManager 每次执行前为任务的 context 绑定事务槽
func WithTransactionManager(m *tx.Manager) Option {
	return func(o *options) { o.manager = m }
}

// Scheduler 定时任务托管服务。
// Start 时扫描容器树中带有 cron 元数据的组件定义，连同 AddJob 添加的任务一起调度。
type Scheduler struct {
	cron      *cron.Cron
	container di.Container
	logger    logging.Logger
	manager   *tx.Manager

	mu      sync.Mutex
	jobs    map[string]cron.EntryID
	pending []jobDefinition
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler 创建调度器，logger 为 nil 时不输出日志
func NewScheduler(c di.Container, logger logging.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	opt := &options{location: time.UTC}
	for _, o := range opts {
		o(opt)
	}

	cronOpts := []cron.Option{
		cron.WithLocation(opt.location),
		cron.WithChain(cron.Recover(newCronLogger(logger))),
	}
	if opt.enableCronLogger {
		cronOpts = append(cronOpts, cron.WithLogger(newCronLogger(logger)))
	}
	if opt.enableSeconds {
		cronOpts = append(cronOpts, cron.WithSeconds())
	}

	return &Scheduler{
		cron:      cron.New(cronOpts...),
		container: c,
		logger:    logger,
		manager:   opt.manager,
		jobs:      make(map[string]cron.EntryID),
	}
}

// Name 实现 hosting.Named
func (s *Scheduler) Name() string { return "cron" }

// AddJob 添加任务。handler 可以是 func()，也可以是参数从容器解析的函数：
//
//	s.AddJob("0 */5 * * * *", "sync-data", func(ctx context.Context, svc *DataService) error {
//	    return svc.Sync(ctx)
//	})
//
// context.Context 参数接收执行时的 context，返回的 error 只记录日志。
// Start 之前添加的任务在 Start 时调度，之后添加的立即调度。
func (s *Scheduler) AddJob(spec, name string, handler any) error {
	if reflect.TypeOf(handler) == nil || reflect.TypeOf(handler).Kind() != reflect.Func {
		return fmt.Errorf("cron: job '%s': handler must be a function, got %T", name, handler)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		s.pending = append(s.pending, jobDefinition{spec: spec, name: name, handler: handler})
		return nil
	}
	return s.scheduleLocked(jobDefinition{spec: spec, name: name, handler: handler})
}

// RemoveJob 移除任务
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.logger.Info("cron job removed", logging.F("job", name))
	}
}

// Jobs 返回已调度的任务名
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next 返回任务下一次执行的时间
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start 实现 HostedService.Start，调度全部任务后立即返回
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return fmt.Errorf("cron: scheduler already started")
	}

	defs, err := s.scan()
	if err != nil {
		return err
	}
	defs = append(s.pending, defs...)
	s.logger.Info("cron scheduler starting", logging.F("jobs", len(defs)))

	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, def := range defs {
		if err := s.scheduleLocked(def); err != nil {
			s.cancel()
			s.ctx = nil
			return err
		}
	}
	s.pending = nil

	s.cron.Start()
	return nil
}

// Stop 实现 HostedService.Stop，等待正在执行的任务结束或 ctx 超时
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("cron scheduler stopping")

	stopCtx := s.cron.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) scheduleLocked(def jobDefinition) error {
	if _, exists := s.jobs[def.name]; exists {
		return fmt.Errorf("cron: job '%s' already scheduled", def.name)
	}
	run, err := s.wrap(def)
	if err != nil {
		return err
	}

	entryID, err := s.cron.AddFunc(def.spec, func() {
		s.logger.Debug("cron job started", logging.F("job", def.name))
		if err := run(s.jobContext()); err != nil {
			s.logger.Error("cron job failed", logging.F("job", def.name), logging.Err(err))
			return
		}
		s.logger.Debug("cron job completed", logging.F("job", def.name))
	})
	if err != nil {
		return fmt.Errorf("cron: failed to add job '%s': %w", def.name, err)
	}

	s.jobs[def.name] = entryID
	s.logger.Info("cron job registered", logging.F("job", def.name), logging.F("spec", def.spec))
	return nil
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if s.manager != nil {
		ctx = s.manager.Bind(ctx)
	}
	return ctx
}

func (s *Scheduler) wrap(def jobDefinition) (func(context.Context) error, error) {
	switch h := def.handler.(type) {
	case func():
		return func(context.Context) error { h(); return nil }, nil
	case func(context.Context) error:
		return h, nil
	}
	if s.container == nil {
		return nil, fmt.Errorf("cron: job '%s' requires a container", def.name)
	}
	return wrapHandlerWithDI(s.container, reflect.ValueOf(def.handler))
}

// wrapHandlerWithDI 参数在每次执行时从容器解析
func wrapHandlerWithDI(c di.Container, fn reflect.Value) (func(context.Context) error, error) {
	ft := fn.Type()
	if err := checkResults(ft); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		args := make([]reflect.Value, ft.NumIn())
		for i := range args {
			paramType := ft.In(i)
			if paramType == contextType {
				args[i] = reflect.ValueOf(ctx)
				continue
			}
			instance, err := c.GetComponentContext(ctx, paramType)
			if err != nil {
				return fmt.Errorf("resolve parameter %d (%v): %w", i, paramType, err)
			}
			args[i] = reflect.ValueOf(instance)
		}
		return resultError(fn.Call(args))
	}, nil
}

// scan 在容器树中查找带有 cron 元数据的组件定义
func (s *Scheduler) scan() ([]jobDefinition, error) {
	if s.container == nil {
		return nil, nil
	}
	var (
		defs    []jobDefinition
		visited = make(map[di.Container]bool)
		walk    func(c di.Container) error
	)
	walk = func(c di.Container) error {
		if visited[c] {
			return nil
		}
		visited[c] = true
		for i := 0; i < c.ComponentDefSize(); i++ {
			def, ok, err := componentJob(c, c.ComponentDefAt(i))
			if err != nil {
				return err
			}
			if ok {
				defs = append(defs, def)
			}
		}
		for i := 0; i < c.ChildSize(); i++ {
			if err := walk(c.ChildAt(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return defs, walk(s.container)
}

func componentJob(c di.Container, cd *di.ComponentDef) (jobDefinition, bool, error) {
	md := cd.MetaDef(MetaSpec)
	if md == nil {
		return jobDefinition{}, false, nil
	}
	spec, err := metaString(c, md)
	if err != nil {
		return jobDefinition{}, false, err
	}
	method := DefaultMethod
	if mm := cd.MetaDef(MetaMethod); mm != nil {
		if method, err = metaString(c, mm); err != nil {
			return jobDefinition{}, false, err
		}
	}

	name := cd.Name()
	if name == "" {
		name = cd.ComponentType().String()
	}
	name += "." + method

	if err := checkMethod(cd.ComponentType(), method); err != nil {
		return jobDefinition{}, false, fmt.Errorf("cron: job '%s': %w", name, err)
	}

	run := func(ctx context.Context) error {
		v, err := cd.GetComponentContext(ctx)
		if err != nil {
			return err
		}
		m := reflect.ValueOf(v).MethodByName(method)
		var args []reflect.Value
		if m.Type().NumIn() == 1 {
			args = []reflect.Value{reflect.ValueOf(ctx)}
		}
		return resultError(m.Call(args))
	}
	return jobDefinition{spec: spec, name: name, handler: run}, true, nil
}

func metaString(c di.Container, md *di.MetaDef) (string, error) {
	v, err := md.Resolve(context.Background(), c)
	if err != nil {
		return "", fmt.Errorf("cron: meta %q: %w", md.Name, err)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("cron: meta %q must be a string, got %T", md.Name, v)
	}
	return s, nil
}

// checkMethod 方法签名只能是 func()、func(ctx) 及返回 error 的变体
func checkMethod(t reflect.Type, name string) error {
	m, ok := t.MethodByName(name)
	if !ok {
		return fmt.Errorf("%v has no method %s", t, name)
	}
	// 方法表达式的第一个参数是接收者
	ft := m.Type
	switch {
	case ft.NumIn() == 1:
	case ft.NumIn() == 2 && ft.In(1) == contextType:
	default:
		return fmt.Errorf("method %s must take no arguments or a context.Context", name)
	}
	return checkResults(ft)
}

func checkResults(ft reflect.Type) error {
	switch {
	case ft.NumOut() == 0:
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
	default:
		return fmt.Errorf("job function must return nothing or an error, got %v", ft)
	}
	return nil
}

func resultError(out []reflect.Value) error {
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}
