package di

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gocrud/ioc/logging"
)

// Deployer 按实例策略创建或取得组件实例
type Deployer interface {
	Deploy(ctx context.Context) (any, error)
	// InjectDependency 只装配属性与初始化方法，不构造实例
	InjectDependency(ctx context.Context, outer any) error
	Init() error
	Destroy()
}

// InstanceDef 实例策略，负责为组件定义创建对应的 Deployer
type InstanceDef interface {
	Name() string
	NewDeployer(cd *ComponentDef) Deployer
}

type instanceDef struct {
	name    string
	factory func(cd *ComponentDef) Deployer
}

func (d instanceDef) Name() string                          { return d.name }
func (d instanceDef) NewDeployer(cd *ComponentDef) Deployer { return d.factory(cd) }
func (d instanceDef) String() string                        { return d.name }

// NewInstanceDef 用工厂函数定义新的实例策略，可注册到 Registry
func NewInstanceDef(name string, factory func(cd *ComponentDef) Deployer) InstanceDef {
	return instanceDef{name: name, factory: factory}
}

// 内置实例策略
var (
	InstanceSingleton   InstanceDef = instanceDef{name: "singleton", factory: newSingletonDeployer}
	InstancePrototype   InstanceDef = instanceDef{name: "prototype", factory: newPrototypeDeployer}
	InstanceApplication InstanceDef = instanceDef{name: "application", factory: scoped(ScopeApplication)}
	InstanceSession     InstanceDef = instanceDef{name: "session", factory: scoped(ScopeSession)}
	InstanceRequest     InstanceDef = instanceDef{name: "request", factory: scoped(ScopeRequest)}
	InstanceOuter       InstanceDef = instanceDef{name: "outer", factory: newOuterDeployer}
)

// assembly 汇集一个组件定义的三个装配器
type assembly struct {
	cd          *ComponentDef
	constructor *constructorAssembler
	properties  *propertyAssembler
	methods     *methodAssembler
}

func newAssembly(cd *ComponentDef) assembly {
	return assembly{
		cd:          cd,
		constructor: newConstructorAssembler(cd),
		properties:  newPropertyAssembler(cd),
		methods:     &methodAssembler{cd: cd},
	}
}

// create 构造、绑定属性并调用初始化方法
func (a assembly) create(ctx context.Context) (any, error) {
	component, err := a.constructor.assemble(ctx)
	if err != nil {
		return nil, err
	}
	return a.bind(ctx, component)
}

// bind 已有值的组件原样返回，不做装配
func (a assembly) bind(ctx context.Context, component any) (any, error) {
	if a.cd.hasValue {
		return component, nil
	}
	component, err := a.properties.assemble(ctx, component)
	if err != nil {
		return nil, err
	}
	if err := a.methods.invoke(ctx, component, a.cd.initMethods); err != nil {
		return nil, err
	}
	return component, nil
}

func (a assembly) logger() logging.Logger {
	if a.cd.container != nil {
		return a.cd.container.logger
	}
	return logging.Nop()
}

// singletonDeployer 每个定义一个实例，创建过程由互斥锁保护
type singletonDeployer struct {
	assembly
	mu        sync.Mutex
	ready     atomic.Bool
	component any
	// early 已构造但尚未完成属性绑定的实例，只对同一条解析链可见
	early    any
	hasEarly bool
}

func newSingletonDeployer(cd *ComponentDef) Deployer {
	return &singletonDeployer{assembly: newAssembly(cd)}
}

func (d *singletonDeployer) Deploy(ctx context.Context) (any, error) {
	if d.ready.Load() {
		return d.component, nil
	}
	if inResolution(ctx, d.cd) {
		if d.hasEarly {
			return d.early, nil
		}
		return nil, &CyclicReferenceError{Type: d.cd.ComponentType(), Name: d.cd.name}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready.Load() {
		return d.component, nil
	}

	ctx = enterResolution(ctx, d.cd)
	component, err := d.constructor.assemble(ctx)
	if err != nil {
		return nil, err
	}
	d.early, d.hasEarly = component, true
	component, err = d.bind(ctx, component)
	d.early, d.hasEarly = nil, false
	if err != nil {
		return nil, err
	}
	d.component = component
	d.ready.Store(true)
	return component, nil
}

func (d *singletonDeployer) InjectDependency(context.Context, any) error {
	return fmt.Errorf("%w: singleton %s cannot inject into an outer component", ErrUnsupportedOperation, d.cd)
}

// Init 单例在容器初始化时创建；依赖外部上下文的组件推迟到首次获取
func (d *singletonDeployer) Init() error {
	if d.cd.externalBinding {
		return nil
	}
	_, err := d.Deploy(context.Background())
	return err
}

func (d *singletonDeployer) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready.Load() {
		return
	}
	if err := d.methods.invoke(context.Background(), d.component, d.cd.destroyMethods); err != nil {
		d.logger().Error("destroy method failed", logging.F("component", d.cd.String()), logging.Err(err))
	}
	d.component = nil
	d.ready.Store(false)
}

func (d *singletonDeployer) peek() (any, bool) {
	if d.ready.Load() {
		return d.component, true
	}
	return nil, false
}

// prototypeDeployer 每次 Deploy 都创建新实例
type prototypeDeployer struct {
	assembly
}

func newPrototypeDeployer(cd *ComponentDef) Deployer {
	return &prototypeDeployer{assembly: newAssembly(cd)}
}

func (d *prototypeDeployer) Deploy(ctx context.Context) (any, error) {
	if inResolution(ctx, d.cd) {
		return nil, &CyclicReferenceError{Type: d.cd.ComponentType(), Name: d.cd.name}
	}
	return d.create(enterResolution(ctx, d.cd))
}

func (d *prototypeDeployer) InjectDependency(ctx context.Context, outer any) error {
	_, err := d.properties.assemble(ctx, outer)
	return err
}

func (d *prototypeDeployer) Init() error { return nil }
func (d *prototypeDeployer) Destroy()    {}

// Scope 外部上下文中的属性作用域
type Scope int

const (
	ScopeRequest Scope = iota
	ScopeSession
	ScopeApplication
)

func (s Scope) String() string {
	switch s {
	case ScopeSession:
		return "session"
	case ScopeApplication:
		return "application"
	default:
		return "request"
	}
}

func (s Scope) attributes(ec ExternalContext) AttributeMap {
	switch s {
	case ScopeSession:
		return ec.Session()
	case ScopeApplication:
		return ec.Application()
	default:
		return ec.Request()
	}
}

func scoped(scope Scope) func(cd *ComponentDef) Deployer {
	return func(cd *ComponentDef) Deployer {
		return &scopedDeployer{assembly: newAssembly(cd), scope: scope}
	}
}

// scopedDeployer 实例存放在外部上下文的属性表中
type scopedDeployer struct {
	assembly
	scope Scope
	mu    sync.Mutex
}

func (d *scopedDeployer) Deploy(ctx context.Context) (any, error) {
	ec := externalContextFor(ctx, d.cd)
	if ec == nil {
		return nil, &EmptyContextError{Component: d.cd.String()}
	}
	attrs := d.scope.attributes(ec)
	if attrs == nil {
		return nil, &EmptyContextError{Component: d.cd.String()}
	}
	key := d.cd.attributeKey()
	if v, ok := attrs.Get(key); ok {
		return v, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := attrs.Get(key); ok {
		return v, nil
	}
	if inResolution(ctx, d.cd) {
		return nil, &CyclicReferenceError{Type: d.cd.ComponentType(), Name: d.cd.name}
	}
	ctx = enterResolution(WithExternalContext(ctx, ec), d.cd)
	v, err := d.create(ctx)
	if err != nil {
		return nil, err
	}
	attrs.Set(key, v)
	return v, nil
}

func (d *scopedDeployer) InjectDependency(context.Context, any) error {
	return fmt.Errorf("%w: %s scoped %s cannot inject into an outer component", ErrUnsupportedOperation, d.scope, d.cd)
}

func (d *scopedDeployer) Init() error { return nil }
func (d *scopedDeployer) Destroy()    {}

// outerDeployer 组件由外部创建，容器只负责装配
type outerDeployer struct {
	assembly
}

func newOuterDeployer(cd *ComponentDef) Deployer {
	return &outerDeployer{assembly: newAssembly(cd)}
}

func (d *outerDeployer) Deploy(context.Context) (any, error) {
	return nil, fmt.Errorf("%w: outer component %s cannot be deployed", ErrUnsupportedOperation, d.cd)
}

func (d *outerDeployer) InjectDependency(ctx context.Context, outer any) error {
	if err := checkAssignable(d.cd, outer); err != nil {
		return err
	}
	_, err := d.bind(ctx, outer)
	return err
}

func (d *outerDeployer) Init() error { return nil }
func (d *outerDeployer) Destroy()    {}

// failedDeployer 实例策略无法解析时使用
type failedDeployer struct {
	err error
}

func (d failedDeployer) Deploy(context.Context) (any, error)         { return nil, d.err }
func (d failedDeployer) InjectDependency(context.Context, any) error { return d.err }
func (d failedDeployer) Init() error                                 { return d.err }
func (d failedDeployer) Destroy()                                    {}

// externalContextFor 优先使用 ctx 中的外部上下文，其次是根容器上的
func externalContextFor(ctx context.Context, cd *ComponentDef) ExternalContext {
	if ec := ExternalContextFrom(ctx); ec != nil {
		return ec
	}
	if cd.container != nil {
		return cd.container.ExternalContext()
	}
	return nil
}
