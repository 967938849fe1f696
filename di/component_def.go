package di

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// ComponentDef 描述一个组件：类型、名称、实例策略以及装配所需的全部定义。
//
// 注册到容器后，ComponentDef 持有惰性创建的 Deployer，
// 组件实例总是经由 Deployer 获得。
type ComponentDef struct {
	metaDefSupport

	mu            sync.Mutex
	componentType reflect.Type
	concreteType  reflect.Type
	name          string

	instanceDef     InstanceDef
	instanceName    string
	autoBinding     AutoBinding
	externalBinding bool
	// nameOnly 不按类型注册
	nameOnly bool

	constructors   []any
	args           []*ArgDef
	props          []*PropertyDef
	propsByName    map[string]*PropertyDef
	initMethods    []*MethodDef
	destroyMethods []*MethodDef
	aspects        []*AspectDef
	interTypes     []*InterTypeDef
	provides       []reflect.Type

	expression Expression
	value      any
	hasValue   bool

	container *container
	deployer  Deployer
	destroyed bool

	// adoptedType 表达式定义在首次求值后才知道类型
	adoptedType    bool
	typeRegistered atomic.Bool
}

// NewComponentDef 创建组件定义，typ 可以为 nil（由表达式决定类型）
func NewComponentDef(typ reflect.Type, name string, opts ...DefOption) *ComponentDef {
	cd := &ComponentDef{
		componentType: typ,
		name:          name,
		instanceDef:   InstanceSingleton,
		autoBinding:   AutoBindingAuto,
		propsByName:   make(map[string]*PropertyDef),
	}
	for _, opt := range opts {
		opt(cd)
	}
	return cd
}

// Component 以类型参数声明组件
//
// 示例：
//
//	c.Register(di.Component[*SeaLogic](di.WithName("seaLogic")))
func Component[T any](opts ...DefOption) *ComponentDef {
	return NewComponentDef(TypeOf[T](), "", opts...)
}

// ExpressionComponent 组件实例由表达式求得
func ExpressionComponent(name string, expr Expression, opts ...DefOption) *ComponentDef {
	cd := NewComponentDef(nil, name, opts...)
	cd.expression = expr
	return cd
}

// ValueComponent 把已有对象注册为单例组件
func ValueComponent(v any, opts ...DefOption) *ComponentDef {
	cd := NewComponentDef(reflect.TypeOf(v), "", opts...)
	cd.value, cd.hasValue = v, true
	return cd
}

// ComponentType 声明类型，表达式组件在求值前可能为 nil
func (cd *ComponentDef) ComponentType() reflect.Type {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.componentType
}

// ConcreteType 返回经 Weaver 处理后的实际类型，结果会被缓存
func (cd *ComponentDef) ConcreteType() (reflect.Type, error) {
	cd.mu.Lock()
	if cd.concreteType != nil || cd.componentType == nil {
		t := cd.concreteType
		cd.mu.Unlock()
		return t, nil
	}
	cd.mu.Unlock()

	weaver := Weaver(identityWeaver{})
	if cd.container != nil && cd.container.opts.weaver != nil {
		weaver = cd.container.opts.weaver
	}
	t, err := weave(weaver, cd)
	if err != nil {
		return nil, err
	}

	cd.mu.Lock()
	cd.concreteType = t
	cd.mu.Unlock()
	return t, nil
}

func (cd *ComponentDef) Name() string { return cd.name }

// SetName 只应在注册前调用
func (cd *ComponentDef) SetName(name string) { cd.name = name }

func (cd *ComponentDef) InstanceDef() InstanceDef {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	if err := cd.resolveInstanceLocked(); err != nil {
		return nil
	}
	return cd.instanceDef
}

// resolveInstanceLocked 把策略名解析为 InstanceDef
func (cd *ComponentDef) resolveInstanceLocked() error {
	if cd.instanceName == "" {
		return nil
	}
	reg := DefaultRegistry()
	if cd.container != nil {
		reg = cd.container.opts.registry
	}
	def, err := reg.InstanceDef(cd.instanceName)
	if err != nil {
		return err
	}
	cd.instanceDef, cd.instanceName = def, ""
	return nil
}

// SetInstanceDef 只应在首次部署前调用
func (cd *ComponentDef) SetInstanceDef(def InstanceDef) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.instanceDef, cd.instanceName = def, ""
	cd.deployer = nil
}

func (cd *ComponentDef) AutoBinding() AutoBinding { return cd.autoBinding }

func (cd *ComponentDef) SetAutoBinding(a AutoBinding) { cd.autoBinding = a }

func (cd *ComponentDef) ExternalBinding() bool { return cd.externalBinding }

func (cd *ComponentDef) SetExternalBinding(b bool) { cd.externalBinding = b }

func (cd *ComponentDef) Expression() Expression { return cd.expression }

// Container 返回所属容器，未注册时为 nil
func (cd *ComponentDef) Container() Container {
	if cd.container == nil {
		return nil
	}
	return cd.container
}

// SetContainer 同时设置所有子组件定义的容器
func (cd *ComponentDef) SetContainer(c Container) {
	if impl, ok := c.(*container); ok {
		cd.setContainer(impl)
	}
}

func (cd *ComponentDef) setContainer(c *container) {
	cd.container = c
	for _, a := range cd.args {
		a.bindChild(c)
	}
	for _, p := range cd.props {
		p.bindChild(c)
	}
	for _, md := range append(append([]*MethodDef(nil), cd.initMethods...), cd.destroyMethods...) {
		for _, a := range md.Args {
			a.bindChild(c)
		}
	}
	for _, a := range cd.aspects {
		a.bindChild(c)
	}
	for _, it := range cd.interTypes {
		it.bindChild(c)
	}
	for _, m := range cd.metas {
		m.bindChild(c)
	}
}

func (cd *ComponentDef) AddArgDef(a *ArgDef) { cd.args = append(cd.args, a) }

func (cd *ComponentDef) ArgDefs() []*ArgDef { return append([]*ArgDef(nil), cd.args...) }

// AddPropertyDef 同名属性定义会被替换
func (cd *ComponentDef) AddPropertyDef(pd *PropertyDef) {
	if old, ok := cd.propsByName[pd.Name]; ok {
		for i, p := range cd.props {
			if p == old {
				cd.props[i] = pd
			}
		}
	} else {
		cd.props = append(cd.props, pd)
	}
	if cd.propsByName == nil {
		cd.propsByName = make(map[string]*PropertyDef)
	}
	cd.propsByName[pd.Name] = pd
}

func (cd *ComponentDef) PropertyDef(name string) *PropertyDef { return cd.propsByName[name] }

func (cd *ComponentDef) PropertyDefs() []*PropertyDef {
	return append([]*PropertyDef(nil), cd.props...)
}

func (cd *ComponentDef) AddInitMethodDef(md *MethodDef) { cd.initMethods = append(cd.initMethods, md) }

func (cd *ComponentDef) InitMethodDefs() []*MethodDef {
	return append([]*MethodDef(nil), cd.initMethods...)
}

func (cd *ComponentDef) AddDestroyMethodDef(md *MethodDef) {
	cd.destroyMethods = append(cd.destroyMethods, md)
}

func (cd *ComponentDef) DestroyMethodDefs() []*MethodDef {
	return append([]*MethodDef(nil), cd.destroyMethods...)
}

// AddAspectDef 会使缓存的实际类型失效
func (cd *ComponentDef) AddAspectDef(a *AspectDef) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.aspects = append(cd.aspects, a)
	cd.concreteType = nil
}

func (cd *ComponentDef) AspectDefs() []*AspectDef { return append([]*AspectDef(nil), cd.aspects...) }

// AddInterTypeDef 会使缓存的实际类型失效
func (cd *ComponentDef) AddInterTypeDef(it *InterTypeDef) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.interTypes = append(cd.interTypes, it)
	cd.concreteType = nil
}

func (cd *ComponentDef) InterTypeDefs() []*InterTypeDef {
	return append([]*InterTypeDef(nil), cd.interTypes...)
}

// Provides 组件额外声明的接口类型
func (cd *ComponentDef) Provides() []reflect.Type { return append([]reflect.Type(nil), cd.provides...) }

// Deployer 返回（必要时创建）该定义的部署器
func (cd *ComponentDef) Deployer() Deployer {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	if cd.destroyed {
		return failedDeployer{err: fmt.Errorf("di: %s: %w", describe(cd.componentType, cd.name), ErrContainerDestroyed)}
	}
	if cd.container == nil {
		return failedDeployer{err: fmt.Errorf("di: %s is not registered to a container", describe(cd.componentType, cd.name))}
	}
	if cd.deployer == nil {
		if err := cd.resolveInstanceLocked(); err != nil {
			return failedDeployer{err: err}
		}
		cd.deployer = cd.instanceDef.NewDeployer(cd)
	}
	return cd.deployer
}

// GetComponent 通过部署器取得组件实例
func (cd *ComponentDef) GetComponent() (any, error) {
	return cd.GetComponentContext(context.Background())
}

func (cd *ComponentDef) GetComponentContext(ctx context.Context) (any, error) {
	v, err := cd.Deployer().Deploy(ctx)
	if err != nil {
		return nil, err
	}
	cd.registerAdoptedType()
	return v, nil
}

// InjectDependency 把依赖装配到外部创建的对象上
func (cd *ComponentDef) InjectDependency(outer any) error {
	return cd.InjectDependencyContext(context.Background(), outer)
}

func (cd *ComponentDef) InjectDependencyContext(ctx context.Context, outer any) error {
	return cd.Deployer().InjectDependency(ctx, outer)
}

// Init 解析实际类型并初始化部署器（单例会在此时创建）
func (cd *ComponentDef) Init() error {
	if _, err := cd.ConcreteType(); err != nil {
		return err
	}
	return cd.Deployer().Init()
}

// Destroy 销毁部署器并释放引用
func (cd *ComponentDef) Destroy() {
	cd.mu.Lock()
	if cd.destroyed {
		cd.mu.Unlock()
		return
	}
	cd.destroyed = true
	d := cd.deployer
	cd.deployer = nil
	cd.mu.Unlock()
	if d != nil {
		d.Destroy()
	}

	// 部署器销毁时仍需要销毁方法，之后再释放定义持有的引用
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.constructors = nil
	cd.args = nil
	cd.props = nil
	cd.propsByName = nil
	cd.initMethods = nil
	cd.destroyMethods = nil
	cd.aspects = nil
	cd.interTypes = nil
	cd.provides = nil
	cd.expression = nil
	cd.value = nil
}

// adoptType 表达式求值后采用结果的类型
func (cd *ComponentDef) adoptType(t reflect.Type) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	if cd.componentType == nil {
		cd.componentType = t
		cd.adoptedType = true
	}
}

// registerAdoptedType 首次成功部署后，把表达式组件按类型补注册一次
func (cd *ComponentDef) registerAdoptedType() {
	cd.mu.Lock()
	adopted := cd.adoptedType
	cd.mu.Unlock()
	if !adopted || cd.container == nil || !cd.typeRegistered.CompareAndSwap(false, true) {
		return
	}
	cd.container.registerByType(cd)
}

// keyTypes 返回该定义可被查找的类型键
func (cd *ComponentDef) keyTypes(catalog []reflect.Type) []reflect.Type {
	t := cd.ComponentType()
	if t == nil || cd.nameOnly {
		return nil
	}
	seen := make(map[reflect.Type]bool)
	var keys []reflect.Type
	add := func(k reflect.Type) {
		if k != nil && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	add(t)
	if t.Kind() == reflect.Ptr {
		add(t.Elem())
	}
	for _, p := range cd.provides {
		add(p)
	}
	for _, it := range catalog {
		if t.Implements(it) {
			add(it)
		}
	}
	return keys
}

// attributeKey 作用域属性表里的键
func (cd *ComponentDef) attributeKey() string {
	if cd.name != "" {
		return cd.name
	}
	return typeString(cd.ComponentType())
}

func (cd *ComponentDef) String() string {
	return describe(cd.ComponentType(), cd.name)
}

// candidate 生成歧义错误中的候选描述
func (cd *ComponentDef) candidate() Candidate {
	c := Candidate{Name: cd.name, Type: cd.ComponentType()}
	if cd.container != nil {
		c.Path = cd.container.Path()
	}
	cd.mu.Lock()
	d := cd.deployer
	cd.mu.Unlock()
	if p, ok := d.(interface{ peek() (any, bool) }); ok {
		if v, ok := p.peek(); ok {
			c.Instance = v
		}
	}
	return c
}

// Weaver 根据声明类型、切面与类型间声明计算实际类型
type Weaver interface {
	Weave(cd *ComponentDef) (reflect.Type, error)
}

// WeaverFunc 把函数适配为 Weaver
type WeaverFunc func(cd *ComponentDef) (reflect.Type, error)

func (f WeaverFunc) Weave(cd *ComponentDef) (reflect.Type, error) { return f(cd) }

type identityWeaver struct{}

func (identityWeaver) Weave(cd *ComponentDef) (reflect.Type, error) { return cd.ComponentType(), nil }

// weave 调用 Weaver 并把 panic 转换为错误
func weave(w Weaver, cd *ComponentDef) (t reflect.Type, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &IllegalConstructorError{Type: cd.componentType, Name: cd.name, Cause: fmt.Errorf("weaver panic: %v", r)}
		}
	}()
	t, err = w.Weave(cd)
	if err != nil {
		return nil, &IllegalConstructorError{Type: cd.componentType, Name: cd.name, Cause: err}
	}
	if t == nil {
		t = cd.ComponentType()
	}
	return t, nil
}
