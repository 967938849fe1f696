package di

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gocrud/ioc/logging"
)

// Container 是依赖注入容器的接口。
//
// 容器可以包含子容器，子容器中的注册对父容器可见，
// 同一个键在本地注册的定义优先于子容器中的定义。
type Container interface {
	// Register 注册组件定义
	Register(cd *ComponentDef) error

	// GetComponent 按类型（reflect.Type）或名称（string）取得组件
	GetComponent(key any) (any, error)
	GetComponentContext(ctx context.Context, key any) (any, error)

	// FindComponents 返回键可见的全部实例：唯一定义时一个，歧义时每个候选一个
	FindComponents(key any) ([]any, error)
	FindComponentsContext(ctx context.Context, key any) ([]any, error)
	// FindAllComponents 在本容器及全部子孙容器中按本地注册收集实例
	FindAllComponents(key any) ([]any, error)
	FindAllComponentsContext(ctx context.Context, key any) ([]any, error)
	FindLocalComponents(key any) ([]any, error)

	// InjectDependency 把依赖装配到外部对象上。未给出 key 时使用对象自身的类型
	InjectDependency(outer any, key ...any) error
	InjectDependencyContext(ctx context.Context, outer any, key ...any) error

	GetComponentDef(key any) (*ComponentDef, error)
	HasComponentDef(key any) bool
	FindComponentDefs(key any) []*ComponentDef
	FindAllComponentDefs(key any) []*ComponentDef
	FindLocalComponentDefs(key any) []*ComponentDef
	ComponentDefSize() int
	ComponentDefAt(i int) *ComponentDef

	Include(child Container) error
	AddParent(parent Container) error
	ChildSize() int
	ChildAt(i int) Container
	ParentSize() int
	ParentAt(i int) Container
	Root() Container

	Namespace() string
	SetNamespace(ns string)
	Path() string
	SetPath(path string)
	GetDescendant(path string) (Container, error)
	HasDescendant(path string) bool
	RegisterDescendant(descendant Container)

	ExternalContext() ExternalContext
	SetExternalContext(ec ExternalContext)

	AddMetaDef(md *MetaDef)
	MetaDef(name string) *MetaDef
	MetaDefs() []*MetaDef

	// Init 先初始化子容器，再按注册顺序初始化本地定义，只执行一次
	Init() error
	// Destroy 逆序销毁后释放全部引用，之后的操作返回 ErrContainerDestroyed
	Destroy()
}

// container 是具体的实现。
type container struct {
	metaDefSupport

	opts   *containerOptions
	logger logging.Logger
	// mu 只在线程安全模式下非空，实际使用根容器的锁
	mu *sync.Mutex

	defMap  map[any]*componentDefHolder
	defList []*ComponentDef
	selfDef *ComponentDef

	root           *container
	parents        []*container
	children       []*container
	childPositions map[*container]int
	namespace      string
	path           string
	descendants    map[string]*container

	external atomic.Value

	lifeMu    sync.Mutex
	inited    bool
	destroyed atomic.Bool
}

type externalBox struct{ ec ExternalContext }

// New 创建一个新的空容器。
func New(opts ...ContainerOption) Container {
	return newContainer(opts...)
}

func newContainer(opts ...ContainerOption) *container {
	o := defaultContainerOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := &container{
		opts:           o,
		logger:         o.logger.WithCategory("di"),
		defMap:         make(map[any]*componentDefHolder),
		childPositions: make(map[*container]int),
		descendants:    make(map[string]*container),
		path:           o.path,
	}
	if o.threadSafe {
		c.mu = &sync.Mutex{}
	}
	c.root = c
	if o.external != nil {
		c.external.Store(externalBox{ec: o.external})
	}

	c.selfDef = NewComponentDef(containerType, "container")
	c.selfDef.value, c.selfDef.hasValue = Container(c), true
	c.selfDef.container = c
	c.registerMap(containerType, c.selfDef, nil, 0)
	c.registerMap("container", c.selfDef, nil, 0)
	if o.namespace != "" {
		c.setNamespaceLocked(o.namespace)
	}
	return c
}

// lock 线程安全模式下锁住根容器，返回解锁函数
func (c *container) lock() func() {
	mu := c.root.mu
	if mu == nil {
		mu = c.mu
	}
	if mu == nil {
		return func() {}
	}
	mu.Lock()
	return mu.Unlock
}

func (c *container) checkAlive() error {
	if c.destroyed.Load() {
		return fmt.Errorf("%w: %s", ErrContainerDestroyed, c.describe())
	}
	return nil
}

func (c *container) describe() string {
	switch {
	case c.path != "":
		return c.path
	case c.namespace != "":
		return "namespace " + c.namespace
	default:
		return "container"
	}
}

// Register 向容器添加组件定义。
func (c *container) Register(cd *ComponentDef) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	if cd == nil {
		return fmt.Errorf("di: nil component definition")
	}
	if cd.container == nil {
		cd.setContainer(c)
	}
	cd.mu.Lock()
	err := cd.resolveInstanceLocked()
	cd.mu.Unlock()
	if err != nil {
		return err
	}

	unlock := c.lock()
	defer unlock()
	c.registerByTypeLocked(cd)
	c.registerByNameLocked(cd)
	c.defList = append(c.defList, cd)

	c.logger.Debug("component registered",
		logging.F("component", cd.String()),
		logging.F("instance", cd.instanceDef.Name()))
	return nil
}

// registerByType 用于表达式组件在首次求值后补注册
func (c *container) registerByType(cd *ComponentDef) {
	unlock := c.lock()
	defer unlock()
	if c.destroyed.Load() {
		return
	}
	c.registerByTypeLocked(cd)
}

func (c *container) registerByTypeLocked(cd *ComponentDef) {
	for _, t := range cd.keyTypes(c.opts.interfaces) {
		c.registerMap(t, cd, nil, 0)
	}
}

func (c *container) registerByNameLocked(cd *ComponentDef) {
	if cd.name == "" {
		return
	}
	c.registerMap(cd.name, cd, nil, 0)
	if c.namespace != "" && !strings.HasPrefix(cd.name, c.namespace+NamespaceSeparator) {
		c.registerMap(c.namespace+NamespaceSeparator+cd.name, cd, nil, 0)
	}
}

func ownerOf(def *ComponentDef, tm *tooManyRegistration) *container {
	if tm != nil {
		return tm.container
	}
	return def.container
}

// registerMap 按位置解决冲突：浅的替换深的，深的被忽略；
// 同一位置同一所属容器合并为歧义条目，所属容器不同则替换。
// 条目发生变化时继续向父容器传播。
func (c *container) registerMap(key any, def *ComponentDef, tm *tooManyRegistration, position int) {
	h, ok := c.defMap[key]
	switch {
	case !ok:
		h = &componentDefHolder{position: position, def: def, tooMany: tm}
		c.defMap[key] = h
	case position > h.position:
		return
	case h.same(def, tm):
		if position == h.position {
			return
		}
		h.position = position
	case position < h.position:
		h.position, h.def, h.tooMany = position, def, tm
	case ownerOf(def, tm) != h.owner():
		h.def, h.tooMany = def, tm
	default:
		merged := newTooManyRegistration(key, h.owner(), h, def, tm)
		h.def, h.tooMany = nil, merged
	}

	for _, p := range c.parents {
		p.registerMap(key, h.def, h.tooMany, p.childPositions[c])
	}
}

// lookup 取得键对应的条目，"ns:name" 形式的键会按本容器命名空间去掉前缀再找一次
func (c *container) lookup(key any) *componentDefHolder {
	if h, ok := c.defMap[key]; ok {
		return h
	}
	if name, ok := key.(string); ok {
		if ns, rest, ok := splitNamespace(name); ok && ns == c.namespace {
			return c.lookup(rest)
		}
	}
	return nil
}

func (c *container) GetComponentDef(key any) (*ComponentDef, error) {
	if err := c.checkAlive(); err != nil {
		return nil, err
	}
	unlock := c.lock()
	h := c.lookup(key)
	var (
		def  *ComponentDef
		many *tooManyRegistration
	)
	if h != nil {
		def, many = h.def, h.tooMany
	}
	unlock()

	if many != nil {
		if d := c.opts.disambiguator; d != nil {
			if picked := d(key, many.defs); picked != nil {
				return picked, nil
			}
		}
		return nil, many.err()
	}
	if def != nil {
		return def, nil
	}
	return c.acquire(key)
}

// acquire 未命中时交给 Behavior 钩子
func (c *container) acquire(key any) (*ComponentDef, error) {
	if b := c.opts.behavior; b != nil {
		cd, err := b.AcquireComponentDef(c, key)
		if err != nil {
			return nil, err
		}
		if cd != nil {
			if err := c.Register(cd); err != nil {
				return nil, err
			}
			return cd, nil
		}
	}
	return nil, &ComponentNotFoundError{Key: key, Path: c.path}
}

func (c *container) HasComponentDef(key any) bool {
	if c.destroyed.Load() {
		return false
	}
	unlock := c.lock()
	defer unlock()
	return c.lookup(key) != nil
}

func (c *container) FindComponentDefs(key any) []*ComponentDef {
	if c.destroyed.Load() {
		return nil
	}
	unlock := c.lock()
	defer unlock()
	if h := c.lookup(key); h != nil {
		return h.candidates()
	}
	return nil
}

func (c *container) FindLocalComponentDefs(key any) []*ComponentDef {
	if c.destroyed.Load() {
		return nil
	}
	unlock := c.lock()
	defer unlock()
	return c.localDefs(key)
}

func (c *container) localDefs(key any) []*ComponentDef {
	h := c.lookup(key)
	if h == nil || h.position != 0 {
		return nil
	}
	return h.candidates()
}

// FindAllComponentDefs 每个容器只报告本地注册的定义，避免通过传播重复计数
func (c *container) FindAllComponentDefs(key any) []*ComponentDef {
	if c.destroyed.Load() {
		return nil
	}
	unlock := c.lock()
	defer unlock()

	var out []*ComponentDef
	visited := make(map[*container]bool)
	var walk func(cur *container)
	walk = func(cur *container) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		for _, d := range cur.localDefs(key) {
			if !slices.Contains(out, d) {
				out = append(out, d)
			}
		}
		for _, child := range cur.children {
			walk(child)
		}
	}
	walk(c)
	return out
}

func (c *container) ComponentDefSize() int {
	unlock := c.lock()
	defer unlock()
	return len(c.defList)
}

// ComponentDefAt 越界或容器已销毁时返回 nil
func (c *container) ComponentDefAt(i int) *ComponentDef {
	unlock := c.lock()
	defer unlock()
	if i < 0 || i >= len(c.defList) {
		return nil
	}
	return c.defList[i]
}

func (c *container) GetComponent(key any) (any, error) {
	return c.GetComponentContext(context.Background(), key)
}

func (c *container) GetComponentContext(ctx context.Context, key any) (any, error) {
	cd, err := c.GetComponentDef(key)
	if err != nil {
		return nil, err
	}
	return cd.GetComponentContext(ctx)
}

func (c *container) FindComponents(key any) ([]any, error) {
	return c.FindComponentsContext(context.Background(), key)
}

func (c *container) FindComponentsContext(ctx context.Context, key any) ([]any, error) {
	if err := c.checkAlive(); err != nil {
		return nil, err
	}
	return deployAll(ctx, c.FindComponentDefs(key))
}

func (c *container) FindAllComponents(key any) ([]any, error) {
	return c.FindAllComponentsContext(context.Background(), key)
}

func (c *container) FindAllComponentsContext(ctx context.Context, key any) ([]any, error) {
	if err := c.checkAlive(); err != nil {
		return nil, err
	}
	return deployAll(ctx, c.FindAllComponentDefs(key))
}

func (c *container) FindLocalComponents(key any) ([]any, error) {
	if err := c.checkAlive(); err != nil {
		return nil, err
	}
	return deployAll(context.Background(), c.FindLocalComponentDefs(key))
}

func deployAll(ctx context.Context, defs []*ComponentDef) ([]any, error) {
	out := make([]any, 0, len(defs))
	for _, d := range defs {
		v, err := d.GetComponentContext(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *container) InjectDependency(outer any, key ...any) error {
	return c.InjectDependencyContext(context.Background(), outer, key...)
}

func (c *container) InjectDependencyContext(ctx context.Context, outer any, key ...any) error {
	if outer == nil {
		return fmt.Errorf("di: cannot inject into nil")
	}
	var k any = reflect.TypeOf(outer)
	if len(key) > 0 {
		k = key[0]
	}
	cd, err := c.GetComponentDef(k)
	if err != nil {
		return err
	}
	return cd.InjectDependencyContext(ctx, outer)
}

func (c *container) convert(v any, to reflect.Type) (reflect.Value, error) {
	return c.opts.converter(v, to)
}

// Include 把 child 作为子容器，child 的全部注册以其位置传播到本容器及祖先。
func (c *container) Include(child Container) error {
	cc, ok := child.(*container)
	if !ok {
		return fmt.Errorf("di: unsupported container implementation %T", child)
	}
	if err := c.checkAlive(); err != nil {
		return err
	}
	if err := cc.checkAlive(); err != nil {
		return err
	}

	unlock := c.lock()
	defer unlock()
	if cc == c {
		return fmt.Errorf("%w: a container cannot include itself", ErrContainerAlreadyIncluded)
	}
	if _, ok := c.childPositions[cc]; ok {
		return fmt.Errorf("%w: %s", ErrContainerAlreadyIncluded, cc.describe())
	}
	if cc.isAncestorOf(c) {
		return fmt.Errorf("%w: %s is an ancestor of %s", ErrContainerAlreadyIncluded, cc.describe(), c.describe())
	}

	c.children = append(c.children, cc)
	position := len(c.children)
	c.childPositions[cc] = position
	cc.setRoot(c.root)
	cc.parents = append(cc.parents, c)
	for key, h := range cc.defMap {
		c.registerMap(key, h.def, h.tooMany, position)
	}
	c.logger.Debug("container included",
		logging.F("parent", c.describe()),
		logging.F("child", cc.describe()))
	return nil
}

// AddParent 等价于 parent.Include(c)
func (c *container) AddParent(parent Container) error {
	return parent.Include(c)
}

func (c *container) isAncestorOf(other *container) bool {
	for _, p := range other.parents {
		if p == c || c.isAncestorOf(p) {
			return true
		}
	}
	return false
}

// setRoot 级联设置根容器，并把有路径的子孙登记到根容器
func (c *container) setRoot(root *container) {
	c.root = root
	if c.path != "" {
		root.descendants[strings.ToLower(c.path)] = c
	}
	for _, child := range c.children {
		child.setRoot(root)
	}
}

func (c *container) ChildSize() int {
	unlock := c.lock()
	defer unlock()
	return len(c.children)
}

func (c *container) ChildAt(i int) Container {
	unlock := c.lock()
	defer unlock()
	if i < 0 || i >= len(c.children) {
		return nil
	}
	return c.children[i]
}

func (c *container) ParentSize() int {
	unlock := c.lock()
	defer unlock()
	return len(c.parents)
}

func (c *container) ParentAt(i int) Container {
	unlock := c.lock()
	defer unlock()
	if i < 0 || i >= len(c.parents) {
		return nil
	}
	return c.parents[i]
}

func (c *container) Root() Container {
	unlock := c.lock()
	defer unlock()
	return c.root
}

func (c *container) Namespace() string { return c.namespace }

// SetNamespace 以命名空间注册容器自身，并为已有的命名组件补充限定名
func (c *container) SetNamespace(ns string) {
	unlock := c.lock()
	defer unlock()
	c.setNamespaceLocked(ns)
}

func (c *container) setNamespaceLocked(ns string) {
	if c.namespace != "" {
		delete(c.defMap, c.namespace)
	}
	c.namespace = ns
	if ns == "" {
		return
	}
	c.registerMap(ns, c.selfDef, nil, 0)
	for _, cd := range c.defList {
		c.registerByNameLocked(cd)
	}
}

func (c *container) Path() string { return c.path }

func (c *container) SetPath(path string) {
	unlock := c.lock()
	defer unlock()
	c.path = path
	if path != "" && c.root != c {
		c.root.descendants[strings.ToLower(path)] = c
	}
}

func (c *container) GetDescendant(path string) (Container, error) {
	unlock := c.lock()
	defer unlock()
	if d, ok := c.root.descendants[strings.ToLower(path)]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDescendantNotFound, path)
}

func (c *container) HasDescendant(path string) bool {
	unlock := c.lock()
	defer unlock()
	_, ok := c.root.descendants[strings.ToLower(path)]
	return ok
}

func (c *container) RegisterDescendant(descendant Container) {
	d, ok := descendant.(*container)
	if !ok || d.path == "" {
		return
	}
	unlock := c.lock()
	defer unlock()
	c.root.descendants[strings.ToLower(d.path)] = d
}

// ExternalContext 外部上下文保存在根容器上
func (c *container) ExternalContext() ExternalContext {
	box, _ := c.root.external.Load().(externalBox)
	return box.ec
}

func (c *container) SetExternalContext(ec ExternalContext) {
	c.root.external.Store(externalBox{ec: ec})
}

func (c *container) Init() error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.inited {
		return nil
	}
	c.inited = true

	unlock := c.lock()
	children := append([]*container(nil), c.children...)
	defs := append([]*ComponentDef(nil), c.defList...)
	unlock()

	for _, child := range children {
		if err := child.Init(); err != nil {
			return err
		}
	}
	for _, cd := range defs {
		if err := cd.Init(); err != nil {
			return fmt.Errorf("di: init %s: %w", cd, err)
		}
	}
	c.logger.Info("container initialized",
		logging.F("container", c.describe()),
		logging.F("components", len(defs)))
	return nil
}

func (c *container) Destroy() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.destroyed.Load() {
		return
	}

	unlock := c.lock()
	children := append([]*container(nil), c.children...)
	defs := append([]*ComponentDef(nil), c.defList...)
	unlock()

	for i := len(defs) - 1; i >= 0; i-- {
		c.destroyDef(defs[i])
	}
	for i := len(children) - 1; i >= 0; i-- {
		children[i].Destroy()
	}

	unlock = c.lock()
	c.destroyed.Store(true)
	c.defMap = nil
	c.defList = nil
	c.parents = nil
	c.children = nil
	c.childPositions = nil
	c.descendants = nil
	c.metas = nil
	unlock()
	c.external.Store(externalBox{})
	c.logger.Info("container destroyed", logging.F("container", c.describe()))
}

// destroyDef 单个定义的销毁失败不影响其他定义
func (c *container) destroyDef(cd *ComponentDef) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("component destroy panicked",
				logging.F("component", cd.String()),
				logging.F("panic", r))
		}
	}()
	cd.Destroy()
}
