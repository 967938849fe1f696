package di

import (
	"strings"
	"sync"
)

// BindingType 属性绑定的严格程度
type BindingType int

const (
	bindingUnspecified BindingType = iota
	// BindingMust 无法解析时报错
	BindingMust
	// BindingShould 无法解析时静默跳过
	BindingShould
	// BindingNone 不做自动绑定
	BindingNone
)

func (b BindingType) String() string {
	switch b {
	case BindingMust:
		return "must"
	case BindingShould:
		return "should"
	case BindingNone:
		return "none"
	default:
		return "unspecified"
	}
}

// AccessType 属性写入方式
type AccessType int

const (
	// AccessAuto 优先 setter，其次字段
	AccessAuto AccessType = iota
	// AccessProperty 只通过 SetXxx 方法写入
	AccessProperty
	// AccessField 只通过结构体字段写入
	AccessField
)

func (a AccessType) String() string {
	switch a {
	case AccessProperty:
		return "property"
	case AccessField:
		return "field"
	default:
		return "auto"
	}
}

// AutoBinding 组件级别的自动绑定策略
type AutoBinding int

const (
	AutoBindingAuto AutoBinding = iota
	AutoBindingConstructor
	AutoBindingProperty
	AutoBindingNone
	AutoBindingSemiAuto
)

func (a AutoBinding) String() string {
	switch a {
	case AutoBindingConstructor:
		return "constructor"
	case AutoBindingProperty:
		return "property"
	case AutoBindingNone:
		return "none"
	case AutoBindingSemiAuto:
		return "semiauto"
	default:
		return "auto"
	}
}

// autoConstructor 构造函数参数是否自动解析
func (a AutoBinding) autoConstructor() bool {
	return a == AutoBindingAuto || a == AutoBindingConstructor || a == AutoBindingSemiAuto
}

// autoProperty 未标注的属性是否自动绑定
func (a AutoBinding) autoProperty() bool {
	return a == AutoBindingAuto || a == AutoBindingProperty
}

// Registry 通过名称查找各类策略。
//
// 内置策略在 NewRegistry 中注册，调用方可以继续 Register 自定义名称。
type Registry struct {
	mu           sync.RWMutex
	instances    map[string]InstanceDef
	bindingTypes map[string]BindingType
	accessTypes  map[string]AccessType
	autoBindings map[string]AutoBinding
}

// NewRegistry 创建包含内置策略的注册表
func NewRegistry() *Registry {
	r := &Registry{
		instances:    make(map[string]InstanceDef),
		bindingTypes: make(map[string]BindingType),
		accessTypes:  make(map[string]AccessType),
		autoBindings: make(map[string]AutoBinding),
	}
	for _, def := range []InstanceDef{
		InstanceSingleton, InstancePrototype, InstanceApplication,
		InstanceSession, InstanceRequest, InstanceOuter,
	} {
		r.instances[def.Name()] = def
	}
	for _, b := range []BindingType{BindingMust, BindingShould, BindingNone} {
		r.bindingTypes[b.String()] = b
	}
	for _, a := range []AccessType{AccessProperty, AccessField} {
		r.accessTypes[a.String()] = a
	}
	for _, a := range []AutoBinding{
		AutoBindingAuto, AutoBindingConstructor, AutoBindingProperty,
		AutoBindingNone, AutoBindingSemiAuto,
	} {
		r.autoBindings[a.String()] = a
	}
	return r
}

var defaultRegistry = NewRegistry()

// DefaultRegistry 返回进程内共享的注册表
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// RegisterInstanceDef 注册实例策略，同名覆盖
func (r *Registry) RegisterInstanceDef(def InstanceDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[strings.ToLower(def.Name())] = def
}

// InstanceDef 按名称查找实例策略
func (r *Registry) InstanceDef(name string) (InstanceDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.instances[strings.ToLower(name)]; ok {
		return def, nil
	}
	return nil, &UnknownStrategyError{Kind: "instance", Name: name}
}

// RegisterBindingType 为绑定类型注册别名
func (r *Registry) RegisterBindingType(name string, b BindingType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindingTypes[strings.ToLower(name)] = b
}

func (r *Registry) BindingType(name string) (BindingType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.bindingTypes[strings.ToLower(name)]; ok {
		return b, nil
	}
	return bindingUnspecified, &UnknownStrategyError{Kind: "binding type", Name: name}
}

// RegisterAccessType 为访问方式注册别名
func (r *Registry) RegisterAccessType(name string, a AccessType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessTypes[strings.ToLower(name)] = a
}

func (r *Registry) AccessType(name string) (AccessType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.accessTypes[strings.ToLower(name)]; ok {
		return a, nil
	}
	return AccessAuto, &UnknownStrategyError{Kind: "access type", Name: name}
}

// RegisterAutoBinding 为自动绑定策略注册别名
func (r *Registry) RegisterAutoBinding(name string, a AutoBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoBindings[strings.ToLower(name)] = a
}

func (r *Registry) AutoBinding(name string) (AutoBinding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.autoBindings[strings.ToLower(name)]; ok {
		return a, nil
	}
	return AutoBindingAuto, &UnknownStrategyError{Kind: "auto binding", Name: name}
}
