package di

import (
	"context"
	"fmt"
	"reflect"
)

// Expression 延迟求值的表达式。
//
// vars 由调用方提供，例如初始化方法表达式中的 self。
type Expression interface {
	Evaluate(ctx context.Context, c Container, vars map[string]any) (any, error)
}

// ExpressionFunc 把普通函数适配为 Expression
type ExpressionFunc func(ctx context.Context, c Container, vars map[string]any) (any, error)

func (f ExpressionFunc) Evaluate(ctx context.Context, c Container, vars map[string]any) (any, error) {
	return f(ctx, c, vars)
}

// Ref 返回一个按类型或名称取组件的表达式
func Ref(key any) Expression {
	return ExpressionFunc(func(ctx context.Context, c Container, _ map[string]any) (any, error) {
		return c.GetComponentContext(ctx, key)
	})
}

// valueHolder 三选一：表达式、子组件定义、字面值。求值优先级同此顺序
type valueHolder struct {
	value      any
	hasValue   bool
	child      *ComponentDef
	expression Expression
}

// holderOf 按值的形态选择存放位置
func holderOf(v any) valueHolder {
	switch x := v.(type) {
	case Expression:
		return valueHolder{expression: x}
	case *ComponentDef:
		return valueHolder{child: x}
	default:
		return valueHolder{value: v, hasValue: true}
	}
}

func (h *valueHolder) SetValue(v any) {
	h.value, h.hasValue = v, true
}

func (h *valueHolder) SetExpression(e Expression) { h.expression = e }

func (h *valueHolder) SetChildComponentDef(cd *ComponentDef) { h.child = cd }

func (h *valueHolder) ChildComponentDef() *ComponentDef { return h.child }

func (h *valueHolder) isSet() bool {
	return h.expression != nil || h.child != nil || h.hasValue
}

func (h *valueHolder) resolve(ctx context.Context, c Container, vars map[string]any) (any, error) {
	switch {
	case h.expression != nil:
		return h.expression.Evaluate(ctx, c, vars)
	case h.child != nil:
		return h.child.GetComponentContext(ctx)
	case h.hasValue:
		return h.value, nil
	default:
		return nil, fmt.Errorf("di: value is not set")
	}
}

// bindChild 子组件定义不注册到容器中，但共享宿主容器
func (h *valueHolder) bindChild(c *container) {
	if h.child != nil && h.child.container == nil {
		h.child.setContainer(c)
	}
}

// ArgDef 构造函数或方法的一个实参
type ArgDef struct {
	valueHolder
}

// NewArgDef 创建实参定义，v 可以是字面值、Expression 或 *ComponentDef
func NewArgDef(v any) *ArgDef {
	return &ArgDef{valueHolder: holderOf(v)}
}

// PropertyDef 手动配置的属性
type PropertyDef struct {
	valueHolder
	Name        string
	AccessType  AccessType
	BindingType BindingType
}

// NewPropertyDef 创建属性定义。v 为 nil 时该属性按 BindingType 自动绑定
func NewPropertyDef(name string, v any) *PropertyDef {
	pd := &PropertyDef{Name: name}
	if v != nil {
		pd.valueHolder = holderOf(v)
	}
	return pd
}

// MethodDef 初始化或销毁时调用的方法。
//
// 三种形式：按名称调用组件方法；Func 直接引用函数，其第一个参数是组件本身；
// 或者只给出 Expression。
type MethodDef struct {
	MethodName string
	Func       any
	Args       []*ArgDef
	Expression Expression
}

func (md *MethodDef) String() string {
	switch {
	case md.MethodName != "":
		return md.MethodName
	case md.Func != nil:
		return reflect.TypeOf(md.Func).String()
	default:
		return "<expression>"
	}
}

// AspectDef 切面定义，由 Weaver 解释
type AspectDef struct {
	valueHolder
	Pointcut string
}

// InterTypeDef 类型间声明，由 Weaver 解释
type InterTypeDef struct {
	valueHolder
}

// MetaDef 附加在组件或容器上的元数据
type MetaDef struct {
	valueHolder
	Name string
}

// NewMetaDef 创建元数据定义
func NewMetaDef(name string, v any) *MetaDef {
	return &MetaDef{Name: name, valueHolder: holderOf(v)}
}

// Value 返回元数据的值，表达式或子组件需要求值时使用 Resolve
func (m *MetaDef) Value() any { return m.value }

// Resolve 对元数据求值
func (m *MetaDef) Resolve(ctx context.Context, c Container) (any, error) {
	return m.resolve(ctx, c, nil)
}

// metaDefSupport 容器与组件定义共享的元数据列表
type metaDefSupport struct {
	metas []*MetaDef
}

func (s *metaDefSupport) AddMetaDef(md *MetaDef) { s.metas = append(s.metas, md) }

// MetaDef 返回第一个同名元数据
func (s *metaDefSupport) MetaDef(name string) *MetaDef {
	for _, md := range s.metas {
		if md.Name == name {
			return md
		}
	}
	return nil
}

func (s *metaDefSupport) MetaDefs() []*MetaDef {
	return append([]*MetaDef(nil), s.metas...)
}
