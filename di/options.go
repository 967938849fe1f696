package di

import "reflect"

// DefOption 配置组件定义。
type DefOption func(*ComponentDef)

// WithName 设置组件名称，用于按名称查找与属性名匹配。
func WithName(name string) DefOption {
	return func(cd *ComponentDef) {
		cd.name = name
	}
}

// WithInstance 设置实例策略，接受 InstanceDef 或策略名。
// 策略名在注册时通过容器的 Registry 解析，未知名称使注册失败。
func WithInstance(v any) DefOption {
	return func(cd *ComponentDef) {
		switch x := v.(type) {
		case InstanceDef:
			cd.instanceDef, cd.instanceName = x, ""
		case string:
			cd.instanceName = x
		}
	}
}

// WithPrototype 每次获取都创建新实例。
func WithPrototype() DefOption {
	return WithInstance(InstancePrototype)
}

// WithAutoBinding 设置自动绑定策略。
func WithAutoBinding(a AutoBinding) DefOption {
	return func(cd *ComponentDef) {
		cd.autoBinding = a
	}
}

// WithExternalBinding 从外部上下文（请求参数、请求头、请求属性）补全属性。
func WithExternalBinding() DefOption {
	return func(cd *ComponentDef) {
		cd.externalBinding = true
	}
}

// WithConstructor 注册构造函数，可以多次调用。
// 函数返回组件，可选地再返回一个 error。
func WithConstructor(fns ...any) DefOption {
	return func(cd *ComponentDef) {
		cd.constructors = append(cd.constructors, fns...)
	}
}

// WithExpression 组件实例由表达式求得，结果必须能赋值给声明类型。
func WithExpression(expr Expression) DefOption {
	return func(cd *ComponentDef) {
		cd.expression = expr
	}
}

// WithArg 追加一个构造函数实参。
func WithArg(v any) DefOption {
	return func(cd *ComponentDef) {
		cd.AddArgDef(NewArgDef(v))
	}
}

// WithProperty 设置属性值。v 为 nil 时按 should 自动绑定该属性。
func WithProperty(name string, v any) DefOption {
	return func(cd *ComponentDef) {
		cd.AddPropertyDef(NewPropertyDef(name, v))
	}
}

// WithPropertyDef 直接添加属性定义，可指定访问方式与绑定类型。
func WithPropertyDef(pd *PropertyDef) DefOption {
	return func(cd *ComponentDef) {
		cd.AddPropertyDef(pd)
	}
}

// WithNameOnly 组件只能按名称查找，同类型的多个实例不会互相歧义
func WithNameOnly() DefOption {
	return func(cd *ComponentDef) { cd.nameOnly = true }
}

// WithInitMethod 追加初始化方法。m 可以是方法名、函数或 *MethodDef。
func WithInitMethod(m any, args ...any) DefOption {
	return func(cd *ComponentDef) {
		cd.AddInitMethodDef(methodDefOf(m, args))
	}
}

// WithDestroyMethod 追加销毁方法，形式同 WithInitMethod。
func WithDestroyMethod(m any, args ...any) DefOption {
	return func(cd *ComponentDef) {
		cd.AddDestroyMethodDef(methodDefOf(m, args))
	}
}

// WithAspect 添加切面定义。
func WithAspect(pointcut string, interceptor any) DefOption {
	return func(cd *ComponentDef) {
		cd.AddAspectDef(&AspectDef{Pointcut: pointcut, valueHolder: holderOf(interceptor)})
	}
}

// WithInterType 添加类型间声明。
func WithInterType(v any) DefOption {
	return func(cd *ComponentDef) {
		cd.AddInterTypeDef(&InterTypeDef{valueHolder: holderOf(v)})
	}
}

// WithMeta 添加元数据。
func WithMeta(name string, v any) DefOption {
	return func(cd *ComponentDef) {
		cd.AddMetaDef(NewMetaDef(name, v))
	}
}

// As 额外以接口 I 注册该组件。
func As[I any]() DefOption {
	return WithProvides(TypeOf[I]())
}

// WithProvides 额外以给定类型注册该组件。
func WithProvides(types ...reflect.Type) DefOption {
	return func(cd *ComponentDef) {
		cd.provides = append(cd.provides, types...)
	}
}

func methodDefOf(m any, args []any) *MethodDef {
	var md *MethodDef
	switch x := m.(type) {
	case *MethodDef:
		md = x
	case string:
		md = &MethodDef{MethodName: x}
	case Expression:
		md = &MethodDef{Expression: x}
	default:
		md = &MethodDef{Func: x}
	}
	for _, a := range args {
		md.Args = append(md.Args, NewArgDef(a))
	}
	return md
}
