package di

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// propertyAssembler 绑定手动属性、标注属性、自动属性和外部上下文中的值
type propertyAssembler struct {
	cd *ComponentDef
	// auto 未标注的属性按 should 自动绑定
	auto bool
	// tagged 是否读取结构体标签
	tagged bool
	// fallback 是否对受信任包中的 setter 做最后的 should 绑定
	fallback bool
}

func newPropertyAssembler(cd *ComponentDef) *propertyAssembler {
	ab := cd.autoBinding
	return &propertyAssembler{
		cd:       cd,
		auto:     ab.autoProperty(),
		tagged:   ab != AutoBindingNone && ab != AutoBindingConstructor,
		fallback: ab != AutoBindingNone,
	}
}

// assemble 返回绑定后的组件。非指针结构体会在副本上绑定后按值返回
func (a *propertyAssembler) assemble(ctx context.Context, component any) (any, error) {
	if component == nil {
		return nil, nil
	}
	target, unwrap := addressable(component)
	if !target.IsValid() {
		if len(a.cd.props) > 0 {
			return nil, &PropertyNotFoundError{Type: reflect.TypeOf(component), Property: a.cd.props[0].Name}
		}
		return component, nil
	}

	desc := descOf(target.Type())
	// bound 已赋值的属性，tried 已尝试自动绑定但未解析的属性
	bound := make(map[string]bool)
	tried := make(map[string]bool)
	mark := func(p *propertyDesc, ok bool) {
		if ok {
			bound[p.name] = true
		} else {
			tried[p.name] = true
		}
	}

	// 1. 手动属性
	for _, pd := range a.cd.props {
		p := desc.property(pd.Name)
		if p == nil || !p.writable(pd.AccessType) {
			return nil, &PropertyNotFoundError{Type: target.Type(), Property: pd.Name}
		}
		if pd.isSet() {
			v, err := pd.resolve(ctx, a.cd.container, nil)
			if err != nil {
				return nil, fmt.Errorf("di: resolve property %s of %s: %w", pd.Name, a.cd, err)
			}
			if err := a.setValue(target, p, v, pd.AccessType); err != nil {
				return nil, err
			}
			mark(p, true)
			continue
		}
		bt := pd.BindingType
		if bt == bindingUnspecified {
			bt = BindingShould
		}
		ok, err := a.bind(ctx, target, p, "", bt, pd.AccessType)
		if err != nil {
			return nil, err
		}
		mark(p, ok)
	}

	// 2. 标注属性与自动属性
	for _, p := range desc.props {
		if bound[p.name] || tried[p.name] || p.tag.skip {
			continue
		}
		bt := bindingUnspecified
		name := ""
		switch {
		case p.tag.tagged && a.tagged:
			bt, name = p.tag.bindingType, p.tag.name
		case a.auto:
			bt = BindingShould
		}
		if bt == bindingUnspecified || bt == BindingNone {
			continue
		}
		ok, err := a.bind(ctx, target, p, name, bt, AccessAuto)
		if err != nil {
			return nil, err
		}
		mark(p, ok)
	}

	// 3. 外部上下文
	if a.cd.externalBinding {
		if err := a.bindExternal(ctx, target, desc, bound); err != nil {
			return nil, err
		}
	}

	// 4. setter 声明在受信任包中的普通属性
	for _, p := range desc.props {
		if !a.fallback || bound[p.name] || tried[p.name] || !a.plain(p) {
			continue
		}
		if _, err := a.bind(ctx, target, p, "", BindingShould, AccessProperty); err != nil {
			return nil, err
		}
	}

	return unwrap(), nil
}

// plain 没有被标签排除的 setter 属性，且 setter 声明在受信任包中
func (a *propertyAssembler) plain(p *propertyDesc) bool {
	if p.setter == "" || p.tag.skip {
		return false
	}
	if p.tag.tagged && p.tag.bindingType == BindingNone {
		return false
	}
	return a.cd.container.trusted(p.setterPkg)
}

// bind 自动解析一个属性。已有非零值的属性视为已满足
func (a *propertyAssembler) bind(ctx context.Context, target reflect.Value, p *propertyDesc, name string, bt BindingType, access AccessType) (bool, error) {
	if bt == BindingNone || !p.writable(access) {
		return false, nil
	}
	if !p.isZero(target) {
		return true, nil
	}

	var (
		v   any
		ok  bool
		err error
	)
	if name != "" {
		v, ok, err = a.byExplicitName(ctx, name)
	} else {
		v, ok, err = a.resolve(ctx, p)
	}
	if err != nil {
		return false, err
	}
	if !ok {
		if bt == BindingMust {
			return false, &AutoBindingFailureError{Type: target.Type(), Property: p.name}
		}
		return false, nil
	}
	if err := a.setValue(target, p, v, access); err != nil {
		return false, err
	}
	return true, nil
}

func (a *propertyAssembler) byExplicitName(ctx context.Context, name string) (any, bool, error) {
	c := a.cd.container
	if !c.HasComponentDef(name) {
		return nil, false, nil
	}
	v, err := c.GetComponentContext(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// resolve 依次尝试：按类型且名称匹配、按名称且类型兼容、按类型、按元素类型收集切片
func (a *propertyAssembler) resolve(ctx context.Context, p *propertyDesc) (any, bool, error) {
	c := a.cd.container
	t := p.typ

	if isAutoBindable(t) {
		for _, def := range c.FindComponentDefs(t) {
			if simpleNameMatch(def.Name(), p.name) {
				v, err := def.GetComponentContext(ctx)
				return v, err == nil, err
			}
		}
	}

	if def, err := a.byPropertyName(p.name); err != nil {
		return nil, false, err
	} else if def != nil {
		declared := def.ComponentType()
		if declared == nil || declared.AssignableTo(t) || declared.Kind() == reflect.Interface {
			v, err := def.GetComponentContext(ctx)
			if err != nil {
				return nil, false, err
			}
			if v != nil && reflect.TypeOf(v).AssignableTo(t) {
				return v, true, nil
			}
		}
	}

	if isAutoBindable(t) {
		if c.HasComponentDef(t) {
			v, err := c.GetComponentContext(ctx, t)
			return v, err == nil, err
		}
		if componentDefType.AssignableTo(t) {
			return a.cd, true, nil
		}
	}

	if t.Kind() == reflect.Slice && isAutoBindable(t.Elem()) {
		components, err := c.FindAllComponentsContext(ctx, t.Elem())
		if err != nil {
			return nil, false, err
		}
		if len(components) == 0 {
			return nil, false, nil
		}
		out := reflect.MakeSlice(t, 0, len(components))
		for _, v := range components {
			out = reflect.Append(out, reflect.ValueOf(v))
		}
		return out.Interface(), true, nil
	}
	return nil, false, nil
}

// byPropertyName 与属性同名的组件定义，重名且无法消歧时返回错误
func (a *propertyAssembler) byPropertyName(name string) (*ComponentDef, error) {
	c := a.cd.container
	defs := c.FindComponentDefs(name)
	if len(defs) == 0 {
		return nil, nil
	}
	def := defs[0]
	if len(defs) > 1 {
		picked, err := c.GetComponentDef(name)
		if err != nil {
			return nil, err
		}
		def = picked
	}
	if def == a.cd {
		return nil, nil
	}
	return def, nil
}

// bindExternal 从外部上下文读取同名的参数、请求头或请求属性
func (a *propertyAssembler) bindExternal(ctx context.Context, target reflect.Value, desc *typeDesc, bound map[string]bool) error {
	ec := externalContextFor(ctx, a.cd)
	if ec == nil {
		return &EmptyContextError{Component: a.cd.String()}
	}
	for _, p := range desc.props {
		if bound[p.name] || p.tag.skip || !p.writable(AccessAuto) {
			continue
		}
		v, ok := externalValue(ec, p.name, p.typ)
		if !ok {
			continue
		}
		if err := a.setValue(target, p, v, AccessAuto); err != nil {
			return err
		}
		bound[p.name] = true
	}
	return nil
}

// externalValue 切片属性优先读取多值表，其次单值表，最后是请求属性
func externalValue(ec ExternalContext, name string, t reflect.Type) (any, bool) {
	if t.Kind() == reflect.Slice {
		if vs := ec.ParamValues(name); len(vs) > 0 {
			return vs, true
		}
		if vs := ec.HeaderValues(name); len(vs) > 0 {
			return vs, true
		}
	}
	if v, ok := ec.Param(name); ok {
		return v, true
	}
	if v, ok := ec.Header(name); ok {
		return v, true
	}
	if attrs := ec.Request(); attrs != nil {
		return attrs.Get(name)
	}
	return nil, false
}

func (a *propertyAssembler) setValue(target reflect.Value, p *propertyDesc, v any, access AccessType) error {
	rv, err := a.cd.container.convert(v, p.typ)
	if err != nil {
		return fmt.Errorf("di: property %s of %s: %w", p.name, a.cd, err)
	}
	if err := p.set(target, rv, access); err != nil {
		return fmt.Errorf("di: property %s of %s: %w", p.name, a.cd, err)
	}
	return nil
}

// addressable 返回可写的结构体指针，以及还原为原始形态的函数
func addressable(component any) (reflect.Value, func() any) {
	v := reflect.ValueOf(component)
	switch {
	case v.Kind() == reflect.Ptr && !v.IsNil() && v.Elem().Kind() == reflect.Struct:
		return v, func() any { return component }
	case v.Kind() == reflect.Struct:
		ptr := reflect.New(v.Type())
		ptr.Elem().Set(v)
		return ptr, func() any { return ptr.Elem().Interface() }
	default:
		return reflect.Value{}, func() any { return component }
	}
}

// trusted 判断包路径是否以受信任前缀开头
func (c *container) trusted(pkg string) bool {
	if pkg == "" {
		return false
	}
	for _, prefix := range c.opts.trustedPrefixes {
		if strings.HasPrefix(pkg, prefix) {
			return true
		}
	}
	return false
}
