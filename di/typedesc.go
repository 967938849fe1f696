package di

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// bindingTag 解析自 `di:"name,must|should|none"` 或 `di:"-"`
type bindingTag struct {
	tagged      bool
	skip        bool
	name        string
	bindingType BindingType
}

func parseBindingTag(tag reflect.StructTag) bindingTag {
	value, ok := tag.Lookup("di")
	if !ok {
		return bindingTag{}
	}
	if strings.TrimSpace(value) == "-" {
		return bindingTag{tagged: true, skip: true}
	}

	// 解析 tag: "name,option"
	parts := strings.Split(value, ",")
	bt := bindingTag{tagged: true, bindingType: BindingMust}
	name := strings.TrimSpace(parts[0])
	if b, ok := bindingOption(name); ok {
		bt.bindingType = b
		name = ""
	}
	bt.name = name
	for _, part := range parts[1:] {
		if b, ok := bindingOption(strings.TrimSpace(part)); ok {
			bt.bindingType = b
		}
	}
	return bt
}

// bindingOption 兼容 "?" 与 "optional" 的写法
func bindingOption(s string) (BindingType, bool) {
	switch s {
	case "must":
		return BindingMust, true
	case "should", "?", "optional":
		return BindingShould, true
	case "none":
		return BindingNone, true
	}
	return bindingUnspecified, false
}

// propertyDesc 描述一个可写属性：导出字段或 SetXxx 方法，二者可同时存在
type propertyDesc struct {
	name  string
	typ   reflect.Type
	field []int
	// setter 指针类型上的方法名
	setter string
	// setterPkg 声明 setter 的包，嵌入结构体提升的方法取被嵌入类型的包
	setterPkg string
	tag       bindingTag
}

func (p *propertyDesc) writable(access AccessType) bool {
	switch access {
	case AccessProperty:
		return p.setter != ""
	case AccessField:
		return p.field != nil
	default:
		return p.setter != "" || p.field != nil
	}
}

// isZero 只能读取字段，纯 setter 属性视为未赋值
func (p *propertyDesc) isZero(target reflect.Value) bool {
	if p.field == nil {
		return true
	}
	f, err := target.Elem().FieldByIndexErr(p.field)
	if err != nil {
		return true
	}
	return f.IsZero()
}

// set 写入属性，target 必须是结构体指针
func (p *propertyDesc) set(target reflect.Value, v reflect.Value, access AccessType) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("set property %s: %v", p.name, r)
		}
	}()
	if p.setter != "" && access != AccessField {
		_, err = call(target.MethodByName(p.setter), []reflect.Value{v})
		return err
	}
	if p.field == nil {
		return fmt.Errorf("property %s is not writable by %s", p.name, access)
	}
	f, ferr := target.Elem().FieldByIndexErr(p.field)
	if ferr != nil {
		return ferr
	}
	f.Set(v)
	return nil
}

// typeDesc 结构体类型的属性描述，按 reflect.Type 缓存
type typeDesc struct {
	typ    reflect.Type
	props  []*propertyDesc
	byName map[string]*propertyDesc
}

func (d *typeDesc) property(name string) *propertyDesc { return d.byName[name] }

var typeDescCache sync.Map

// descOf 返回结构体（或结构体指针）类型的描述，其他类型返回空描述
func descOf(t reflect.Type) *typeDesc {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := typeDescCache.Load(t); ok {
		return cached.(*typeDesc)
	}
	d := buildTypeDesc(t)
	actual, _ := typeDescCache.LoadOrStore(t, d)
	return actual.(*typeDesc)
}

func buildTypeDesc(t reflect.Type) *typeDesc {
	d := &typeDesc{typ: t, byName: make(map[string]*propertyDesc)}
	if t.Kind() != reflect.Struct {
		return d
	}

	lookup := func(name string, typ reflect.Type) *propertyDesc {
		if p, ok := d.byName[name]; ok {
			return p
		}
		p := &propertyDesc{name: name, typ: typ}
		d.byName[name] = p
		d.props = append(d.props, p)
		return p
	}

	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		p := lookup(Decapitalize(f.Name), f.Type)
		p.field = f.Index
		p.tag = parseBindingTag(f.Tag)
	}

	pt := reflect.PointerTo(t)
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		if len(m.Name) <= 3 || !strings.HasPrefix(m.Name, "Set") || m.Type.NumIn() != 2 {
			continue
		}
		if out := m.Type.NumOut(); out > 1 || (out == 1 && m.Type.Out(0) != errorType) {
			continue
		}
		name := Decapitalize(m.Name[3:])
		arg := m.Type.In(1)
		if p, ok := d.byName[name]; ok && p.typ != arg {
			// 字段与 setter 类型不一致时以 setter 为准
			p.field = nil
			p.typ = arg
		}
		p := lookup(name, arg)
		p.setter = m.Name
		p.setterPkg = methodPkg(t, m.Name)
	}
	return d
}

// methodPkg 沿嵌入字段查找声明方法的类型所在包
func methodPkg(t reflect.Type, method string) string {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() != reflect.Struct {
			continue
		}
		if _, ok := reflect.PointerTo(ft).MethodByName(method); ok {
			return methodPkg(ft, method)
		}
	}
	return t.PkgPath()
}
