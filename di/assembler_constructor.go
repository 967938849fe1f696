package di

import (
	"context"
	"fmt"
	"reflect"
)

// constructorAssembler 负责创建组件实例。
//
// 优先级：表达式、已有值、手动实参、自动解析的构造函数、无参构造或零值分配。
type constructorAssembler struct {
	cd   *ComponentDef
	auto bool
}

func newConstructorAssembler(cd *ComponentDef) *constructorAssembler {
	return &constructorAssembler{cd: cd, auto: cd.autoBinding.autoConstructor()}
}

func (a *constructorAssembler) assemble(ctx context.Context) (any, error) {
	cd := a.cd
	switch {
	case cd.expression != nil:
		return a.assembleExpression(ctx)
	case cd.hasValue:
		return cd.value, nil
	case len(cd.args) > 0:
		return a.assembleManual(ctx)
	case a.auto:
		return a.assembleAuto(ctx)
	default:
		return a.assembleDefault()
	}
}

func (a *constructorAssembler) fail(err error) error {
	return &IllegalConstructorError{Type: a.cd.ComponentType(), Name: a.cd.name, Cause: err}
}

func (a *constructorAssembler) assembleExpression(ctx context.Context) (any, error) {
	cd := a.cd
	v, err := cd.expression.Evaluate(ctx, cd.container, nil)
	if err != nil {
		return nil, a.fail(err)
	}
	if v == nil {
		return nil, a.fail(fmt.Errorf("expression returned nil"))
	}
	actual := reflect.TypeOf(v)
	declared := cd.ComponentType()
	if declared == nil {
		cd.adoptType(actual)
		return v, nil
	}
	if !actual.AssignableTo(declared) {
		return nil, &ClassMismatchError{Expected: declared, Actual: actual}
	}
	return v, nil
}

func (a *constructorAssembler) assembleManual(ctx context.Context) (any, error) {
	cd := a.cd
	for _, fn := range cd.constructors {
		fv := reflect.ValueOf(fn)
		ft := fv.Type()
		if ft.Kind() != reflect.Func || ft.IsVariadic() || ft.NumIn() != len(cd.args) {
			continue
		}
		args, err := resolveArgs(ctx, cd, cd.args, paramTypes(ft, 0))
		if err != nil {
			return nil, a.fail(err)
		}
		return a.invoke(fv, args)
	}
	return nil, a.fail(fmt.Errorf("no constructor accepts %d arguments", len(cd.args)))
}

// assembleAuto 选择参数最多且全部可由容器满足的构造函数，参数个数相同时取先注册的
func (a *constructorAssembler) assembleAuto(ctx context.Context) (any, error) {
	cd := a.cd
	var (
		chosen reflect.Value
		best   = -1
	)
	for _, fn := range cd.constructors {
		fv := reflect.ValueOf(fn)
		ft := fv.Type()
		if ft.Kind() != reflect.Func || ft.IsVariadic() {
			continue
		}
		if n := ft.NumIn(); n > best && autoArgsAvailable(cd.container, paramTypes(ft, 0)) {
			chosen, best = fv, n
		}
	}
	if !chosen.IsValid() {
		return a.assembleDefault()
	}
	args, err := resolveAutoArgs(ctx, cd.container, paramTypes(chosen.Type(), 0))
	if err != nil {
		return nil, a.fail(err)
	}
	return a.invoke(chosen, args)
}

// assembleDefault 调用无参构造函数，没有时按实际类型分配零值
func (a *constructorAssembler) assembleDefault() (any, error) {
	cd := a.cd
	for _, fn := range cd.constructors {
		fv := reflect.ValueOf(fn)
		if fv.Kind() == reflect.Func && fv.Type().NumIn() == 0 {
			return a.invoke(fv, nil)
		}
	}
	if len(cd.constructors) > 0 {
		return nil, a.fail(fmt.Errorf("no constructor can be satisfied"))
	}

	t, err := cd.ConcreteType()
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, a.fail(fmt.Errorf("component type is unknown"))
	}
	switch t.Kind() {
	case reflect.Ptr:
		return reflect.New(t.Elem()).Interface(), nil
	case reflect.Interface:
		return nil, a.fail(fmt.Errorf("cannot instantiate interface %s without a constructor", t))
	case reflect.Map:
		return reflect.MakeMap(t).Interface(), nil
	case reflect.Slice:
		return reflect.MakeSlice(t, 0, 0).Interface(), nil
	default:
		return reflect.New(t).Elem().Interface(), nil
	}
}

func (a *constructorAssembler) invoke(fn reflect.Value, args []reflect.Value) (any, error) {
	v, err := callConstructor(fn, args)
	if err != nil {
		return nil, a.fail(err)
	}
	if err := checkAssignable(a.cd, v); err != nil {
		return nil, err
	}
	return v, nil
}

// checkAssignable 实例必须能赋值给声明类型
func checkAssignable(cd *ComponentDef, v any) error {
	declared := cd.ComponentType()
	if declared == nil || v == nil {
		return nil
	}
	if actual := reflect.TypeOf(v); !actual.AssignableTo(declared) {
		return &ClassMismatchError{Expected: declared, Actual: actual}
	}
	return nil
}
