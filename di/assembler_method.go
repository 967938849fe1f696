package di

import (
	"context"
	"fmt"
	"os"
	"reflect"
)

// methodAssembler 调用初始化或销毁方法
type methodAssembler struct {
	cd *ComponentDef
}

func (a *methodAssembler) invoke(ctx context.Context, component any, defs []*MethodDef) error {
	for _, md := range defs {
		if err := a.invokeOne(ctx, component, md); err != nil {
			return &IllegalMethodError{Type: reflect.TypeOf(component), Method: md.String(), Cause: err}
		}
	}
	return nil
}

func (a *methodAssembler) invokeOne(ctx context.Context, component any, md *MethodDef) error {
	c := a.cd.container
	switch {
	case md.Expression != nil && md.MethodName == "" && md.Func == nil:
		vars := map[string]any{"self": component, "out": os.Stdout, "err": os.Stderr}
		_, err := md.Expression.Evaluate(ctx, c, vars)
		return err

	case md.Func != nil:
		fv := reflect.ValueOf(md.Func)
		ft := fv.Type()
		if ft.Kind() != reflect.Func || ft.NumIn() == 0 {
			return fmt.Errorf("method func must accept the component as its first parameter")
		}
		self, err := c.convert(component, ft.In(0))
		if err != nil {
			return err
		}
		args, err := a.args(ctx, md, paramTypes(ft, 1))
		if err != nil {
			return err
		}
		_, err = call(fv, append([]reflect.Value{self}, args...))
		return err

	default:
		m := reflect.ValueOf(component).MethodByName(md.MethodName)
		if !m.IsValid() {
			return fmt.Errorf("method %s not found", md.MethodName)
		}
		args, err := a.args(ctx, md, paramTypes(m.Type(), 0))
		if err != nil {
			return err
		}
		_, err = call(m, args)
		return err
	}
}

// args 有手动实参时按个数匹配，否则全部形参需可自动绑定
func (a *methodAssembler) args(ctx context.Context, md *MethodDef, types []reflect.Type) ([]reflect.Value, error) {
	c := a.cd.container
	if len(md.Args) > 0 || md.Expression != nil {
		defs := md.Args
		if md.Expression != nil {
			defs = []*ArgDef{{valueHolder: valueHolder{expression: md.Expression}}}
		}
		if len(defs) != len(types) {
			return nil, fmt.Errorf("expected %d arguments, got %d", len(types), len(defs))
		}
		return resolveArgs(ctx, a.cd, defs, types)
	}
	if !autoArgsAvailable(c, types) {
		return nil, fmt.Errorf("parameters cannot be resolved from the container")
	}
	return resolveAutoArgs(ctx, c, types)
}
