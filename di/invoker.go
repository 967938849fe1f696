package di

import (
	"context"
	"fmt"
	"reflect"
)

// call 反射调用函数。
// 最后一个返回值实现 error 且非 nil 时作为错误返回，panic 转换为错误。
func call(fn reflect.Value, args []reflect.Value) (results []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic: %w", e)
				return
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	results = fn.Call(args)
	if n := len(results); n > 0 {
		last := results[n-1]
		if last.Type().Implements(errorType) {
			if !last.IsNil() {
				return nil, last.Interface().(error)
			}
			results = results[:n-1]
		}
	}
	return results, nil
}

// callConstructor 调用构造函数并检查返回的实例
func callConstructor(fn reflect.Value, args []reflect.Value) (any, error) {
	results, err := call(fn, args)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("constructor returned no values")
	}

	// 检查 nil
	first := results[0]
	switch first.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan:
		if first.IsNil() {
			return nil, fmt.Errorf("constructor returned nil instance")
		}
	}
	return first.Interface(), nil
}

// resolveArgs 求值手动实参并转换为形参类型
func resolveArgs(ctx context.Context, cd *ComponentDef, defs []*ArgDef, types []reflect.Type) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(defs))
	for i, def := range defs {
		v, err := def.resolve(ctx, cd.container, nil)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		rv, err := cd.container.convert(v, types[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = rv
	}
	return args, nil
}

// autoArgsAvailable 所有形参都可自动绑定且容器中存在时返回 true
func autoArgsAvailable(c *container, types []reflect.Type) bool {
	for _, t := range types {
		if t == contextType {
			continue
		}
		if !isAutoBindable(t) || !c.HasComponentDef(t) {
			return false
		}
	}
	return true
}

// resolveAutoArgs 按类型从容器中取得全部形参
func resolveAutoArgs(ctx context.Context, c *container, types []reflect.Type) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(types))
	for i, t := range types {
		if t == contextType {
			args[i] = reflect.ValueOf(&ctx).Elem()
			continue
		}
		v, err := c.GetComponentContext(ctx, t)
		if err != nil {
			return nil, err
		}
		rv, err := c.convert(v, t)
		if err != nil {
			return nil, err
		}
		args[i] = rv
	}
	return args, nil
}

func paramTypes(ft reflect.Type, skip int) []reflect.Type {
	types := make([]reflect.Type, 0, ft.NumIn()-skip)
	for i := skip; i < ft.NumIn(); i++ {
		types = append(types, ft.In(i))
	}
	return types
}
