package di

import (
	"context"
	"fmt"
)

// Register 以类型 T 注册组件并返回其定义
//
// 示例：
//
//	di.Register[*UserService](c, di.WithConstructor(NewUserService))
func Register[T any](c Container, opts ...DefOption) (*ComponentDef, error) {
	cd := Component[T](opts...)
	if err := c.Register(cd); err != nil {
		return nil, err
	}
	return cd, nil
}

// RegisterValue 把已有对象注册为组件
func RegisterValue(c Container, v any, opts ...DefOption) (*ComponentDef, error) {
	cd := ValueComponent(v, opts...)
	if err := c.Register(cd); err != nil {
		return nil, err
	}
	return cd, nil
}

// Resolve 按类型 T 取得组件
func Resolve[T any](c Container) (T, error) {
	return ResolveContext[T](context.Background(), c)
}

func ResolveContext[T any](ctx context.Context, c Container) (T, error) {
	return cast[T](c.GetComponentContext(ctx, TypeOf[T]()))
}

// ResolveNamed 按名称取得组件并断言为 T
func ResolveNamed[T any](c Container, name string) (T, error) {
	return cast[T](c.GetComponent(name))
}

// MustResolve 与 Resolve 相同，失败时 panic
func MustResolve[T any](c Container) T {
	v, err := Resolve[T](c)
	if err != nil {
		panic(err)
	}
	return v
}

// ResolveAll 在容器树中收集所有 T 类型的组件
func ResolveAll[T any](c Container) ([]T, error) {
	values, err := c.FindAllComponents(TypeOf[T]())
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(values))
	for _, v := range values {
		t, err := cast[T](v, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func cast[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T is not %s", ErrClassMismatch, v, TypeOf[T]())
	}
	return t, nil
}
