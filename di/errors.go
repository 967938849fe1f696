package di

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// 错误分类，配合 errors.Is 使用
var (
	ErrComponentNotFound        = errors.New("di: component not found")
	ErrTooManyRegistration      = errors.New("di: too many registrations")
	ErrClassMismatch            = errors.New("di: class mismatch")
	ErrIllegalConstructor       = errors.New("di: illegal constructor")
	ErrIllegalMethod            = errors.New("di: illegal method")
	ErrAutoBindingFailure       = errors.New("di: auto binding failure")
	ErrEmptyContext             = errors.New("di: external context is empty")
	ErrUnknownStrategy          = errors.New("di: unknown strategy")
	ErrCyclicReference          = errors.New("di: cyclic reference")
	ErrPropertyNotFound         = errors.New("di: property not found")
	ErrContainerDestroyed       = errors.New("di: container destroyed")
	ErrUnsupportedOperation     = errors.New("di: unsupported operation")
	ErrContainerAlreadyIncluded = errors.New("di: container already included")
	ErrDescendantNotFound       = errors.New("di: descendant container not found")
)

// keyString 返回查找键的可读形式
func keyString(key any) string {
	switch k := key.(type) {
	case reflect.Type:
		if k == nil {
			return "<nil>"
		}
		return k.String()
	case string:
		return fmt.Sprintf("%q", k)
	default:
		return fmt.Sprintf("%v", k)
	}
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "<unknown>"
	}
	return t.String()
}

// ComponentNotFoundError 查找键在容器中不存在
type ComponentNotFoundError struct {
	Key  any
	Path string
}

func (e *ComponentNotFoundError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("di: component %s not found", keyString(e.Key))
	}
	return fmt.Sprintf("di: component %s not found in %s", keyString(e.Key), e.Path)
}

func (e *ComponentNotFoundError) Is(target error) bool { return target == ErrComponentNotFound }

// Candidate 是歧义查找中的一个候选组件
type Candidate struct {
	Name string
	Type reflect.Type
	// Instance 仅当候选为已部署的单例时非空
	Instance any
	Path     string
}

func (c Candidate) String() string {
	s := typeString(c.Type)
	if c.Name != "" {
		s = c.Name + "(" + s + ")"
	}
	if c.Path != "" {
		s += "@" + c.Path
	}
	return s
}

// TooManyRegistrationError 同一个键对应多个组件定义
type TooManyRegistrationError struct {
	Key        any
	Candidates []Candidate
}

func (e *TooManyRegistrationError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, c.String())
	}
	return fmt.Sprintf("di: too many registrations for %s: [%s]", keyString(e.Key), strings.Join(names, ", "))
}

func (e *TooManyRegistrationError) Is(target error) bool { return target == ErrTooManyRegistration }

// ClassMismatchError 实际类型不能赋值给声明类型
type ClassMismatchError struct {
	Expected reflect.Type
	Actual   reflect.Type
}

func (e *ClassMismatchError) Error() string {
	return fmt.Sprintf("di: %s is not assignable to %s", typeString(e.Actual), typeString(e.Expected))
}

func (e *ClassMismatchError) Is(target error) bool { return target == ErrClassMismatch }

// IllegalConstructorError 构造阶段失败，Cause 为原始错误
type IllegalConstructorError struct {
	Type  reflect.Type
	Name  string
	Cause error
}

func (e *IllegalConstructorError) Error() string {
	return fmt.Sprintf("di: cannot construct %s: %v", describe(e.Type, e.Name), e.Cause)
}

func (e *IllegalConstructorError) Is(target error) bool { return target == ErrIllegalConstructor }
func (e *IllegalConstructorError) Unwrap() error        { return e.Cause }

// IllegalMethodError 初始化/销毁方法调用失败
type IllegalMethodError struct {
	Type   reflect.Type
	Method string
	Cause  error
}

func (e *IllegalMethodError) Error() string {
	return fmt.Sprintf("di: method %s of %s failed: %v", e.Method, typeString(e.Type), e.Cause)
}

func (e *IllegalMethodError) Is(target error) bool { return target == ErrIllegalMethod }
func (e *IllegalMethodError) Unwrap() error        { return e.Cause }

// AutoBindingFailureError must 绑定的属性无法解析
type AutoBindingFailureError struct {
	Type     reflect.Type
	Property string
}

func (e *AutoBindingFailureError) Error() string {
	return fmt.Sprintf("di: cannot bind property %s of %s", e.Property, typeString(e.Type))
}

func (e *AutoBindingFailureError) Is(target error) bool { return target == ErrAutoBindingFailure }

// EmptyContextError 需要外部上下文但当前没有
type EmptyContextError struct {
	Component string
}

func (e *EmptyContextError) Error() string {
	return fmt.Sprintf("di: external context is required by %s", e.Component)
}

func (e *EmptyContextError) Is(target error) bool { return target == ErrEmptyContext }

// UnknownStrategyError 策略名未注册
type UnknownStrategyError struct {
	Kind string
	Name string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("di: unknown %s %q", e.Kind, e.Name)
}

func (e *UnknownStrategyError) Is(target error) bool { return target == ErrUnknownStrategy }

// CyclicReferenceError 构造阶段出现循环依赖
type CyclicReferenceError struct {
	Type reflect.Type
	Name string
}

func (e *CyclicReferenceError) Error() string {
	return fmt.Sprintf("di: cyclic reference detected while constructing %s", describe(e.Type, e.Name))
}

func (e *CyclicReferenceError) Is(target error) bool { return target == ErrCyclicReference }

// PropertyNotFoundError 手动属性定义引用了不存在或不可写的属性
type PropertyNotFoundError struct {
	Type     reflect.Type
	Property string
}

func (e *PropertyNotFoundError) Error() string {
	return fmt.Sprintf("di: property %s not found on %s", e.Property, typeString(e.Type))
}

func (e *PropertyNotFoundError) Is(target error) bool { return target == ErrPropertyNotFound }

func describe(t reflect.Type, name string) string {
	if name == "" {
		return typeString(t)
	}
	return fmt.Sprintf("%s(%s)", name, typeString(t))
}
