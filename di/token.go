package di

import (
	"context"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NamespaceSeparator 分隔命名空间与组件名，例如 "dao:userDao"
const NamespaceSeparator = ":"

// TypeOf 获取类型 T 的 reflect.Type（泛型辅助函数）
//
// 示例：
//
//	def, _ := container.GetComponentDef(di.TypeOf[*UserService]())
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

var (
	errorType        = TypeOf[error]()
	containerType    = TypeOf[Container]()
	componentDefType = TypeOf[*ComponentDef]()
	contextType      = TypeOf[context.Context]()
)

// Decapitalize 把首字母变小写，连续两个大写开头时保持原样
//
//	Logger -> logger
//	DBConn -> DBConn
func Decapitalize(name string) string {
	if name == "" {
		return name
	}
	first, size := utf8.DecodeRuneInString(name)
	if size < len(name) {
		second, _ := utf8.DecodeRuneInString(name[size:])
		if unicode.IsUpper(first) && unicode.IsUpper(second) {
			return name
		}
	}
	return string(unicode.ToLower(first)) + name[size:]
}

// splitNamespace 拆分 "ns:name"，没有命名空间时 ok 为 false
func splitNamespace(key string) (ns, name string, ok bool) {
	i := strings.Index(key, NamespaceSeparator)
	if i <= 0 || i == len(key)-1 {
		return "", key, false
	}
	return key[:i], key[i+len(NamespaceSeparator):], true
}

// simpleNameMatch 判断组件名是否等于属性名，或以 "_属性名" 结尾
func simpleNameMatch(componentName, propertyName string) bool {
	if componentName == "" {
		return false
	}
	if componentName == propertyName {
		return true
	}
	return strings.HasSuffix(componentName, "_"+propertyName)
}

// isAutoBindable 接口（非空接口）或结构体指针可以自动绑定
func isAutoBindable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface:
		return t.NumMethod() > 0
	case reflect.Ptr:
		return t.Elem().Kind() == reflect.Struct
	default:
		return false
	}
}
