package di

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Converter 把字面值或外部值转换为目标类型
type Converter func(value any, to reflect.Type) (reflect.Value, error)

// DefaultConverter 可直接赋值时原样返回，数值之间做类型转换，其余交给 mapstructure 弱类型解码
func DefaultConverter(value any, to reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(to), nil
	}
	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(to) {
		return v, nil
	}
	if isNumber(v.Kind()) && isNumber(to.Kind()) {
		return v.Convert(to), nil
	}
	if v.Kind() == to.Kind() && v.CanConvert(to) {
		return v.Convert(to), nil
	}

	out := reflect.New(to)
	if err := mapstructure.WeakDecode(value, out.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("di: cannot convert %s to %s: %w", v.Type(), to, err)
	}
	return out.Elem(), nil
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
