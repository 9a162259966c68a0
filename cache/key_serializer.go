package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// KeySeparator separates the segments of a cache key.
const KeySeparator = "::"

type defaultKeySerializer struct {
	namespace string
}

// NewDefaultKeySerializer returns a KeySerializer that renders arguments
// deterministically. Values implementing Keyer render as their CacheKey.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// NewNamespacedKeySerializer returns a default serializer whose keys all
// start with namespace, so that several repositories can share one cache.
func NewNamespacedKeySerializer(namespace string) KeySerializer {
	return &defaultKeySerializer{namespace: namespace}
}

func (s *defaultKeySerializer) SerializeKey(operation string, args ...any) string {
	parts := make([]string, 0, len(args)+2)
	if s.namespace != "" {
		parts = append(parts, s.namespace)
	}
	parts = append(parts, operation)
	for _, arg := range args {
		parts = append(parts, serializeValue(reflect.ValueOf(arg)))
	}
	return strings.Join(parts, KeySeparator)
}

var keyerType = reflect.TypeFor[Keyer]()

func serializeValue(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	if v.Type().Implements(keyerType) && v.CanInterface() {
		if nilable(v) && v.IsNil() {
			return "nil"
		}
		return v.Interface().(Keyer).CacheKey()
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return "nil"
		}
		return serializeValue(v.Elem())
	case reflect.Slice:
		if v.IsNil() {
			return "slice:nil"
		}
		return "slice" + serializeElems(v)
	case reflect.Array:
		return "array" + serializeElems(v)
	case reflect.Map:
		if v.IsNil() {
			return "map:nil"
		}
		return serializeMap(v)
	case reflect.Struct:
		return serializeStruct(v)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Sprintf("%s:%#x", v.Kind(), v.Pointer())
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Interface())
	}
	return jsonFallback(v)
}

func nilable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func serializeElems(v reflect.Value) string {
	parts := make([]string, v.Len())
	for i := range parts {
		parts[i] = serializeValue(v.Index(i))
	}
	return fmt.Sprintf("[%d]:{%s}", len(parts), strings.Join(parts, ","))
}

// serializeMap sorts entries by their rendered key.
func serializeMap(v reflect.Value) string {
	pairs := make([]string, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		pairs = append(pairs, serializeValue(iter.Key())+"="+serializeValue(iter.Value()))
	}
	slices.Sort(pairs)
	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

func serializeStruct(v reflect.Value) string {
	t := v.Type()
	parts := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		parts = append(parts, f.Name+":"+serializeValue(v.Field(i)))
	}
	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

func jsonFallback(v reflect.Value) string {
	if !v.CanInterface() {
		return "opaque:" + v.Type().String()
	}
	data, err := json.Marshal(v.Interface())
	if err != nil {
		return "opaque:" + v.Type().String()
	}
	return "json:" + string(data)
}
