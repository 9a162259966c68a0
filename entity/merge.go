package entity

import (
	"fmt"
	"reflect"
)

// Merge copies every field of src onto the same-named field of dst. dst must
// be a non-nil pointer to a struct; src may be a struct or a pointer to one of
// any type. The field named identityField is skipped unless includeIdentity
// is set. Values are copied when assignable, or converted between kinds of
// the same family, and skipped otherwise.
func Merge(src, dst any, identityField string, includeIdentity bool) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() || dv.Elem().Kind() != reflect.Struct {
		return invalidEntity(fmt.Sprintf("merge destination must be a non-nil pointer to a struct, got %T", dst))
	}

	sv := reflect.ValueOf(src)
	for sv.Kind() == reflect.Pointer {
		if sv.IsNil() {
			return nil
		}
		sv = sv.Elem()
	}
	if sv.Kind() != reflect.Struct {
		return invalidEntity(fmt.Sprintf("merge source must be a struct, got %T", src))
	}

	dd, err := Describe(dv.Type())
	if err != nil {
		return err
	}
	sd, err := Describe(sv.Type())
	if err != nil {
		return err
	}

	for _, df := range dd.fields {
		if df.Name == identityField && !includeIdentity {
			continue
		}
		sf, ok := sd.Field(df.Name)
		if !ok {
			continue
		}
		from, err := sv.FieldByIndexErr(sf.Index)
		if err != nil || !from.CanInterface() {
			continue
		}
		to, ok := settableField(dv.Elem(), df.Index)
		if !ok {
			continue
		}
		assign(to, from)
	}
	return nil
}

// settableField resolves index on v, allocating nil embedded pointers. It
// reports false when the path crosses an unexported embedded pointer.
func settableField(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !v.CanSet() {
					return reflect.Value{}, false
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, v.CanSet()
}

func assign(to, from reflect.Value) {
	switch {
	case from.Type().AssignableTo(to.Type()):
		to.Set(from)
	case sameFamily(from.Type(), to.Type()) && from.Type().ConvertibleTo(to.Type()):
		to.Set(from.Convert(to.Type()))
	}
}

func sameFamily(a, b reflect.Type) bool {
	return family(a.Kind()) != 0 && family(a.Kind()) == family(b.Kind())
}

func family(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return 1
	case reflect.String:
		return 2
	case reflect.Bool:
		return 3
	case reflect.Slice:
		return 4
	case reflect.Map:
		return 5
	case reflect.Struct:
		return 6
	case reflect.Pointer:
		return 7
	}
	return 0
}
