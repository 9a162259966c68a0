package query

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Match evaluates a compiled filter against a decoded JSON document.
// Missing attributes never match a comparison, including !=.
func Match(f Filter, doc any) bool {
	switch v := f.(type) {
	case Comparison:
		got, ok := Lookup(doc, v.Path)
		if !ok {
			return false
		}
		return compare(v.Op, got, v.Value)
	case Truth:
		got, ok := Lookup(doc, v.Path)
		b, isBool := got.(bool)
		return ok && isBool && b
	case Not:
		return !Match(v.Filter, doc)
	case And:
		for _, inner := range v.Filters {
			if !Match(inner, doc) {
				return false
			}
		}
		return true
	case Or:
		for _, inner := range v.Filters {
			if Match(inner, doc) {
				return true
			}
		}
		return false
	case Any:
		seq, ok := Lookup(doc, v.Path)
		if !ok {
			return false
		}
		for _, elem := range asSlice(seq) {
			if Match(v.Filter, elem) {
				return true
			}
		}
		return false
	}
	return false
}

// Lookup resolves a dotted attribute path inside a decoded JSON value.
// The empty path resolves to v itself.
func Lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Flatten expands sequence values one level; scalars and objects are returned as a single element.
func Flatten(v any) []any {
	if s := asSlice(v); s != nil {
		return s
	}
	if v == nil {
		return nil
	}
	return []any{v}
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case nil:
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func compare(op Op, got, want any) bool {
	switch op {
	case OpEq:
		return equal(got, want)
	case OpNe:
		return !equal(got, want)
	case OpEqualFold:
		g, ok1 := got.(string)
		w, ok2 := want.(string)
		return ok1 && ok2 && strings.EqualFold(g, w)
	}
	c, ok := order(got, want)
	if !ok {
		return false
	}
	switch op {
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

func order(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	x, ok1 := a.(string)
	y, ok2 := b.(string)
	if !ok1 || !ok2 {
		return 0, false
	}
	return strings.Compare(x, y), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
