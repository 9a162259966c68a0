package query

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ErrUnsupportedPredicate is the root of every predicate-translation error.
var ErrUnsupportedPredicate = stderrors.New("unsupported predicate")

// Schema describes the attributes a filter may reference.
type Schema interface {
	// Attribute returns the schema of the named attribute.
	Attribute(name string) (Schema, bool)
	// Elem returns the element schema when the schema is a sequence.
	Elem() (Schema, bool)
}

func unsupported(format string, args ...any) error {
	return goerrors.Wrap(ErrUnsupportedPredicate, goerrors.CategoryBadInput, fmt.Sprintf(format, args...)).
		WithTextCode("UNSUPPORTED_PREDICATE")
}

// Compile validates f against schema and returns a copy whose comparison
// values are normalized to the store's JSON scalar forms. A nil schema skips
// attribute checks. Compile never touches the store.
func Compile(f Filter, schema Schema) (Filter, error) {
	if f == nil {
		return nil, unsupported("filter is nil")
	}
	return compile(f, schema, false)
}

func compile(f Filter, schema Schema, inElement bool) (Filter, error) {
	switch v := f.(type) {
	case Comparison:
		if err := checkPath(v.Path, schema, inElement); err != nil {
			return nil, err
		}
		value, err := normalizeValue(v.Value)
		if err != nil {
			return nil, unsupported("attribute %q: %v", v.Path, err)
		}
		switch v.Op {
		case OpEq, OpNe:
		case OpLt, OpLe, OpGt, OpGe:
			switch value.(type) {
			case float64, string:
			default:
				return nil, unsupported("attribute %q: operator %s needs a number or string, got %T", v.Path, v.Op, v.Value)
			}
		case OpEqualFold:
			if _, ok := value.(string); !ok {
				return nil, unsupported("attribute %q: equalfold needs a string, got %T", v.Path, v.Value)
			}
		default:
			return nil, unsupported("attribute %q: unknown operator %q", v.Path, v.Op)
		}
		return Comparison{Path: v.Path, Op: v.Op, Value: value}, nil

	case Truth:
		if err := checkPath(v.Path, schema, inElement); err != nil {
			return nil, err
		}
		return v, nil

	case Not:
		if v.Filter == nil {
			return nil, unsupported("not: operand is nil")
		}
		inner, err := compile(v.Filter, schema, inElement)
		if err != nil {
			return nil, err
		}
		return Not{Filter: inner}, nil

	case And:
		inner, err := compileAll("and", v.Filters, schema, inElement)
		if err != nil {
			return nil, err
		}
		return And{Filters: inner}, nil

	case Or:
		inner, err := compileAll("or", v.Filters, schema, inElement)
		if err != nil {
			return nil, err
		}
		return Or{Filters: inner}, nil

	case Any:
		if v.Path == "" {
			return nil, unsupported("any: sequence path is empty")
		}
		if err := checkSegments(v.Path); err != nil {
			return nil, err
		}
		var elem Schema
		if schema != nil {
			seq, ok := resolve(schema, v.Path)
			if !ok {
				return nil, unsupported("unknown attribute %q", v.Path)
			}
			if elem, ok = seq.Elem(); !ok {
				return nil, unsupported("attribute %q is not a sequence", v.Path)
			}
		}
		if v.Filter == nil {
			return nil, unsupported("any(%s): element filter is nil", v.Path)
		}
		inner, err := compile(v.Filter, elem, true)
		if err != nil {
			return nil, err
		}
		return Any{Path: v.Path, Filter: inner}, nil

	case nil:
		return nil, unsupported("filter is nil")
	}
	return nil, unsupported("filter type %T is not supported", f)
}

func compileAll(op string, filters []Filter, schema Schema, inElement bool) ([]Filter, error) {
	if len(filters) == 0 {
		return nil, unsupported("%s: needs at least one operand", op)
	}
	out := make([]Filter, len(filters))
	for i, f := range filters {
		if f == nil {
			return nil, unsupported("%s: operand %d is nil", op, i)
		}
		c, err := compile(f, schema, inElement)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func checkPath(path string, schema Schema, inElement bool) error {
	if path == "" {
		if inElement {
			return nil
		}
		return unsupported("attribute path is empty")
	}
	if err := checkSegments(path); err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	if _, ok := resolve(schema, path); !ok {
		return unsupported("unknown attribute %q", path)
	}
	return nil
}

func checkSegments(path string) error {
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return unsupported("attribute path %q has an empty segment", path)
		}
		if strings.ContainsAny(seg, "[]\"'") {
			return unsupported("attribute path %q contains an invalid character", path)
		}
	}
	return nil
}

func resolve(schema Schema, path string) (Schema, bool) {
	cur := schema
	for _, seg := range strings.Split(path, ".") {
		next, ok := cur.Attribute(seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// maxExactInt is the largest magnitude a float64 holds without rounding.
// Stored numbers decode as float64, so larger integers could match their
// neighbours and are rejected.
const maxExactInt = 1 << 53

// normalizeValue maps Go scalars onto the forms JSON decoding produces:
// nil, bool, string and float64. time.Time becomes its RFC 3339 string.
func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339Nano), nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
		if t, ok := rv.Interface().(time.Time); ok {
			return t.Format(time.RFC3339Nano), nil
		}
	}
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n > maxExactInt || n < -maxExactInt {
			return nil, fmt.Errorf("integer %d is outside the exact float64 range", n)
		}
		return float64(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		if n > maxExactInt {
			return nil, fmt.Errorf("integer %d is outside the exact float64 range", n)
		}
		return float64(n), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("value of type %T is not a scalar", v)
}
