package query

import (
	"fmt"
	"strings"
)

// Op is a comparison operator supported by the store's query translator.
type Op string

const (
	OpEq        Op = "="
	OpNe        Op = "!="
	OpLt        Op = "<"
	OpLe        Op = "<="
	OpGt        Op = ">"
	OpGe        Op = ">="
	OpEqualFold Op = "equalfold"
)

// Filter is a predicate over document attributes.
//
// The set of implementations is closed: Comparison, Truth, Not, And, Or and Any.
// Anything else cannot be expressed, so unsupported predicate shapes are rejected
// when the filter is built or validated instead of being silently ignored.
type Filter interface {
	fmt.Stringer
	filter()
}

// Comparison compares the attribute at Path against a scalar Value.
type Comparison struct {
	Path  string
	Op    Op
	Value any
}

// Truth tests that the boolean attribute at Path is true.
type Truth struct {
	Path string
}

// Not negates a filter.
type Not struct {
	Filter Filter
}

// And is the conjunction of its filters.
type And struct {
	Filters []Filter
}

// Or is the disjunction of its filters.
type Or struct {
	Filters []Filter
}

// Any matches when at least one element of the sequence at Path satisfies Filter.
// Paths inside Filter are relative to the element; an empty path is the element itself.
type Any struct {
	Path   string
	Filter Filter
}

func (Comparison) filter() {}
func (Truth) filter()      {}
func (Not) filter()        {}
func (And) filter()        {}
func (Or) filter()         {}
func (Any) filter()        {}

// Eq matches documents whose attribute at path equals value.
func Eq(path string, value any) Filter { return Comparison{Path: path, Op: OpEq, Value: value} }

// Ne matches documents whose attribute at path differs from value.
func Ne(path string, value any) Filter { return Comparison{Path: path, Op: OpNe, Value: value} }

// Lt matches documents whose attribute at path is less than value.
func Lt(path string, value any) Filter { return Comparison{Path: path, Op: OpLt, Value: value} }

// Le matches documents whose attribute at path is less than or equal to value.
func Le(path string, value any) Filter { return Comparison{Path: path, Op: OpLe, Value: value} }

// Gt matches documents whose attribute at path is greater than value.
func Gt(path string, value any) Filter { return Comparison{Path: path, Op: OpGt, Value: value} }

// Ge matches documents whose attribute at path is greater than or equal to value.
func Ge(path string, value any) Filter { return Comparison{Path: path, Op: OpGe, Value: value} }

// EqualFold matches string attributes equal to value under Unicode case folding.
func EqualFold(path string, value string) Filter {
	return Comparison{Path: path, Op: OpEqualFold, Value: value}
}

// IsTrue matches documents whose boolean attribute at path is true.
func IsTrue(path string) Filter { return Truth{Path: path} }

// Negate returns the negation of f.
func Negate(f Filter) Filter { return Not{Filter: f} }

// AllOf returns the conjunction of filters. Nil entries are dropped and a
// single remaining filter is returned as is.
func AllOf(filters ...Filter) Filter {
	out := compact(filters)
	if len(out) == 1 {
		return out[0]
	}
	return And{Filters: out}
}

// AnyOf returns the disjunction of filters.
func AnyOf(filters ...Filter) Filter {
	out := compact(filters)
	if len(out) == 1 {
		return out[0]
	}
	return Or{Filters: out}
}

// Contains matches documents where some element of the sequence at path satisfies f.
func Contains(path string, f Filter) Filter { return Any{Path: path, Filter: f} }

func compact(filters []Filter) []Filter {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

func (c Comparison) String() string {
	if c.Op == OpEqualFold {
		return fmt.Sprintf("equalfold(%s, %#v)", c.Path, c.Value)
	}
	return fmt.Sprintf("%s %s %#v", c.Path, c.Op, c.Value)
}

func (t Truth) String() string { return t.Path }

func (n Not) String() string { return "not(" + stringOf(n.Filter) + ")" }

func (a And) String() string { return join("and", a.Filters) }

func (o Or) String() string { return join("or", o.Filters) }

func (a Any) String() string {
	return fmt.Sprintf("any(%s, %s)", a.Path, stringOf(a.Filter))
}

func join(op string, filters []Filter) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = stringOf(f)
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

func stringOf(f Filter) string {
	if f == nil {
		return "<nil>"
	}
	return f.String()
}

// IDEquals reports the identity value when f constrains the reserved "id"
// attribute to a single string, either directly or inside a conjunction.
// Store backends use it to push identity lookups down to their index.
func IDEquals(f Filter) (string, bool) {
	switch v := f.(type) {
	case Comparison:
		if v.Path == "id" && v.Op == OpEq {
			s, ok := v.Value.(string)
			return s, ok
		}
	case And:
		for _, inner := range v.Filters {
			if id, ok := IDEquals(inner); ok {
				return id, true
			}
		}
	}
	return "", false
}
