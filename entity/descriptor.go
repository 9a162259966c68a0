package entity

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-docrepo/query"
)

// ErrInvalidEntity is returned for types that cannot be stored as documents.
var ErrInvalidEntity = stderrors.New("invalid entity type")

// Field describes one exported field of an entity type.
type Field struct {
	// Name is the Go field name.
	Name string
	// Attribute is the serialized attribute name. It is empty for fields
	// excluded from serialization with `json:"-"`.
	Attribute string
	// Tagged reports whether a json tag supplied the attribute name.
	Tagged bool
	Index  []int
	Type   reflect.Type
	depth  int
}

// Serialized reports whether the field appears in the document.
func (f Field) Serialized() bool {
	return f.Attribute != ""
}

// Descriptor is the field metadata of an entity type. It is computed once per
// type by Describe and shared afterwards.
type Descriptor struct {
	Type   reflect.Type
	fields []Field
	byName map[string]int
	byAttr map[string][]int
}

var descriptors = xsync.NewMapOf[reflect.Type, *Descriptor]()

// Describe returns the descriptor of t, which must be a struct or a pointer to one.
func Describe(t reflect.Type) (*Descriptor, error) {
	if t == nil {
		return nil, invalidEntity("entity type is nil")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, invalidEntity(fmt.Sprintf("entity type %s is not a struct", t))
	}
	if d, ok := descriptors.Load(t); ok {
		return d, nil
	}
	d, _ := descriptors.LoadOrStore(t, build(t))
	return d, nil
}

// DescribeOf returns the descriptor of T.
func DescribeOf[T any]() (*Descriptor, error) {
	return Describe(reflect.TypeFor[T]())
}

func invalidEntity(msg string) error {
	return goerrors.Wrap(ErrInvalidEntity, goerrors.CategoryBadInput, msg).
		WithTextCode("INVALID_ENTITY_TYPE")
}

func build(t reflect.Type) *Descriptor {
	d := &Descriptor{
		Type:   t,
		byName: make(map[string]int),
		byAttr: make(map[string][]int),
	}
	collect(t, nil, 0, map[reflect.Type]bool{t: true}, d)
	return d
}

// collect walks t the way encoding/json does: embedded structs without a
// name tag are promoted and a shallower field shadows a deeper one.
func collect(t reflect.Type, index []int, depth int, visiting map[reflect.Type]bool, d *Descriptor) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		idx := append(append([]int(nil), index...), i)

		tag := sf.Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")

		if sf.Anonymous {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if name == "" && tag != "-" && ft.Kind() == reflect.Struct {
				if !visiting[ft] {
					visiting[ft] = true
					collect(ft, idx, depth+1, visiting, d)
					delete(visiting, ft)
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		f := Field{Name: sf.Name, Index: idx, Type: sf.Type, depth: depth}
		switch {
		case tag == "-":
		case name != "":
			f.Attribute, f.Tagged = name, true
		default:
			f.Attribute = sf.Name
		}
		d.add(f)
	}
}

func (d *Descriptor) add(f Field) {
	if prev, ok := d.byName[f.Name]; ok {
		if d.fields[prev].depth <= f.depth {
			return
		}
		d.fields[prev] = f
		d.reindex()
		return
	}
	d.byName[f.Name] = len(d.fields)
	d.fields = append(d.fields, f)
	if f.Serialized() {
		d.byAttr[f.Attribute] = append(d.byAttr[f.Attribute], len(d.fields)-1)
	}
}

func (d *Descriptor) reindex() {
	d.byAttr = make(map[string][]int)
	for i, f := range d.fields {
		if f.Serialized() {
			d.byAttr[f.Attribute] = append(d.byAttr[f.Attribute], i)
		}
	}
}

// Fields returns every exported field, including ones excluded from serialization.
func (d *Descriptor) Fields() []Field {
	return append([]Field(nil), d.fields...)
}

// Field returns the field with the given Go name.
func (d *Descriptor) Field(name string) (Field, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}

// FieldsByAttribute returns the fields serialized under attr, shallowest first.
func (d *Descriptor) FieldsByAttribute(attr string) []Field {
	var out []Field
	for _, i := range d.byAttr[attr] {
		out = append(out, d.fields[i])
	}
	slices.SortStableFunc(out, func(a, b Field) int { return a.depth - b.depth })
	return out
}

// Attribute implements query.Schema.
func (d *Descriptor) Attribute(name string) (query.Schema, bool) {
	fields := d.FieldsByAttribute(name)
	if len(fields) == 0 {
		return nil, false
	}
	return schemaOf(fields[0].Type), true
}

// Elem implements query.Schema. An entity is never a sequence.
func (d *Descriptor) Elem() (query.Schema, bool) {
	return nil, false
}

var timeType = reflect.TypeFor[time.Time]()

// typeSchema adapts a field type to query.Schema.
type typeSchema struct {
	t reflect.Type
}

// openSchema accepts any attribute path; it backs maps and interfaces.
type openSchema struct{}

func (openSchema) Attribute(string) (query.Schema, bool) { return openSchema{}, true }
func (openSchema) Elem() (query.Schema, bool)            { return openSchema{}, true }

func schemaOf(t reflect.Type) query.Schema {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Interface {
		return openSchema{}
	}
	return typeSchema{t: t}
}

func (s typeSchema) Attribute(name string) (query.Schema, bool) {
	switch s.t.Kind() {
	case reflect.Struct:
		if s.t == timeType {
			return nil, false
		}
		d, err := Describe(s.t)
		if err != nil {
			return nil, false
		}
		return d.Attribute(name)
	case reflect.Map:
		if s.t.Key().Kind() != reflect.String {
			return nil, false
		}
		return schemaOf(s.t.Elem()), true
	}
	return nil, false
}

func (s typeSchema) Elem() (query.Schema, bool) {
	switch s.t.Kind() {
	case reflect.Slice, reflect.Array:
		if s.t.Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
		return schemaOf(s.t.Elem()), true
	}
	return nil, false
}

// Value returns the field of entity, which may be a struct or a pointer to
// one. It reports false when a nil embedded pointer hides the field.
func (f Field) Value(entity any) (reflect.Value, bool) {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	fv, err := v.FieldByIndexErr(f.Index)
	if err != nil {
		return reflect.Value{}, false
	}
	return fv, true
}

// StringOf returns the field of entity as a string, or "" when it is unset or
// not of string kind.
func (f Field) StringOf(entity any) string {
	v, ok := f.Value(entity)
	if !ok || v.Kind() != reflect.String {
		return ""
	}
	return v.String()
}

// SetString assigns s to the field of the struct ptr points to, allocating
// nil embedded pointers on the way.
func (f Field) SetString(ptr any, s string) error {
	v := reflect.ValueOf(ptr)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return invalidEntity(fmt.Sprintf("cannot set %s on non-pointer %T", f.Name, ptr))
	}
	fv := settable(v.Elem(), f.Index)
	if fv.Kind() != reflect.String {
		return invalidEntity(fmt.Sprintf("field %s is not a string", f.Name))
	}
	fv.SetString(s)
	return nil
}

func settable(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}
