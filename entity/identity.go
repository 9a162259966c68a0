package entity

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// IDAttribute is the reserved attribute the store keys documents by.
const IDAttribute = "id"

// Identity resolution failures. Each returned error is a go-errors value that
// unwraps to one of these.
var (
	ErrNoIdentity           = stderrors.New("entity has no identity field")
	ErrIdentityNotAnnotated = stderrors.New("identity field is not serialized as the identity attribute")
	ErrAmbiguousIdentity    = stderrors.New("more than one field serializes as the identity attribute")
	ErrIdentityType         = stderrors.New("identity field must be a string")
)

// nativeIdentityNames are the Go field names the store treats as identities
// by convention.
var nativeIdentityNames = []string{"ID", "Id"}

func identityError(sentinel error, code, msg string) error {
	return goerrors.Wrap(sentinel, goerrors.CategoryBadInput, msg).WithTextCode(code)
}

// ResolveIdentity picks the identity field of d. The first matching rule wins:
//
//  1. selector, a Go field name, must exist and be tagged `json:"id"`
//  2. a field already serialized as "id" is used as is
//  3. a field named ID or Id must be tagged `json:"id"`
//  4. otherwise the type has no identity
//
// The chosen field must be of string kind.
func ResolveIdentity(d *Descriptor, selector string) (Field, error) {
	if d == nil {
		return Field{}, invalidEntity("descriptor is nil")
	}

	var (
		field Field
		err   error
	)
	switch {
	case selector != "":
		field, err = selected(d, selector)
	default:
		field, err = conventional(d)
	}
	if err != nil {
		return Field{}, err
	}

	if deref(field.Type).Kind() != reflect.String {
		return Field{}, identityError(ErrIdentityType, "IDENTITY_TYPE",
			fmt.Sprintf("identity field %s.%s has type %s", d.Type.Name(), field.Name, field.Type))
	}
	if field.Type.Kind() == reflect.Pointer {
		return Field{}, identityError(ErrIdentityType, "IDENTITY_TYPE",
			fmt.Sprintf("identity field %s.%s must not be a pointer", d.Type.Name(), field.Name))
	}
	return field, nil
}

func selected(d *Descriptor, selector string) (Field, error) {
	field, ok := d.Field(selector)
	if !ok {
		return Field{}, identityError(ErrNoIdentity, "IDENTITY_NOT_FOUND",
			fmt.Sprintf("%s has no field named %q", d.Type.Name(), selector))
	}
	if field.Attribute != IDAttribute {
		return Field{}, identityError(ErrIdentityNotAnnotated, "IDENTITY_NOT_ANNOTATED",
			fmt.Sprintf("field %s.%s must be tagged `json:%q`", d.Type.Name(), selector, IDAttribute))
	}
	return field, nil
}

func conventional(d *Descriptor) (Field, error) {
	if fields := d.FieldsByAttribute(IDAttribute); len(fields) > 0 {
		if len(fields) > 1 && fields[0].depth == fields[1].depth {
			names := make([]string, len(fields))
			for i, f := range fields {
				names[i] = f.Name
			}
			return Field{}, identityError(ErrAmbiguousIdentity, "IDENTITY_AMBIGUOUS",
				fmt.Sprintf("%s has several fields serialized as %q: %s", d.Type.Name(), IDAttribute, strings.Join(names, ", ")))
		}
		return fields[0], nil
	}

	for _, name := range nativeIdentityNames {
		if field, ok := d.Field(name); ok {
			return Field{}, identityError(ErrIdentityNotAnnotated, "IDENTITY_NOT_ANNOTATED",
				fmt.Sprintf("field %s.%s must be tagged `json:%q`", d.Type.Name(), field.Name, IDAttribute))
		}
	}

	return Field{}, identityError(ErrNoIdentity, "IDENTITY_NOT_FOUND",
		fmt.Sprintf("%s has no identity field; tag one `json:%q` or name it ID", d.Type.Name(), IDAttribute))
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
