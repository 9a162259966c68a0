package entity

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// NamingRule derives a collection name from an entity type.
type NamingRule func(t reflect.Type) string

// TypeName names the collection after the Go type, without package path or
// type arguments. It is the default rule.
func TypeName(t reflect.Type) string {
	t = deref(t)
	name := t.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}

// PluralSnakeCase names the collection with the pluralized snake_case type
// name, so PhoneNumber becomes phone_numbers.
func PluralSnakeCase(t reflect.Type) string {
	snake := SnakeCase(TypeName(t))
	if snake == "" {
		return ""
	}
	head, last := "", snake
	if i := strings.LastIndexByte(snake, '_'); i >= 0 {
		head, last = snake[:i+1], snake[i+1:]
	}
	return head + inflection.Plural(last)
}

// Static always returns name.
func Static(name string) NamingRule {
	return func(reflect.Type) string { return name }
}

// SnakeCase converts s to snake_case. Acronyms stay together ("HTTPServer"
// becomes "http_server") and any rune that is not a letter or digit turns
// into a single separator.
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	sep := false
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 && !sep {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			sep = false
		case unicode.IsLower(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			sep = false
		default:
			if b.Len() > 0 && !sep {
				b.WriteByte('_')
				sep = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
