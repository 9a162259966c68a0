package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Param is a named parameter referenced from rendered query text.
type Param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Render translates a compiled filter into the store's SQL-like native query
// text. A nil filter selects every document.
func Render(f Filter) (string, []Param) {
	if f == nil {
		return "SELECT * FROM root r", nil
	}
	r := &renderer{}
	where := r.filter(f, "r", 0)
	return "SELECT * FROM root r WHERE " + where, r.params
}

// Key returns a stable textual form of f with parameters inlined, suitable for cache keys.
func Key(f Filter) string {
	text, params := Render(f)
	if len(params) == 0 {
		return text
	}
	data, err := json.Marshal(params)
	if err != nil {
		return text + " " + fmt.Sprint(params)
	}
	return text + " " + string(data)
}

type renderer struct {
	params []Param
}

func (r *renderer) param(v any) string {
	name := fmt.Sprintf("@p%d", len(r.params))
	r.params = append(r.params, Param{Name: name, Value: v})
	return name
}

func (r *renderer) filter(f Filter, alias string, depth int) string {
	switch v := f.(type) {
	case Comparison:
		attr := attribute(alias, v.Path)
		if v.Op == OpEqualFold {
			return fmt.Sprintf("STRINGEQUALS(%s, %s, true)", attr, r.param(v.Value))
		}
		return fmt.Sprintf("%s %s %s", attr, v.Op, r.param(v.Value))
	case Truth:
		return attribute(alias, v.Path) + " = true"
	case Not:
		return "NOT (" + r.filter(v.Filter, alias, depth) + ")"
	case And:
		return r.group(" AND ", v.Filters, alias, depth)
	case Or:
		return r.group(" OR ", v.Filters, alias, depth)
	case Any:
		elem := fmt.Sprintf("x%d", depth+1)
		return fmt.Sprintf("EXISTS(SELECT VALUE %s FROM %s IN %s WHERE %s)",
			elem, elem, attribute(alias, v.Path), r.filter(v.Filter, elem, depth+1))
	}
	return "false"
}

func (r *renderer) group(sep string, filters []Filter, alias string, depth int) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = r.filter(f, alias, depth)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func attribute(alias, path string) string {
	if path == "" {
		return alias
	}
	var b strings.Builder
	b.WriteString(alias)
	for _, seg := range strings.Split(path, ".") {
		if identifier.MatchString(seg) {
			b.WriteString(".")
			b.WriteString(seg)
		} else {
			b.WriteString(`["`)
			b.WriteString(seg)
			b.WriteString(`"]`)
		}
	}
	return b.String()
}
