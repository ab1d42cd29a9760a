package aggregate

import (
	"fmt"
	"strings"
)

// Templates are parsed once at startup; rendering a request context is then
// a linear walk over literals and path lookups with no regex work.

// StringTemplate is a pre-parsed placeholder string. Placeholders have the
// form {segment(.segment)*} and resolve against a nested map context; an
// unresolved placeholder renders as the empty string.
type StringTemplate struct {
	parts []templatePart
}

type templatePart struct {
	literal string
	path    []string
}

// ParseString splits s into literal runs and placeholder paths. Braces that
// do not wrap a well-formed placeholder are kept as literals.
func ParseString(s string) StringTemplate {
	var parts []templatePart
	rest := s
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		close := strings.IndexByte(rest[open:], '}')
		if close < 0 {
			break
		}
		close += open
		inner := rest[open+1 : close]
		if !validPlaceholder(inner) {
			if open+1 <= len(rest) {
				parts = append(parts, templatePart{literal: rest[:open+1]})
				rest = rest[open+1:]
				continue
			}
			break
		}
		if open > 0 {
			parts = append(parts, templatePart{literal: rest[:open]})
		}
		parts = append(parts, templatePart{path: strings.Split(inner, ".")})
		rest = rest[close+1:]
	}
	if rest != "" {
		parts = append(parts, templatePart{literal: rest})
	}
	return StringTemplate{parts: parts}
}

// Render substitutes placeholders from ctx.
func (t StringTemplate) Render(ctx map[string]any) string {
	var b strings.Builder
	for _, part := range t.parts {
		if part.path == nil {
			b.WriteString(part.literal)
			continue
		}
		b.WriteString(stringify(lookupPath(ctx, part.path)))
	}
	return b.String()
}

// ValueTemplate is a pre-parsed arbitrary config value: substitution
// descends into maps and slices, and non-string leaves pass through.
type ValueTemplate struct {
	str    *StringTemplate
	object map[string]ValueTemplate
	keys   []string
	list   []ValueTemplate
	leaf   any
}

// ParseValue recursively prepares v for rendering.
func ParseValue(v any) ValueTemplate {
	switch t := v.(type) {
	case string:
		st := ParseString(t)
		return ValueTemplate{str: &st}
	case map[string]any:
		obj := make(map[string]ValueTemplate, len(t))
		keys := make([]string, 0, len(t))
		for k, child := range t {
			obj[k] = ParseValue(child)
			keys = append(keys, k)
		}
		return ValueTemplate{object: obj, keys: keys}
	case []any:
		list := make([]ValueTemplate, len(t))
		for i, child := range t {
			list[i] = ParseValue(child)
		}
		return ValueTemplate{list: list}
	default:
		return ValueTemplate{leaf: v}
	}
}

// Render produces the concrete value for one request context.
func (t ValueTemplate) Render(ctx map[string]any) any {
	switch {
	case t.str != nil:
		return t.str.Render(ctx)
	case t.object != nil:
		out := make(map[string]any, len(t.object))
		for _, k := range t.keys {
			out[k] = t.object[k].Render(ctx)
		}
		return out
	case t.list != nil:
		out := make([]any, len(t.list))
		for i, child := range t.list {
			out[i] = child.Render(ctx)
		}
		return out
	default:
		return t.leaf
	}
}

func validPlaceholder(inner string) bool {
	if inner == "" {
		return false
	}
	for _, r := range inner {
		ok := r == '.' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}

func lookupPath(ctx map[string]any, path []string) any {
	var current any = ctx
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[key]
		if !ok {
			return nil
		}
	}
	return current
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
