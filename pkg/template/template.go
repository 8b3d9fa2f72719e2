// Package template renders placeholders inside step configuration against the execution context.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// singlePlaceholder matches a leaf that is nothing but one field reference,
// for example "{{ .user.id }}".
var singlePlaceholder = regexp.MustCompile(`^\{\{-?\s*((?:\.[A-Za-z_][A-Za-z0-9_]*)+)\s*-?\}\}$`)

// Render executes templateStr against data. A string that is exactly one field
// reference resolves to the referenced value with its type intact; any other
// template renders to a string that is returned as is.
func Render(templateStr string, data any) (any, error) {
	if match := singlePlaceholder.FindStringSubmatch(templateStr); match != nil {
		value, resolved, err := lookup(match[1], data)
		if err != nil {
			return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
		}

		if resolved {
			return value, nil
		}
	}

	tmpl, err := template.
		New("placeholder").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"json": func(v any) (string, error) {
				raw, err := json.Marshal(v)

				return string(raw), err
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// lookup follows a dotted field path through nested objects. resolved is false
// when the path crosses something other than an object, leaving the lookup to
// the template engine.
func lookup(path string, data any) (value any, resolved bool, err error) {
	value = data

	for _, key := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		object, ok := value.(map[string]any)
		if !ok {
			return nil, false, nil
		}

		value, ok = object[key]
		if !ok {
			return nil, false, fmt.Errorf("map has no entry for key %q", key)
		}
	}

	return value, true, nil
}

// HasPlaceholder reports whether s contains placeholder syntax.
func HasPlaceholder(s string) bool {
	return strings.Contains(s, "{{")
}

// Substitute returns a copy of value with every string leaf carrying a
// placeholder rendered against data. value itself is not modified.
func Substitute(value any, data any) (any, error) {
	return Walk(value, func(path string, leaf string) (any, error) {
		if !HasPlaceholder(leaf) {
			return leaf, nil
		}

		rendered, err := Render(leaf, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		return rendered, nil
	})
}

// SubstituteMap is Substitute for object-shaped input.
func SubstituteMap(value map[string]any, data any) (map[string]any, error) {
	if value == nil {
		return nil, nil
	}

	out, err := Substitute(value, data)
	if err != nil {
		return nil, err
	}

	return out.(map[string]any), nil
}

// LeafFunc maps a string leaf found at path to its replacement.
type LeafFunc func(path string, leaf string) (any, error)

// Walk rebuilds a JSON-shaped tree (maps, slices, scalars) applying fn to every
// string leaf. Non-string scalars are copied through unchanged.
func Walk(value any, fn LeafFunc) (any, error) {
	return walk("$", value, fn)
}

func walk(path string, value any, fn LeafFunc) (any, error) {
	switch v := value.(type) {
	case string:
		return fn(path, v)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, child := range v {
			replaced, err := walk(path+"."+key, child, fn)
			if err != nil {
				return nil, err
			}

			out[key] = replaced
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, child := range v {
			replaced, err := walk(path+"["+strconv.Itoa(i)+"]", child, fn)
			if err != nil {
				return nil, err
			}

			out[i] = replaced
		}

		return out, nil
	case []string:
		out := make([]any, len(v))

		for i, child := range v {
			replaced, err := fn(path+"["+strconv.Itoa(i)+"]", child)
			if err != nil {
				return nil, err
			}

			out[i] = replaced
		}

		return out, nil
	default:
		return v, nil
	}
}
