package graphql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

func responseKey(field *ast.Field) string {
	if field.Alias != "" {
		return field.Alias
	}
	return field.Name
}

func argumentValues(field *ast.Field, vars map[string]any) (map[string]any, error) {
	args := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		v, err := arg.Value.Value(vars)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", arg.Name, err)
		}
		args[arg.Name] = v
	}
	return args, nil
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func boolArg(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}

// project encodes v as JSON and keeps only the selected fields. GraphQL
// names are camelCase; the JSON encoding uses snake_case.
func project(v any, set ast.SelectionSet) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return generic, nil
	}
	return projectValue(generic, set)
}

func projectValue(v any, set ast.SelectionSet) (any, error) {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			p, err := projectValue(elem, set)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(set))
		for _, sel := range set {
			field, ok := sel.(*ast.Field)
			if !ok {
				return nil, fmt.Errorf("fragments are not supported")
			}
			if field.Name == "__typename" {
				out[responseKey(field)] = nil
				continue
			}
			// Absent keys are empty values dropped by omitempty.
			child := val[snakeCase(field.Name)]
			if len(field.SelectionSet) > 0 && child != nil {
				p, err := projectValue(child, field.SelectionSet)
				if err != nil {
					return nil, err
				}
				child = p
			}
			out[responseKey(field)] = child
		}
		return out, nil
	default:
		return v, nil
	}
}

// snakeCase converts priceAfterDiscount to price_after_discount and
// quoteId to quote_id.
func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteByte(c + 32)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
