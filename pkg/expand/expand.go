// Package expand performs {key} placeholder substitution over declaration
// bodies.
//
// Substitution is textual and deterministic: the same body and context
// always yield the same result. It recurses into nested mappings and
// sequences, expanding both mapping keys and values. Doubled braces escape:
// "{{" yields a literal "{" and "}}" a literal "}". A placeholder may carry
// a fallback, "{key|default}", used when the key is absent from the
// context.
package expand

import (
	"fmt"
	"strings"
)

// UndefinedVariableError reports a placeholder whose key is absent from the
// variable context under strict expansion.
type UndefinedVariableError struct {
	Key   string
	Where string
}

func (e *UndefinedVariableError) Error() string {
	if e.Where != "" {
		return fmt.Sprintf("undefined variable %q while expanding %q", e.Key, e.Where)
	}
	return fmt.Sprintf("undefined variable %q", e.Key)
}

// Expander substitutes placeholders against a variable context.
//
// With Lenient set, an undefined key substitutes the empty string instead
// of failing.
type Expander struct {
	Lenient bool
}

// Expand deep-substitutes every string in body against ctx. The where
// argument names the containing declaration for error reporting. The input
// body is not mutated.
func (e *Expander) Expand(body interface{}, ctx map[string]string, where string) (interface{}, error) {
	switch v := body.(type) {
	case string:
		return e.ExpandString(v, ctx, where)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			newKey, err := e.ExpandString(key, ctx, where)
			if err != nil {
				return nil, err
			}
			newValue, err := e.Expand(value, ctx, where)
			if err != nil {
				return nil, err
			}
			out[newKey] = newValue
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			newItem, err := e.Expand(item, ctx, where)
			if err != nil {
				return nil, err
			}
			out = append(out, newItem)
		}
		return out, nil
	default:
		return body, nil
	}
}

// ExpandString substitutes placeholders in a single string.
func (e *Expander) ExpandString(s string, ctx map[string]string, where string) (string, error) {
	if !strings.ContainsAny(s, "{}") {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		switch s[i] {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				// Unterminated brace, kept literally.
				b.WriteString(s[i:])
				return b.String(), nil
			}
			content := s[i+1 : i+end]
			key, fallback, hasFallback := strings.Cut(content, "|")
			if !isKey(key) {
				// Not a placeholder, kept literally.
				b.WriteString(s[i : i+end+1])
				i += end + 1
				continue
			}
			value, ok := ctx[key]
			switch {
			case ok:
				b.WriteString(value)
			case hasFallback:
				b.WriteString(fallback)
			case e.Lenient:
				// Substitute the empty string and continue.
			default:
				return "", &UndefinedVariableError{Key: key, Where: where}
			}
			i += end + 1
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			b.WriteByte('}')
			i++
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String(), nil
}

func isKey(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

// Stringify renders a context value for textual substitution. Non-string
// values come from YAML scalars in variable rows and defaults.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
