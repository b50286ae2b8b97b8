package bridge

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidationError reports the first schema violation found in a set of
// arguments.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

func violation(field, format string, a ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// Args are validated operation arguments. Integers are always int64, arrays
// are []any of normalized elements.
type Args map[string]any

func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Args) String(name string) (string, bool) {
	s, ok := a[name].(string)
	return s, ok
}

func (a Args) Int(name string) (int64, bool) {
	n, ok := toInt64(a[name])
	return n, ok
}

// Ints returns an integer array argument.
func (a Args) Ints(name string) []int64 {
	items, _ := a[name].([]any)
	out := make([]int64, 0, len(items))
	for _, item := range items {
		if n, ok := toInt64(item); ok {
			out = append(out, n)
		}
	}
	return out
}

// Without copies the arguments minus the named keys.
func (a Args) Without(names ...string) map[string]any {
	out := maps.Clone(map[string]any(a))
	if out == nil {
		out = map[string]any{}
	}
	for _, name := range names {
		delete(out, name)
	}
	return out
}

// Validate checks args against the schema, failing fast on the first
// violation in field declaration order. Absent optional fields with a default
// get the default; fields the schema does not declare are dropped.
func (s Schema) Validate(args map[string]any) (Args, error) {
	out := make(Args, len(s.Fields))
	for _, f := range s.Fields {
		v, present := args[f.Name]
		if !present || v == nil {
			if f.Required {
				return nil, violation(f.Name, "is required")
			}
			if f.Default == nil {
				continue
			}
			v = f.Default
		}
		normalized, err := f.check(f.Name, v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = normalized
	}
	return out, nil
}

func (f Field) check(path string, v any) (any, error) {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, violation(path, "must be a string")
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return nil, violation(path, "must be one of: %s", strings.Join(f.Enum, ", "))
		}
		n := utf8.RuneCountInString(s)
		if f.MinLength != nil && n < *f.MinLength {
			return nil, violation(path, "must be at least %d characters", *f.MinLength)
		}
		if f.MaxLength != nil && n > *f.MaxLength {
			return nil, violation(path, "must be at most %d characters", *f.MaxLength)
		}
		if f.Format == FormatDateTime {
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return nil, violation(path, "must be an RFC 3339 date-time")
			}
		}
		return s, nil

	case TypeInteger:
		n, ok := toInt64(v)
		if !ok {
			return nil, violation(path, "must be an integer")
		}
		if err := f.checkBounds(path, float64(n)); err != nil {
			return nil, err
		}
		return n, nil

	case TypeNumber:
		n, ok := toFloat64(v)
		if !ok {
			return nil, violation(path, "must be a number")
		}
		if err := f.checkBounds(path, n); err != nil {
			return nil, err
		}
		return n, nil

	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, violation(path, "must be a boolean")
		}
		return b, nil

	case TypeArray:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, violation(path, "must be an array")
		}
		if f.MinLength != nil && rv.Len() < *f.MinLength {
			return nil, violation(path, "must contain at least %d items", *f.MinLength)
		}
		if f.MaxLength != nil && rv.Len() > *f.MaxLength {
			return nil, violation(path, "must contain at most %d items", *f.MaxLength)
		}
		item := Field{Type: f.Items}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			elem, err := item.check(fmt.Sprintf("%s[%d]", path, i), rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	}
	return nil, violation(path, "has unsupported type %q", f.Type)
}

func (f Field) checkBounds(path string, n float64) error {
	if f.Minimum != nil && n < *f.Minimum {
		return violation(path, "must be at least %s", formatNumber(*f.Minimum))
	}
	if f.Maximum != nil && n > *f.Maximum {
		return violation(path, "must be at most %s", formatNumber(*f.Maximum))
	}
	return nil
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// 2^53, the largest range in which every integer has an exact float64.
const maxExactFloat = 1 << 53

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float32:
		return toInt64(float64(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) || math.Abs(n) > maxExactFloat {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
