package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

// Args holds bound, type-checked arguments. Values have the Go type that
// matches their declared ParamType.
type Args map[string]interface{}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Int(name string) int64 {
	n, _ := a[name].(int64)
	return n
}

func (a Args) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a Args) Object(name string) map[string]interface{} {
	m, _ := a[name].(map[string]interface{})
	return m
}

func (a Args) Array(name string) []interface{} {
	s, _ := a[name].([]interface{})
	return s
}

func (a Args) Strings(name string) []string {
	s, _ := a[name].([]string)
	return s
}

func (a Args) Objects(name string) []map[string]interface{} {
	s, _ := a[name].([]map[string]interface{})
	return s
}

// Has reports whether name was bound, either supplied or defaulted
func (a Args) Has(name string) bool {
	v, ok := a[name]
	return ok && v != nil
}

// Bind matches raw params to declarations. Unknown keys and type mismatches
// are invalid_parameter; absent required params are missing_parameter;
// absent optional params take their default. A JSON null counts as absent.
func Bind(params []Param, raw map[string]interface{}) (Args, error) {
	declared := make(map[string]bool, len(params))
	for _, p := range params {
		declared[p.Name] = true
	}

	var unknown []string
	for key := range raw {
		if !declared[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, apperrors.Newf(apperrors.InvalidParameter, "unknown parameter: %s", unknown[0])
	}

	args := make(Args, len(params))
	for _, p := range params {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, apperrors.Newf(apperrors.MissingParameter, "missing required parameter: %s", p.Name)
			}
			if p.Default != nil {
				// defaults are copied so a handler cannot mutate the declaration
				d, _ := coerce(p, cloneValue(p.Default))
				args[p.Name] = d
			}
			continue
		}

		bound, err := coerce(p, v)
		if err != nil {
			return nil, err
		}
		args[p.Name] = bound
	}
	return args, nil
}

func mismatch(p Param) error {
	return apperrors.Newf(apperrors.InvalidParameter, "parameter %s must be of type %s", p.Name, p.Type)
}

func coerce(p Param, v interface{}) (interface{}, error) {
	switch p.Type {
	case TypeAny, "":
		return v, nil
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeInteger:
		if n, ok := toInt(v); ok {
			return n, nil
		}
	case TypeNumber:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case TypeObject:
		if m, ok := v.(map[string]interface{}); ok {
			return m, nil
		}
	case TypeArray:
		if s, ok := v.([]interface{}); ok {
			return s, nil
		}
	case TypeStringArray:
		switch s := v.(type) {
		case []string:
			return s, nil
		case []interface{}:
			out := make([]string, 0, len(s))
			for _, item := range s {
				str, ok := item.(string)
				if !ok {
					return nil, mismatch(p)
				}
				out = append(out, str)
			}
			return out, nil
		}
	case TypeObjectArray:
		switch s := v.(type) {
		case []map[string]interface{}:
			return s, nil
		case []interface{}:
			out := make([]map[string]interface{}, 0, len(s))
			for _, item := range s {
				m, ok := item.(map[string]interface{})
				if !ok {
					return nil, mismatch(p)
				}
				out = append(out, m)
			}
			return out, nil
		}
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", p.Type)
	}
	return nil, mismatch(p)
}

func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		// [-2^63, 2^63) is exactly the range that converts without wrapping
		if n == math.Trunc(n) && n >= -(1<<63) && n < 1<<63 {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// DecodeParams parses a JSON object of params. Integral numbers decode as
// int64 and the rest as float64, so documents keep their integer fields.
// Empty input yields an empty map.
func DecodeParams(data []byte) (map[string]interface{}, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, apperrors.Wrap(apperrors.InvalidRequest, "params must be a JSON object", err)
	}
	if dec.More() {
		return nil, apperrors.New(apperrors.InvalidRequest, "params must be a single JSON object")
	}
	if v == nil {
		return map[string]interface{}{}, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, apperrors.New(apperrors.InvalidRequest, "params must be a JSON object")
	}
	return NormalizeNumbers(m).(map[string]interface{}), nil
}

// NormalizeNumbers replaces json.Number values in v, recursively
func NormalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			t[k] = NormalizeNumbers(item)
		}
		return t
	case []interface{}:
		for i, item := range t {
			t[i] = NormalizeNumbers(item)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
