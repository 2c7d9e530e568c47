package rows

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/grobertson/rosey/pkg/types"
)

// datetimeLayouts are the accepted ISO-8601 input shapes
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var truthyStrings = map[string]bool{
	"true": true, "1": true, "yes": true, "on": true,
}

var falsyStrings = map[string]bool{
	"false": true, "0": true, "no": true, "off": true, "": true,
}

// coerceValue converts an input value to the declared field type.
// A nil value passes through; required-ness is checked elsewhere.
func coerceValue(field *types.SchemaField, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch field.Type {
	case types.FieldString, types.FieldText:
		return stringify(value), nil

	case types.FieldInteger:
		return coerceInteger(field.Name, value)

	case types.FieldFloat:
		return coerceFloat(field.Name, value)

	case types.FieldBoolean:
		return coerceBoolean(field.Name, value)

	case types.FieldDatetime:
		t, err := coerceDatetime(value)
		if err != nil {
			return nil, types.Validationf("field %q: %v", field.Name, err)
		}
		return t.UTC().Format(time.RFC3339), nil
	}

	return nil, types.Validationf("field %q has unknown type %q", field.Name, field.Type)
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; render integers without
		// a trailing .0
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceInteger(name string, value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil // truncate toward zero
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), nil
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i, nil
		}
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, types.Validationf("field %q: cannot convert %v to integer", name, value)
}

func coerceFloat(name string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, nil
		}
	}
	return 0, types.Validationf("field %q: cannot convert %v to float", name, value)
}

func coerceBoolean(name string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case string:
		lower := strings.ToLower(strings.TrimSpace(v))
		if truthyStrings[lower] {
			return true, nil
		}
		if falsyStrings[lower] || lower == "" {
			return false, nil
		}
	}
	return false, types.Validationf("field %q: cannot convert %v to boolean", name, value)
}

func coerceDatetime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as datetime", v)
	}
	return time.Time{}, fmt.Errorf("cannot convert %v to datetime", value)
}

// normalizeDatetimeOut renders a stored datetime column value as an
// ISO-8601 string. SQLite may hold either our RFC3339 writes or the
// server-default "YYYY-MM-DD HH:MM:SS" form.
func normalizeDatetimeOut(raw string) string {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return raw
}
