package domain

import (
	"fmt"
	"math"
)

// StringValue renders a scanned column value as text. NULL is "".
func StringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

// FloatValue converts a scanned numeric column value. ok is false for NULL,
// NaN, and non-numeric values.
func FloatValue(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case int:
		f = float64(t)
	case int16:
		f = float64(t)
	case int8:
		f = float64(t)
	case uint64:
		f = float64(t)
	case uint32:
		f = float64(t)
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// IntValue converts a scanned integer column value.
func IntValue(v any) (int, bool) {
	f, ok := FloatValue(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
