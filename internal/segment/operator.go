package segment

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Apply compares left against the condition value right. Anything that
// cannot be compared under the operator's rules yields false.
func Apply(op Operator, left, right any, vt ValueType, comparisonParameter string) bool {
	switch op {
	case OpEqual:
		eq, ok := valuesEqual(left, right, vt)
		return ok && eq
	case OpNotEqual:
		eq, ok := valuesEqual(left, right, vt)
		return ok && !eq
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return compareNumbers(op, left, right, vt)
	case OpContains:
		return contains(left, right, vt, comparisonParameter)
	default:
		return false
	}
}

// valuesEqual reports equality plus whether both sides were comparable at all.
// An explicit value type coerces both sides leniently; without one the shape
// of right decides and left must already have that shape.
func valuesEqual(left, right any, vt ValueType) (bool, bool) {
	lenient := vt != ""
	if !lenient {
		vt = inferValueType(right)
	}

	switch vt {
	case ValueTypeInt:
		l, lok := toNumber(left, lenient)
		r, rok := toNumber(right, lenient)
		if !lok || !rok {
			return false, false
		}
		return l == r, true
	case ValueTypeText:
		l, lok := toText(left, lenient)
		r, rok := toText(right, lenient)
		if !lok || !rok {
			return false, false
		}
		return l == r, true
	case ValueTypeBool:
		l, lok := toBool(left, lenient)
		r, rok := toBool(right, lenient)
		if !lok || !rok {
			return false, false
		}
		return l == r, true
	case "":
		return reflect.DeepEqual(left, right), true
	default:
		return false, false
	}
}

func inferValueType(v any) ValueType {
	if _, ok := toNumber(v, false); ok {
		return ValueTypeInt
	}
	switch v.(type) {
	case string:
		return ValueTypeText
	case bool:
		return ValueTypeBool
	}
	return ""
}

func compareNumbers(op Operator, left, right any, vt ValueType) bool {
	if vt != "" && vt != ValueTypeInt {
		return false
	}
	lenient := vt == ValueTypeInt
	l, lok := toNumber(left, lenient)
	r, rok := toNumber(right, lenient)
	if !lok || !rok {
		return false
	}
	switch op {
	case OpGreater:
		return l > r
	case OpGreaterEqual:
		return l >= r
	case OpLess:
		return l < r
	case OpLessEqual:
		return l <= r
	}
	return false
}

func contains(left, right any, vt ValueType, param string) bool {
	if param != "" {
		if sub, ok := field(left, param); ok {
			eq, ok := valuesEqual(sub, right, vt)
			return ok && eq
		}
	}

	items := reflect.ValueOf(left)
	if !items.IsValid() || (items.Kind() != reflect.Slice && items.Kind() != reflect.Array) {
		return false
	}
	for i := 0; i < items.Len(); i++ {
		item := items.Index(i).Interface()
		if param != "" {
			sub, ok := field(item, param)
			if !ok {
				continue
			}
			item = sub
		}
		if eq, ok := valuesEqual(item, right, vt); ok && eq {
			return true
		}
	}
	return false
}

// field reads key from a string-keyed map.
func field(v any, key string) (any, bool) {
	m := reflect.ValueOf(v)
	if !m.IsValid() || m.Kind() != reflect.Map || m.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	got := m.MapIndex(reflect.ValueOf(key).Convert(m.Type().Key()))
	if !got.IsValid() {
		return nil, false
	}
	return got.Interface(), true
}

func toNumber(v any, lenient bool) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		if !lenient {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toText(v any, lenient bool) (string, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	if !lenient {
		return "", false
	}
	if b, ok := v.(bool); ok {
		return strconv.FormatBool(b), true
	}
	if f, ok := toNumber(v, false); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

func toBool(v any, lenient bool) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if !lenient {
		return false, false
	}
	if s, ok := v.(string); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		return b, err == nil
	}
	return false, false
}
