// Package payload defines the tagged-sum representation publishers' arbitrary
// structured data is normalized into before it reaches the Node Parser or the
// embedding-text builder.
package payload

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which alternative of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNum
	KindStr
	KindArray
	KindObject
)

// Value is a closed tagged union over the shapes publishers can send:
// objects, arrays, strings, numbers, booleans and null. It replaces ad-hoc
// map[string]any/[]any handling in the matching hot path.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
	keys []string // insertion order, mirrored from obj
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Num(n float64) Value        { return Value{kind: KindNum, n: n} }
func Str(s string) Value         { return Value{kind: KindStr, s: s} }
func Array(items []Value) Value  { return Value{kind: KindArray, arr: items} }

// Object builds an object value, preserving the given key order.
func Object(keys []string, fields map[string]Value) Value {
	return Value{kind: KindObject, obj: fields, keys: keys}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Bool() bool    { return v.b }
func (v Value) Num() float64  { return v.n }
func (v Value) Str() string   { return v.s }
func (v Value) Array() []Value { return v.arr }

// Object returns the field map and a stable key order (insertion order for
// values built via Object, lexicographic otherwise).
func (v Value) Object() (map[string]Value, []string) {
	if v.keys != nil {
		return v.obj, v.keys
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return v.obj, keys
}

// FromAny converts a generic decoded value (as produced by encoding/json or
// goccy/go-yaml unmarshaling into `any`) into the Payload sum.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Num(t)
	case int:
		return Num(float64(t))
	case int64:
		return Num(float64(t))
	case string:
		return Str(t)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromAny(e)
		}
		return Array(items)
	case map[string]any:
		keys := make([]string, 0, len(t))
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			keys = append(keys, k)
			fields[k] = FromAny(e)
		}
		sort.Strings(keys)
		return Object(keys, fields)
	default:
		return Str(fmt.Sprint(t))
	}
}

// ToAny converts back to plain Go values, primarily for JSON re-encoding.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNum:
		return v.n
	case KindStr:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		fields, keys := v.Object()
		out := make(map[string]any, len(fields))
		for _, k := range keys {
			out[k] = fields[k].ToAny()
		}
		return out
	default:
		return nil
	}
}

// Literal renders a scalar value the way embedding-text construction needs:
// the literal string form for primitives, and a recursive rendering for
// nested containers.
func (v Value) Literal() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNum:
		if v.n == float64(int64(v.n)) {
			return strconv.FormatInt(int64(v.n), 10)
		}
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindStr:
		return v.s
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.Literal()
		}
		return strings.Join(parts, ", ")
	case KindObject:
		fields, keys := v.Object()
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, fields[k].Literal()))
		}
		return strings.Join(parts, " | ")
	default:
		return ""
	}
}
