// Package value implements the tagged value representation used for
// semi-structured row objects, replacing ad hoc `any`/reflection-based
// JSON handling (see DESIGN NOTES, "Runtime reflection on JSON values").
package value

import (
	"fmt"
	"sort"
)

// Kind tags the variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr
	KindBytes
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "str"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a closed sum type over the JSON-ish domain this engine stores.
// Exactly one of the typed fields is meaningful, selected by Kind.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	arr  []Value
	obj  map[string]Value
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Float(f float64) Value      { return Value{kind: KindFloat, f: f} }
func Str(s string) Value         { return Value{kind: KindStr, s: s} }
func Bytes(b []byte) Value       { return Value{kind: KindBytes, by: append([]byte(nil), b...)} }
func Array(vs []Value) Value     { return Value{kind: KindArray, arr: vs} }
func Object(m map[string]Value) Value {
	return Value{kind: KindObject, obj: m}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload; ok is false if Kind != KindBool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer payload, widening a Float if needed.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	default:
		return 0, false
	}
}

// AsFloat returns the float payload, widening an Int if needed.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

func (v Value) AsStr() (string, bool) { return v.s, v.kind == KindStr }
func (v Value) AsBytes() ([]byte, bool) { return v.by, v.kind == KindBytes }
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Get looks up a field on an Object value; returns Null, false otherwise.
func (v Value) Get(field string) (Value, bool) {
	if v.kind != KindObject {
		return Null(), false
	}
	val, ok := v.obj[field]
	return val, ok
}

// Compare orders two values for ORDER BY / range-scan bound comparisons.
// Cross-kind comparisons order by Kind so results are at least stable.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case KindInt:
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		default:
			return 0
		}
	case KindFloat:
		switch {
		case a.f < b.f:
			return -1
		case a.f > b.f:
			return 1
		default:
			return 0
		}
	case KindStr:
		if a.s < b.s {
			return -1
		} else if a.s > b.s {
			return 1
		}
		return 0
	case KindBytes:
		n := len(a.by)
		if len(b.by) < n {
			n = len(b.by)
		}
		for i := 0; i < n; i++ {
			if a.by[i] != b.by[i] {
				if a.by[i] < b.by[i] {
					return -1
				}
				return 1
			}
		}
		return len(a.by) - len(b.by)
	case KindArray:
		n := len(a.arr)
		if len(b.arr) < n {
			n = len(b.arr)
		}
		for i := 0; i < n; i++ {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return len(a.arr) - len(b.arr)
	case KindObject:
		// Objects compare by sorted key/value pairs; used only for
		// deterministic tie-breaking (e.g. fulltext relevance ties).
		ak := sortedKeys(a.obj)
		bk := sortedKeys(b.obj)
		n := len(ak)
		if len(bk) < n {
			n = len(bk)
		}
		for i := 0; i < n; i++ {
			if ak[i] != bk[i] {
				if ak[i] < bk[i] {
					return -1
				}
				return 1
			}
			if c := Compare(a.obj[ak[i]], b.obj[bk[i]]); c != 0 {
				return c
			}
		}
		return len(ak) - len(bk)
	default:
		return 0
	}
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders a human-readable form, used in EXPLAIN output and logs.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindStr:
		return v.s
	case KindBytes:
		return fmt.Sprintf("0x%x", v.by)
	case KindArray:
		return fmt.Sprintf("%v", v.arr)
	case KindObject:
		return fmt.Sprintf("%v", v.obj)
	default:
		return "<invalid>"
	}
}
