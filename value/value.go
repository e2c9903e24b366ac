// Package value implements the tagged payload variant carried by every
// signal in the engine. A Value is one of: number, boolean, string,
// ordered map of string to Value, binary blob, or null.
//
// Conversions between kinds are always explicit: accessors return
// (result, ok) pairs and never coerce. Maps preserve insertion order so
// re-serialization is deterministic, but equality ignores order.
package value

import (
	"fmt"
	"math"
)

// Kind is the discriminant of a Value.
type Kind int

const (
	// KindNull is the zero Value kind.
	KindNull Kind = iota
	// KindNumber holds a float64.
	KindNumber
	// KindBool holds a boolean.
	KindBool
	// KindString holds a UTF-8 string.
	KindString
	// KindMap holds an insertion-ordered string-to-Value map.
	KindMap
	// KindBlob holds opaque bytes.
	KindBlob
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	case KindBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Value is a tagged variant. The zero Value is null.
type Value struct {
	kind Kind
	num  float64
	b    bool
	str  string
	m    *Map
	blob []byte
}

// Null returns the null Value.
func Null() Value {
	return Value{}
}

// Number returns a number Value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Bool returns a boolean Value.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// String returns a string Value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Blob returns a binary Value. The slice is not copied.
func Blob(b []byte) Value {
	return Value{kind: KindBlob, blob: b}
}

// FromMap returns a map Value wrapping m. A nil map is treated as empty.
func FromMap(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// Kind returns the discriminant.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether the Value is null.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// AsNumber returns the numeric payload. ok is false for other kinds.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// AsBool returns the boolean payload. ok is false for other kinds.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsString returns the string payload. ok is false for other kinds.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsMap returns the map payload. ok is false for other kinds.
func (v Value) AsMap() (*Map, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// AsBlob returns the binary payload. ok is false for other kinds.
func (v Value) AsBlob() ([]byte, bool) {
	if v.kind != KindBlob {
		return nil, false
	}
	return v.blob, true
}

// Equal reports deep equality. Map comparison ignores key order; NaN is
// not equal to anything, matching float64 semantics.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.str == o.str
	case KindBlob:
		if len(v.blob) != len(o.blob) {
			return false
		}
		for i := range v.blob {
			if v.blob[i] != o.blob[i] {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(o.m)
	default:
		return false
	}
}

// GoString renders the Value for debugging output.
func (v Value) GoString() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindNumber:
		if v.num == math.Trunc(v.num) && !math.IsInf(v.num, 0) {
			return fmt.Sprintf("%d", int64(v.num))
		}
		return fmt.Sprintf("%g", v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.blob))
	case KindMap:
		return fmt.Sprintf("map(%d keys)", v.m.Len())
	default:
		return "unknown"
	}
}

// Map is a string-to-Value map that preserves insertion order.
type Map struct {
	keys  []string
	index map[string]int
	vals  []Value
}

// NewMap creates an empty ordered map.
func NewMap() *Map {
	return &Map{index: make(map[string]int)}
}

// Set inserts or replaces the value for key. Insertion order of new keys
// is preserved; replacing an existing key keeps its original position.
func (m *Map) Set(key string, v Value) *Map {
	if i, ok := m.index[key]; ok {
		m.vals[i] = v
		return m
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, v)
	return m
}

// Get returns the value for key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	i, ok := m.index[key]
	if !ok {
		return Value{}, false
	}
	return m.vals[i], true
}

// Delete removes key. It is a no-op if the key is absent.
func (m *Map) Delete(key string) {
	i, ok := m.index[key]
	if !ok {
		return
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	delete(m.index, key)
	for j := i; j < len(m.keys); j++ {
		m.index[m.keys[j]] = j
	}
}

// Len returns the number of keys.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order. The slice is shared; callers
// must not mutate it.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for i, k := range m.keys {
		if !fn(k, m.vals[i]) {
			return
		}
	}
}

// Equal reports equality with o, ignoring key order.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i, k := range m.keys {
		ov, ok := o.Get(k)
		if !ok || !m.vals[i].Equal(ov) {
			return false
		}
	}
	return true
}
