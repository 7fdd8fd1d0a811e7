// Package value implements the typed value algebra shared by the
// expression engine, the fact/rule term model, and canonical serialization.
//
// A Value is a tagged union of the nine scalar/container kinds the core
// recognizes. Equality is structural; two equality flavors are offered:
// Equal (heterogeneous — different tags compare false rather than
// erroring) and EqualStrict (same tag required). Compare implements the
// total order used solely for canonical serialization (§4.2): sets, maps,
// and arrays are ordered element-wise after sorting their entries with
// this same order, so the order relation and the container construction
// are mutually recursive — building a Set sorts with Compare, and Compare
// on two Sets walks the already-sorted slices.
package value

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/certen/biscuit/internal/errs"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindInteger Kind = iota
	KindString
	KindDate
	KindBytes
	KindBool
	KindSet
	KindNull
	KindArray
	KindMap
)

// rank gives the total order's tag precedence: variable < integer < string
// < date < bytes < bool < set < null < array < map. Term variables are not
// representable as a Value (they are resolved before reaching here), so
// rank starts at integer; a separate, higher-level Term type models the
// variable case ahead of any Value in the ordering.
var rank = map[Kind]int{
	KindInteger: 1,
	KindString:  2,
	KindDate:    3,
	KindBytes:   4,
	KindBool:    5,
	KindSet:     6,
	KindNull:    7,
	KindArray:   8,
	KindMap:     9,
}

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindBytes:
		return "bytes"
	case KindBool:
		return "bool"
	case KindSet:
		return "set"
	case KindNull:
		return "null"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// MapKey is a comparable restriction of Value to the two key types the
// spec allows on a Map (integer or string).
type MapKey struct {
	isStr bool
	i     int64
	s     string
}

func IntKey(i int64) MapKey  { return MapKey{i: i} }
func StrKey(s string) MapKey { return MapKey{isStr: true, s: s} }

func (k MapKey) IsString() bool { return k.isStr }
func (k MapKey) Int() int64     { return k.i }
func (k MapKey) Str() string    { return k.s }

func (k MapKey) less(other MapKey) bool {
	if k.isStr != other.isStr {
		// integer keys sort before string keys, matching the scalar order
		// (integer < string) used everywhere else.
		return !k.isStr
	}
	if k.isStr {
		return k.s < other.s
	}
	return k.i < other.i
}

func (k MapKey) toValue() Value {
	if k.isStr {
		return Str(k.s)
	}
	return Int(k.i)
}

// Value is the tagged-union scalar/container value.
type Value struct {
	kind Kind
	i    int64
	s    string
	d    uint64
	b    []byte
	bo   bool
	set  []Value
	arr  []Value
	m    map[MapKey]Value
	mk   []MapKey // insertion-independent, sorted key order for deterministic iteration
}

func Int(i int64) Value           { return Value{kind: KindInteger, i: i} }
func Str(s string) Value          { return Value{kind: KindString, s: s} }
func Date(d uint64) Value         { return Value{kind: KindDate, d: d} }
func Bytes(b []byte) Value        { return Value{kind: KindBytes, b: append([]byte(nil), b...)} }
func Bool(b bool) Value           { return Value{kind: KindBool, bo: b} }
func Null() Value                 { return Value{kind: KindNull} }

// Array constructs an ordered Array value; element order is preserved as given.
func Array(elems []Value) Value {
	return Value{kind: KindArray, arr: append([]Value(nil), elems...)}
}

// NewSet constructs a Set value. Sets are unordered and may not nest other
// sets (CodeSetInSet); duplicate elements (by strict equality) collapse to
// one. The stored representation is sorted by Compare for deterministic
// serialization and iteration.
func NewSet(elems []Value) (Value, error) {
	out := make([]Value, 0, len(elems))
	for _, e := range elems {
		if e.kind == KindSet {
			return Value{}, errs.Validation(errs.CodeSetInSet, "sets cannot contain sets")
		}
		dup := false
		for _, existing := range out {
			if existing.EqualStrict(e) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return Value{kind: KindSet, set: out}, nil
}

// NewMap constructs a Map value from key/value pairs. Duplicate keys are
// rejected (CodeDuplicateMapKey).
func NewMap(keys []MapKey, vals []Value) (Value, error) {
	if len(keys) != len(vals) {
		return Value{}, fmt.Errorf("internal: mismatched key/value count")
	}
	m := make(map[MapKey]Value, len(keys))
	for i, k := range keys {
		if _, exists := m[k]; exists {
			return Value{}, errs.Validation(errs.CodeDuplicateMapKey, "duplicate map key")
		}
		m[k] = vals[i]
	}
	mk := append([]MapKey(nil), keys...)
	sort.Slice(mk, func(i, j int) bool { return mk[i].less(mk[j]) })
	return Value{kind: KindMap, m: m, mk: mk}, nil
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsInt() (int64, bool)    { return v.i, v.kind == KindInteger }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsDate() (uint64, bool)  { return v.d, v.kind == KindDate }
func (v Value) AsBytes() ([]byte, bool) { return v.b, v.kind == KindBytes }
func (v Value) AsBool() (bool, bool)    { return v.bo, v.kind == KindBool }
func (v Value) AsSet() ([]Value, bool)  { return v.set, v.kind == KindSet }
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// MapKeys returns the map's keys in canonical (sorted) order.
func (v Value) MapKeys() []MapKey {
	if v.kind != KindMap {
		return nil
	}
	return v.mk
}

// MapGet looks up a key in a Map value.
func (v Value) MapGet(k MapKey) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	val, ok := v.m[k]
	return val, ok
}

// MapLen returns the number of entries in a Map value.
func (v Value) MapLen() int {
	if v.kind != KindMap {
		return 0
	}
	return len(v.m)
}

// TypeName returns the string tag used by the `type()` unary operator.
func (v Value) TypeName() string { return v.kind.String() }

// EqualStrict requires identical tags; used for set membership/dedup and
// the `===`/`!==` operators.
func (v Value) EqualStrict(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == o.i
	case KindString:
		return v.s == o.s
	case KindDate:
		return v.d == o.d
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	case KindBool:
		return v.bo == o.bo
	case KindNull:
		return true
	case KindSet:
		if len(v.set) != len(o.set) {
			return false
		}
		for i := range v.set {
			if !v.set[i].EqualStrict(o.set[i]) {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].EqualStrict(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.mk) != len(o.mk) {
			return false
		}
		for i, k := range v.mk {
			if k != o.mk[i] {
				return false
			}
			if !v.m[k].EqualStrict(o.m[k]) {
				return false
			}
		}
		return true
	}
	return false
}

// Equal implements heterogeneous equality (`==`): values of different tags
// are never equal, but it never errors regardless of tag.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	return v.EqualStrict(o)
}

// Compare implements the total canonical order from §4.2. Returns <0, 0,
// or >0. Cross-tag comparisons order purely by rank; same-tag comparisons
// compare naturally (bytes: shorter-or-lex; containers: element-wise over
// the already-sorted representation).
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		return rank[v.kind] - rank[o.kind]
	}
	switch v.kind {
	case KindInteger:
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		default:
			return 0
		}
	case KindString:
		return cmpStr(v.s, o.s)
	case KindDate:
		switch {
		case v.d < o.d:
			return -1
		case v.d > o.d:
			return 1
		default:
			return 0
		}
	case KindBytes:
		return cmpBytes(v.b, o.b)
	case KindBool:
		if v.bo == o.bo {
			return 0
		}
		if !v.bo {
			return -1
		}
		return 1
	case KindNull:
		return 0
	case KindSet:
		return cmpValueSlice(v.set, o.set)
	case KindArray:
		return cmpValueSlice(v.arr, o.arr)
	case KindMap:
		if c := len(v.mk) - len(o.mk); c != 0 {
			return c
		}
		for i, k := range v.mk {
			ok := o.mk[i]
			if c := k.toValue().Compare(ok.toValue()); c != 0 {
				return c
			}
			if c := v.m[k].Compare(o.m[ok]); c != 0 {
				return c
			}
		}
		return 0
	}
	return 0
}

func cmpStr(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBytes(a, b []byte) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return bytes.Compare(a, b)
}

func cmpValueSlice(a, b []Value) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	for i := range a {
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// String renders a debug representation; not used for serialization.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return fmt.Sprintf("%d", v.i)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindDate:
		return fmt.Sprintf("date(%d)", v.d)
	case KindBytes:
		return fmt.Sprintf("hex:%x", v.b)
	case KindBool:
		return fmt.Sprintf("%t", v.bo)
	case KindNull:
		return "null"
	case KindSet:
		return fmt.Sprintf("set%v", v.set)
	case KindArray:
		return fmt.Sprintf("%v", v.arr)
	case KindMap:
		return fmt.Sprintf("map(%d entries)", len(v.m))
	default:
		return "?"
	}
}
