// Package value implements the dynamic value carrier that recipes and the
// microdata codec are built on (spec Design Notes: "Dynamic value carrier").
//
// Grounded on scm/scmer.go's tagged-union Scmer from the teacher repo: a
// closed set of kinds with typed constructors and accessors, so a Value can
// never silently hold the wrong Go type for its kind.
package value

import "fmt"

// Kind tags the payload a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindReference
	KindList
	KindBag
	KindSet
	KindMap
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindString:
		return "string"
	case KindReference:
		return "reference"
	case KindList:
		return "array"
	case KindBag:
		return "bag"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	case KindRecord:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// RefKind distinguishes the four reference value types a recipe rule can
// declare (spec §3 Recipe).
type RefKind uint8

const (
	RefObj RefKind = iota
	RefID
	RefClob
	RefBlob
)

func (r RefKind) String() string {
	switch r {
	case RefObj:
		return "obj"
	case RefID:
		return "id"
	case RefClob:
		return "clob"
	case RefBlob:
		return "blob"
	default:
		return "?"
	}
}

// MapEntry is one key/value pair of a Map value, kept in insertion order;
// canonical (sorted) order is derived at serialization time, not here, so
// construction stays O(1) per entry.
type MapEntry struct {
	Key   Value
	Value Value
}

// Field is one named slot of a Record value, kept in declaration order —
// for recipe-backed records this order IS the recipe's rule order and
// determines microdata byte order (spec §3 Recipe invariant).
type Field struct {
	Name  string
	Value Value
}

// Value is a closed tagged union: exactly one payload is meaningful for a
// given Kind, and the constructors below are the only way to produce one, so
// a caller can never observe a Value whose Kind disagrees with its payload.
type Value struct {
	kind    Kind
	b       bool
	i       int64
	f       float64
	s       string
	ref     RefKind
	list    []Value
	entries []MapEntry
	fields  []Field
}

func Null() Value                  { return Value{kind: KindNull} }
func NewBool(b bool) Value          { return Value{kind: KindBool, b: b} }
func NewInt(i int64) Value          { return Value{kind: KindInt, i: i} }
func NewFloat(f float64) Value      { return Value{kind: KindFloat, f: f} }
func NewString(s string) Value      { return Value{kind: KindString, s: s} }

// NewReference builds a reference value. hash must be a 64-char lowercase
// hex string; callers that need to validate this at the boundary should use
// microdata's BadReference error rather than panicking here.
func NewReference(hash string, kind RefKind) Value {
	return Value{kind: KindReference, s: hash, ref: kind}
}

func NewList(items []Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

func NewBag(items []Value) Value {
	return Value{kind: KindBag, list: append([]Value(nil), items...)}
}

func NewSet(items []Value) Value {
	return Value{kind: KindSet, list: append([]Value(nil), items...)}
}

func NewMap(entries []MapEntry) Value {
	return Value{kind: KindMap, entries: append([]MapEntry(nil), entries...)}
}

func NewRecord(fields []Field) Value {
	return Value{kind: KindRecord, fields: append([]Field(nil), fields...)}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() bool {
	mustKind(v, KindBool)
	return v.b
}

func (v Value) Int() int64 {
	mustKind(v, KindInt)
	return v.i
}

func (v Value) Float() float64 {
	mustKind(v, KindFloat)
	return v.f
}

func (v Value) Str() string {
	if v.kind != KindString && v.kind != KindReference {
		panic(fmt.Sprintf("value: Str() called on %s", v.kind))
	}
	return v.s
}

func (v Value) RefKind() RefKind {
	mustKind(v, KindReference)
	return v.ref
}

// List returns the backing elements of a List, Bag or Set value.
func (v Value) List() []Value {
	switch v.kind {
	case KindList, KindBag, KindSet:
		return v.list
	default:
		panic(fmt.Sprintf("value: List() called on %s", v.kind))
	}
}

func (v Value) Entries() []MapEntry {
	mustKind(v, KindMap)
	return v.entries
}

func (v Value) Fields() []Field {
	mustKind(v, KindRecord)
	return v.fields
}

// Field looks up a named field of a Record, reporting whether it exists.
func (v Value) Field(name string) (Value, bool) {
	mustKind(v, KindRecord)
	for _, f := range v.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

func mustKind(v Value, k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("value: expected %s, got %s", k, v.kind))
	}
}
