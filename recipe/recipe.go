// Package recipe implements the per-type schema registry that drives
// canonical microdata serialization (spec §4.B).
//
// Grounded on the teacher's schema/catalog pattern
// (storage/tables_catalog.go: name -> column defs, validated once at
// CreateTable time and looked up by name thereafter), adapted from SQL
// table columns to microdata field rules.
package recipe

import "fmt"

// ValueKind tags the shape of a Rule's declared value type (spec §3
// Recipe: the `valueType` tagged variant).
type ValueKind uint8

const (
	VString ValueKind = iota
	VInteger
	VNumber
	VBoolean
	VStringifiable
	VReferenceToObj
	VReferenceToID
	VReferenceToClob
	VReferenceToBlob
	VArray
	VBag
	VSet
	VMap
	VObject
)

func (k ValueKind) String() string {
	names := [...]string{
		"string", "integer", "number", "boolean", "stringifiable",
		"referenceToObj", "referenceToId", "referenceToClob", "referenceToBlob",
		"array", "bag", "set", "map", "object",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}

// ValueType is the recursive description of one rule's value shape.
type ValueType struct {
	Kind ValueKind

	// VString only: an optional validating regular expression.
	Regex string

	// VArray / VBag / VSet: element type.
	Of *ValueType

	// VMap: key and value types.
	Key *ValueType
	Val *ValueType

	// VObject: nested, unordered-by-name but canonically ordered rule list.
	Rules []Rule
}

// Rule is one ordered field declaration of a Recipe (spec §3). Rule order
// is canonical: it determines microdata byte order.
type Rule struct {
	FieldName string
	Type      ValueType
	Optional  bool
	IsID      bool

	// InheritFrom, when non-empty, is a "<Type>.<field>[.<field>]..."
	// path the registry resolves to materialize this rule's ValueType
	// from another type's already-registered rule (spec §4.B).
	InheritFrom string
}

// Recipe is the ordered, per-type rule list that the microdata codec
// encodes/decodes against.
type Recipe struct {
	TypeName string
	Rules    []Rule
}

// IDRules returns the subset of rules participating in the ID hash,
// preserving recipe order.
func (r *Recipe) IDRules() []Rule {
	out := make([]Rule, 0, len(r.Rules))
	for _, rule := range r.Rules {
		if rule.IsID {
			out = append(out, rule)
		}
	}
	return out
}

// Rule looks up a rule by field name.
func (r *Recipe) Rule(name string) (Rule, bool) {
	for _, rule := range r.Rules {
		if rule.FieldName == name {
			return rule, true
		}
	}
	return Rule{}, false
}
