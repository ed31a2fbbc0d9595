// Package microdata implements the canonical object<->microdata codec and
// the content/ID hash functions built on top of it (spec §4.C).
//
// Grounded on scm/printer.go's recursive, tag-switched SerializeEx (ported
// here from S-expression text to the spec's HTML-microdata wire format) and
// on crypto/sha256 usage already established in the teacher's
// storage/persistence-files.go (ProcessColumnName).
package microdata

import "github.com/refinio/one-core/value"

// Object is a typed, recipe-validated record: the in-memory shape the
// codec encodes to/decodes from a microdata string (spec §3 "Object").
type Object struct {
	TypeName string
	Fields   []value.Field
}

// Field looks up a field by name.
func (o Object) Field(name string) (value.Value, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return value.Value{}, false
}
