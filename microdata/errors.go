package microdata

import (
	"fmt"

	"github.com/refinio/one-core/onerr"
)

func errRuleMissingValue(typeName, field string) error {
	return onerr.New(onerr.CodeRuleMissingValue, fmt.Sprintf("%s: field %q has no value", typeName, field))
}

func errTypeMismatch(typeName, field string, want, got string) error {
	return onerr.New(onerr.CodeTypeMismatch, fmt.Sprintf("%s: field %q expected %s, got %s", typeName, field, want, got))
}

func errBadReference(field string) error {
	return onerr.New(onerr.CodeBadReference, fmt.Sprintf("bad reference value for field %q", field))
}

func errSuperfluousProperty(typeName, field string) error {
	return onerr.New(onerr.CodeSuperfluousProperty, fmt.Sprintf("%s: property %q is not declared by any rule", typeName, field))
}

func errNoIDRules(typeName string) error {
	return onerr.New(onerr.CodeNoIDRules, fmt.Sprintf("%s: recipe has no isId rules", typeName))
}

func errDecodeShape(reason string) error {
	return onerr.New(onerr.CodeDecodeShape, reason)
}
