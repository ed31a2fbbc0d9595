package microdata

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/value"
)

// Encode renders obj as its canonical microdata line. When idObject is
// true, only the recipe's isId rules are emitted and the frame carries
// data-id-object="true" — this is the distinguishing marker that makes
// IDHash(o) != ContentHash(o) even when o has only id fields populated
// (spec §3 Hash, §8 property 4).
func Encode(obj Object, reg *recipe.Registry, idObject bool) (string, error) {
	rec, err := reg.Resolve(obj.TypeName)
	if err != nil {
		return "", err
	}

	rules := rec.Rules
	if idObject {
		rules = rec.IDRules()
		if len(rules) == 0 {
			return "", errNoIDRules(obj.TypeName)
		}
	}

	var b strings.Builder
	b.WriteString("<div")
	if idObject {
		b.WriteString(` data-id-object="true"`)
	}
	b.WriteString(` itemscope itemtype="//refin.io/`)
	b.WriteString(obj.TypeName)
	b.WriteString(`">`)

	consumed := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if idObject && !rule.IsID {
			continue // rules is already IDRules() here; nested object values are still encoded with all of their rules
		}
		v, present := obj.Field(rule.FieldName)
		consumed[rule.FieldName] = true
		if !present {
			if rule.Optional && !rule.IsID {
				continue
			}
			return "", errRuleMissingValue(obj.TypeName, rule.FieldName)
		}
		child, err := encodeChild(v, rule.Type, rule.FieldName, obj.TypeName)
		if err != nil {
			return "", err
		}
		b.WriteString(child)
	}

	// SuperfluousProperty: any field not declared by any rule. In idObject
	// mode, non-id fields present in obj.Fields are silently ignored
	// rather than rejected (spec §4.C).
	if !idObject {
		for _, f := range obj.Fields {
			if !consumed[f.Name] {
				return "", errSuperfluousProperty(obj.TypeName, f.Name)
			}
		}
	}

	b.WriteString("</div>")
	return b.String(), nil
}

// encodeChild renders one rule-level child element (itemprop present)
// according to its declared ValueType.
func encodeChild(v value.Value, vt recipe.ValueType, itemprop, typeName string) (string, error) {
	switch vt.Kind {
	case recipe.VString, recipe.VInteger, recipe.VNumber, recipe.VBoolean, recipe.VStringifiable:
		scalar, err := encodeScalar(v, vt, itemprop, typeName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`<span itemprop="%s">%s</span>`, itemprop, scalar), nil

	case recipe.VReferenceToObj, recipe.VReferenceToID, recipe.VReferenceToClob, recipe.VReferenceToBlob:
		href, kindAttr, err := encodeReference(v, vt, itemprop)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`<a itemprop="%s" data-type="%s">%s</a>`, itemprop, kindAttr, href), nil

	case recipe.VArray:
		inner, err := encodeArray(v, vt, typeName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`<ol itemprop="%s">%s</ol>`, itemprop, inner), nil

	case recipe.VBag, recipe.VSet:
		inner, err := encodeBagOrSet(v, vt, typeName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`<ul itemprop="%s">%s</ul>`, itemprop, inner), nil

	case recipe.VMap:
		inner, err := encodeMap(v, vt, typeName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`<dl itemprop="%s">%s</dl>`, itemprop, inner), nil

	case recipe.VObject:
		inner, err := encodeObjectFields(v, vt.Rules, typeName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`<div itemprop="%s">%s</div>`, itemprop, inner), nil

	default:
		return "", errTypeMismatch(typeName, itemprop, "known valueType", vt.Kind.String())
	}
}

// encodeNested renders a value with no itemprop/span wrapper — used inside
// array/bag/set/map elements, where "nested form omits the span and
// itemprop" (spec §4.C).
func encodeNested(v value.Value, vt recipe.ValueType, typeName string) (string, error) {
	switch vt.Kind {
	case recipe.VString, recipe.VInteger, recipe.VNumber, recipe.VBoolean, recipe.VStringifiable:
		return encodeScalar(v, vt, "(nested)", typeName)

	case recipe.VReferenceToObj, recipe.VReferenceToID, recipe.VReferenceToClob, recipe.VReferenceToBlob:
		href, kindAttr, err := encodeReference(v, vt, "(nested)")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`<a data-type="%s">%s</a>`, kindAttr, href), nil

	case recipe.VArray:
		inner, err := encodeArray(v, vt, typeName)
		if err != nil {
			return "", err
		}
		return "<ol>" + inner + "</ol>", nil

	case recipe.VBag, recipe.VSet:
		inner, err := encodeBagOrSet(v, vt, typeName)
		if err != nil {
			return "", err
		}
		return "<ul>" + inner + "</ul>", nil

	case recipe.VMap:
		inner, err := encodeMap(v, vt, typeName)
		if err != nil {
			return "", err
		}
		return "<dl>" + inner + "</dl>", nil

	case recipe.VObject:
		inner, err := encodeObjectFields(v, vt.Rules, typeName)
		if err != nil {
			return "", err
		}
		return "<div>" + inner + "</div>", nil

	default:
		return "", errTypeMismatch(typeName, "(nested)", "known valueType", vt.Kind.String())
	}
}

func encodeScalar(v value.Value, vt recipe.ValueType, itemprop, typeName string) (string, error) {
	switch vt.Kind {
	case recipe.VString:
		if v.Kind() != value.KindString {
			return "", errTypeMismatch(typeName, itemprop, "string", v.Kind().String())
		}
		if vt.Regex != "" {
			matched, err := regexp.MatchString(vt.Regex, v.Str())
			if err != nil || !matched {
				return "", errTypeMismatch(typeName, itemprop, "string matching "+vt.Regex, "non-matching string")
			}
		}
		return escape(v.Str()), nil
	case recipe.VInteger:
		if v.Kind() != value.KindInt {
			return "", errTypeMismatch(typeName, itemprop, "integer", v.Kind().String())
		}
		return strconv.FormatInt(v.Int(), 10), nil
	case recipe.VNumber:
		if v.Kind() != value.KindFloat && v.Kind() != value.KindInt {
			return "", errTypeMismatch(typeName, itemprop, "number", v.Kind().String())
		}
		if v.Kind() == value.KindInt {
			return strconv.FormatInt(v.Int(), 10), nil
		}
		return formatNumberFloat(v.Float()), nil
	case recipe.VBoolean:
		if v.Kind() != value.KindBool {
			return "", errTypeMismatch(typeName, itemprop, "boolean", v.Kind().String())
		}
		if v.Bool() {
			return "true", nil
		}
		return "false", nil
	case recipe.VStringifiable:
		return escape(value.CanonicalString(v)), nil
	default:
		return "", errTypeMismatch(typeName, itemprop, "scalar", vt.Kind.String())
	}
}

// formatNumberFloat renders a number-kind float so its text always carries
// a '.' or exponent marker, distinguishing it from an integer-kind number
// sharing the same value — Decode relies on this to rebuild the original
// scalar Kind (spec §4.C decoder contract: "identical scalar types").
func formatNumberFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func encodeReference(v value.Value, vt recipe.ValueType, itemprop string) (href string, kindAttr string, err error) {
	if v.Kind() != value.KindReference {
		return "", "", errBadReference(itemprop)
	}
	if !isHash(v.Str()) {
		return "", "", errBadReference(itemprop)
	}
	want := refKindFor(vt.Kind)
	if v.RefKind() != want {
		return "", "", errBadReference(itemprop)
	}
	return v.Str(), want.String(), nil
}

func refKindFor(k recipe.ValueKind) value.RefKind {
	switch k {
	case recipe.VReferenceToObj:
		return value.RefObj
	case recipe.VReferenceToID:
		return value.RefID
	case recipe.VReferenceToClob:
		return value.RefClob
	case recipe.VReferenceToBlob:
		return value.RefBlob
	default:
		return value.RefObj
	}
}

func encodeArray(v value.Value, vt recipe.ValueType, typeName string) (string, error) {
	if v.Kind() != value.KindList {
		return "", errTypeMismatch(typeName, "(array)", "array", v.Kind().String())
	}
	var b strings.Builder
	for _, item := range v.List() {
		child, err := encodeNested(item, *vt.Of, typeName)
		if err != nil {
			return "", err
		}
		b.WriteString("<li>")
		b.WriteString(child)
		b.WriteString("</li>")
	}
	return b.String(), nil
}

func encodeBagOrSet(v value.Value, vt recipe.ValueType, typeName string) (string, error) {
	if v.Kind() != value.KindBag && v.Kind() != value.KindSet {
		return "", errTypeMismatch(typeName, "(bag/set)", "bag or set", v.Kind().String())
	}
	rendered := make([]string, 0, len(v.List()))
	for _, item := range v.List() {
		child, err := encodeNested(item, *vt.Of, typeName)
		if err != nil {
			return "", err
		}
		rendered = append(rendered, "<li>"+child+"</li>")
	}
	sort.Strings(rendered)
	return strings.Join(rendered, ""), nil
}

func encodeMap(v value.Value, vt recipe.ValueType, typeName string) (string, error) {
	if v.Kind() != value.KindMap {
		return "", errTypeMismatch(typeName, "(map)", "map", v.Kind().String())
	}
	type entry struct {
		sortKey string
		text    string
	}
	entries := make([]entry, 0, len(v.Entries()))
	for _, e := range v.Entries() {
		keyText, err := encodeNested(e.Key, *vt.Key, typeName)
		if err != nil {
			return "", err
		}
		valText, err := encodeNested(e.Value, *vt.Val, typeName)
		if err != nil {
			return "", err
		}
		entries = append(entries, entry{
			sortKey: value.CanonicalString(e.Key),
			text:    "<dt>" + keyText + "</dt><dd>" + valText + "</dd>",
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].sortKey < entries[j].sortKey })
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.text)
	}
	return b.String(), nil
}

func encodeObjectFields(v value.Value, rules []recipe.Rule, typeName string) (string, error) {
	if v.Kind() != value.KindRecord {
		return "", errTypeMismatch(typeName, "(object)", "object", v.Kind().String())
	}
	var b strings.Builder
	consumed := make(map[string]bool, len(rules))
	for _, rule := range rules {
		fv, present := v.Field(rule.FieldName)
		consumed[rule.FieldName] = true
		if !present {
			if rule.Optional {
				continue
			}
			return "", errRuleMissingValue(typeName, rule.FieldName)
		}
		child, err := encodeChild(fv, rule.Type, rule.FieldName, typeName)
		if err != nil {
			return "", err
		}
		b.WriteString(child)
	}
	for _, f := range v.Fields() {
		if !consumed[f.Name] {
			return "", errSuperfluousProperty(typeName, f.Name)
		}
	}
	return b.String(), nil
}
