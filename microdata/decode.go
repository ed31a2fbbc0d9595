package microdata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/value"
)

// parser is a strict, hand-rolled scanner over the exact grammar Encode
// produces. Unlike a general HTML parser it never tolerates whitespace or
// attribute-order drift — the decoder contract (spec §4.C) requires
// rejecting any string that deviates from the canonical shape.
type parser struct {
	s string
	i int
}

func (p *parser) rest() string { return p.s[p.i:] }

func (p *parser) expect(lit string) error {
	if !strings.HasPrefix(p.rest(), lit) {
		at := p.i
		if at > len(p.s) {
			at = len(p.s)
		}
		return errDecodeShape(fmt.Sprintf("expected %q at offset %d", lit, at))
	}
	p.i += len(lit)
	return nil
}

func (p *parser) tryExpect(lit string) bool {
	if strings.HasPrefix(p.rest(), lit) {
		p.i += len(lit)
		return true
	}
	return false
}

func (p *parser) readUntil(stop string) (string, error) {
	idx := strings.Index(p.rest(), stop)
	if idx < 0 {
		return "", errDecodeShape(fmt.Sprintf("expected %q before end of input", stop))
	}
	text := p.rest()[:idx]
	p.i += idx + len(stop)
	return text, nil
}

var childPrefixes = []string{
	`<span itemprop="`, `<a itemprop="`, `<ol itemprop="`,
	`<ul itemprop="`, `<dl itemprop="`, `<div itemprop="`,
}

// peekItemprop reports the itemprop value of the next child element without
// consuming any input, or ok=false if the next token is not a recognized
// itemprop-bearing element (typically meaning "closing tag next").
func peekItemprop(p *parser) (prop string, ok bool) {
	rest := p.rest()
	for _, pre := range childPrefixes {
		if strings.HasPrefix(rest, pre) {
			tail := rest[len(pre):]
			idx := strings.IndexByte(tail, '"')
			if idx < 0 {
				return "", false
			}
			return tail[:idx], true
		}
	}
	return "", false
}

// Decode rebuilds an Object from its canonical microdata line, reporting
// whether the frame carried the data-id-object marker. It is the mirror of
// Encode: decode(encode(obj)) == obj (spec §4.C properties).
func Decode(s string, reg *recipe.Registry) (Object, bool, error) {
	p := &parser{s: s}
	if err := p.expect("<div"); err != nil {
		return Object{}, false, err
	}
	idObject := p.tryExpect(` data-id-object="true"`)
	if err := p.expect(` itemscope itemtype="//refin.io/`); err != nil {
		return Object{}, false, err
	}
	typeName, err := p.readUntil(`">`)
	if err != nil {
		return Object{}, false, err
	}
	rec, err := reg.Resolve(typeName)
	if err != nil {
		return Object{}, false, err
	}
	rules := rec.Rules
	if idObject {
		rules = rec.IDRules()
		if len(rules) == 0 {
			return Object{}, false, errNoIDRules(typeName)
		}
	}
	fields, err := decodeRuleSequence(p, rules, typeName, idObject)
	if err != nil {
		return Object{}, false, err
	}
	if err := p.expect("</div>"); err != nil {
		return Object{}, false, err
	}
	if p.i != len(p.s) {
		return Object{}, false, errDecodeShape("trailing data after closing </div>")
	}
	return Object{TypeName: typeName, Fields: fields}, idObject, nil
}

func decodeRuleSequence(p *parser, rules []recipe.Rule, typeName string, idMode bool) ([]value.Field, error) {
	var fields []value.Field
	for _, rule := range rules {
		if idMode && !rule.IsID {
			continue
		}
		prop, ok := peekItemprop(p)
		if ok && prop == rule.FieldName {
			v, err := decodeChild(p, rule.Type, rule.FieldName, typeName)
			if err != nil {
				return nil, err
			}
			fields = append(fields, value.Field{Name: rule.FieldName, Value: v})
			continue
		}
		if rule.Optional && !rule.IsID {
			continue
		}
		return nil, errRuleMissingValue(typeName, rule.FieldName)
	}
	if prop, ok := peekItemprop(p); ok {
		return nil, errDecodeShape(fmt.Sprintf("%s: unexpected property %q", typeName, prop))
	}
	return fields, nil
}

func decodeChild(p *parser, vt recipe.ValueType, itemprop, typeName string) (value.Value, error) {
	switch vt.Kind {
	case recipe.VString, recipe.VInteger, recipe.VNumber, recipe.VBoolean, recipe.VStringifiable:
		if err := p.expect(`<span itemprop="` + itemprop + `">`); err != nil {
			return value.Value{}, err
		}
		text, err := readScalarText(p)
		if err != nil {
			return value.Value{}, err
		}
		if err := p.expect("</span>"); err != nil {
			return value.Value{}, err
		}
		return decodeScalarText(text, vt, itemprop, typeName)

	case recipe.VReferenceToObj, recipe.VReferenceToID, recipe.VReferenceToClob, recipe.VReferenceToBlob:
		kindAttr := refKindFor(vt.Kind).String()
		if err := p.expect(`<a itemprop="` + itemprop + `" data-type="` + kindAttr + `">`); err != nil {
			return value.Value{}, err
		}
		hashText, err := p.readUntil("</a>")
		if err != nil {
			return value.Value{}, err
		}
		if !isHash(hashText) {
			return value.Value{}, errBadReference(itemprop)
		}
		return value.NewReference(hashText, refKindFor(vt.Kind)), nil

	case recipe.VArray:
		if err := p.expect(`<ol itemprop="` + itemprop + `">`); err != nil {
			return value.Value{}, err
		}
		items, err := decodeListItems(p, *vt.Of, typeName)
		if err != nil {
			return value.Value{}, err
		}
		if err := p.expect("</ol>"); err != nil {
			return value.Value{}, err
		}
		return value.NewList(items), nil

	case recipe.VBag, recipe.VSet:
		if err := p.expect(`<ul itemprop="` + itemprop + `">`); err != nil {
			return value.Value{}, err
		}
		items, err := decodeListItems(p, *vt.Of, typeName)
		if err != nil {
			return value.Value{}, err
		}
		if err := p.expect("</ul>"); err != nil {
			return value.Value{}, err
		}
		if vt.Kind == recipe.VBag {
			return value.NewBag(items), nil
		}
		return value.NewSet(items), nil

	case recipe.VMap:
		if err := p.expect(`<dl itemprop="` + itemprop + `">`); err != nil {
			return value.Value{}, err
		}
		entries, err := decodeMapEntries(p, *vt.Key, *vt.Val, typeName)
		if err != nil {
			return value.Value{}, err
		}
		if err := p.expect("</dl>"); err != nil {
			return value.Value{}, err
		}
		return value.NewMap(entries), nil

	case recipe.VObject:
		if err := p.expect(`<div itemprop="` + itemprop + `">`); err != nil {
			return value.Value{}, err
		}
		fields, err := decodeRuleSequence(p, vt.Rules, typeName, false)
		if err != nil {
			return value.Value{}, err
		}
		if err := p.expect("</div>"); err != nil {
			return value.Value{}, err
		}
		return value.NewRecord(fields), nil

	default:
		return value.Value{}, errDecodeShape(fmt.Sprintf("%s: unknown valueType for %q", typeName, itemprop))
	}
}

// decodeNested mirrors encodeNested: no itemprop attribute, used for
// array/bag/set elements and map keys/values.
func decodeNested(p *parser, vt recipe.ValueType, typeName string) (value.Value, error) {
	switch vt.Kind {
	case recipe.VString, recipe.VInteger, recipe.VNumber, recipe.VBoolean, recipe.VStringifiable:
		text, err := readScalarText(p)
		if err != nil {
			return value.Value{}, err
		}
		return decodeScalarText(text, vt, "(nested)", typeName)

	case recipe.VReferenceToObj, recipe.VReferenceToID, recipe.VReferenceToClob, recipe.VReferenceToBlob:
		kindAttr := refKindFor(vt.Kind).String()
		if err := p.expect(`<a data-type="` + kindAttr + `">`); err != nil {
			return value.Value{}, err
		}
		hashText, err := p.readUntil("</a>")
		if err != nil {
			return value.Value{}, err
		}
		if !isHash(hashText) {
			return value.Value{}, errBadReference("(nested)")
		}
		return value.NewReference(hashText, refKindFor(vt.Kind)), nil

	case recipe.VArray:
		if err := p.expect("<ol>"); err != nil {
			return value.Value{}, err
		}
		items, err := decodeListItems(p, *vt.Of, typeName)
		if err != nil {
			return value.Value{}, err
		}
		if err := p.expect("</ol>"); err != nil {
			return value.Value{}, err
		}
		return value.NewList(items), nil

	case recipe.VBag, recipe.VSet:
		if err := p.expect("<ul>"); err != nil {
			return value.Value{}, err
		}
		items, err := decodeListItems(p, *vt.Of, typeName)
		if err != nil {
			return value.Value{}, err
		}
		if err := p.expect("</ul>"); err != nil {
			return value.Value{}, err
		}
		if vt.Kind == recipe.VBag {
			return value.NewBag(items), nil
		}
		return value.NewSet(items), nil

	case recipe.VMap:
		if err := p.expect("<dl>"); err != nil {
			return value.Value{}, err
		}
		entries, err := decodeMapEntries(p, *vt.Key, *vt.Val, typeName)
		if err != nil {
			return value.Value{}, err
		}
		if err := p.expect("</dl>"); err != nil {
			return value.Value{}, err
		}
		return value.NewMap(entries), nil

	case recipe.VObject:
		if err := p.expect("<div>"); err != nil {
			return value.Value{}, err
		}
		fields, err := decodeRuleSequence(p, vt.Rules, typeName, false)
		if err != nil {
			return value.Value{}, err
		}
		if err := p.expect("</div>"); err != nil {
			return value.Value{}, err
		}
		return value.NewRecord(fields), nil

	default:
		return value.Value{}, errDecodeShape(fmt.Sprintf("%s: unknown nested valueType", typeName))
	}
}

// readScalarText reads up to (not including) the next '<'. Escaped scalar
// content can never contain a literal '<' (escape() turns it into &lt;),
// so this boundary is unambiguous.
func readScalarText(p *parser) (string, error) {
	idx := strings.IndexByte(p.rest(), '<')
	if idx < 0 {
		return "", errDecodeShape("unterminated scalar content")
	}
	text := p.rest()[:idx]
	p.i += idx
	return text, nil
}

func decodeScalarText(text string, vt recipe.ValueType, itemprop, typeName string) (value.Value, error) {
	switch vt.Kind {
	case recipe.VString, recipe.VStringifiable:
		return value.NewString(unescape(text)), nil
	case recipe.VInteger:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return value.Value{}, errTypeMismatch(typeName, itemprop, "integer", "non-integer text")
		}
		return value.NewInt(n), nil
	case recipe.VNumber:
		if strings.ContainsAny(text, ".eE") {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return value.Value{}, errTypeMismatch(typeName, itemprop, "number", "unparsable text")
			}
			return value.NewFloat(f), nil
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return value.Value{}, errTypeMismatch(typeName, itemprop, "number", "unparsable text")
		}
		return value.NewInt(n), nil
	case recipe.VBoolean:
		switch text {
		case "true":
			return value.NewBool(true), nil
		case "false":
			return value.NewBool(false), nil
		default:
			return value.Value{}, errTypeMismatch(typeName, itemprop, "boolean", text)
		}
	default:
		return value.Value{}, errDecodeShape(fmt.Sprintf("%s: unexpected scalar valueType", typeName))
	}
}

func decodeListItems(p *parser, elemType recipe.ValueType, typeName string) ([]value.Value, error) {
	var items []value.Value
	for strings.HasPrefix(p.rest(), "<li>") {
		if err := p.expect("<li>"); err != nil {
			return nil, err
		}
		v, err := decodeNested(p, elemType, typeName)
		if err != nil {
			return nil, err
		}
		if err := p.expect("</li>"); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func decodeMapEntries(p *parser, keyType, valType recipe.ValueType, typeName string) ([]value.MapEntry, error) {
	var entries []value.MapEntry
	for strings.HasPrefix(p.rest(), "<dt>") {
		if err := p.expect("<dt>"); err != nil {
			return nil, err
		}
		k, err := decodeNested(p, keyType, typeName)
		if err != nil {
			return nil, err
		}
		if err := p.expect("</dt>"); err != nil {
			return nil, err
		}
		if err := p.expect("<dd>"); err != nil {
			return nil, err
		}
		v, err := decodeNested(p, valType, typeName)
		if err != nil {
			return nil, err
		}
		if err := p.expect("</dd>"); err != nil {
			return nil, err
		}
		entries = append(entries, value.MapEntry{Key: k, Value: v})
	}
	return entries, nil
}
