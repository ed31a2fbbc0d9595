package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CanonicalString renders a closed Value as the deterministic string used to
// sort Bag/Set elements and Map keys before microdata emission (spec §4.C:
// "sorted by the stringified form of their elements" / "sorted by the key's
// canonical serialization"). It never fails: Value's constructors already
// guarantee a well-formed tree, so there is nothing left to reject.
//
// Grounded on scm/printer.go's String()/SerializeEx, a recursive
// switch-on-tag printer over the teacher's own tagged union.
func CanonicalString(v Value) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		if v.b {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindInt:
		b.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		b.WriteString(formatFloat(v.f))
	case KindString:
		writeJSONString(b, v.s)
	case KindReference:
		writeJSONString(b, v.s)
	case KindList:
		writeList(b, v.list, false)
	case KindBag:
		writeList(b, v.list, true)
	case KindSet:
		writeList(b, v.list, true)
	case KindMap:
		writeMap(b, v.entries)
	case KindRecord:
		writeRecord(b, v.fields)
	default:
		b.WriteString("null")
	}
}

func writeList(b *strings.Builder, items []Value, sortElems bool) {
	strs := make([]string, len(items))
	for i, it := range items {
		strs[i] = CanonicalString(it)
	}
	if sortElems {
		sort.Strings(strs)
	}
	b.WriteByte('[')
	for i, s := range strs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s)
	}
	b.WriteByte(']')
}

func writeMap(b *strings.Builder, entries []MapEntry) {
	type kv struct{ k, v string }
	pairs := make([]kv, len(entries))
	for i, e := range entries {
		pairs[i] = kv{CanonicalString(e.Key), CanonicalString(e.Value)}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })
	b.WriteByte('[')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		b.WriteString(p.k)
		b.WriteByte(',')
		b.WriteString(p.v)
		b.WriteByte(']')
	}
	b.WriteByte(']')
}

func writeRecord(b *strings.Builder, fields []Field) {
	type kv struct{ k, v string }
	pairs := make([]kv, 0, len(fields))
	for _, f := range fields {
		if f.Value.kind == KindNull {
			continue
		}
		pairs = append(pairs, kv{f.Name, CanonicalString(f.Value)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })
	b.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(b, p.k)
		b.WriteByte(':')
		b.WriteString(p.v)
	}
	b.WriteByte('}')
}

func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

func formatFloat(f float64) string {
	// match JSON scalar rendering: shortest round-trippable representation,
	// no trailing ".0" suppression games — 'g' already omits them.
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Compare orders two values by their canonical string form, giving a
// stable total order over heterogeneous values.
func Compare(a, b Value) int {
	sa, sb := CanonicalString(a), CanonicalString(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two values have identical canonical form.
func Equal(a, b Value) bool {
	return CanonicalString(a) == CanonicalString(b)
}

// DeepFreeze returns a value whose List/Bag/Set/Map/Record payload slices
// are freshly allocated copies, recursively. Dispatch (§4.G) calls this
// before pushing an event onto its queue so that a producer mutating its
// own in-memory object afterward can never retroactively change a value a
// handler already observed.
func DeepFreeze(v Value) Value {
	switch v.kind {
	case KindList, KindBag, KindSet:
		frozen := make([]Value, len(v.list))
		for i, item := range v.list {
			frozen[i] = DeepFreeze(item)
		}
		v.list = frozen
		return v
	case KindMap:
		frozen := make([]MapEntry, len(v.entries))
		for i, e := range v.entries {
			frozen[i] = MapEntry{Key: DeepFreeze(e.Key), Value: DeepFreeze(e.Value)}
		}
		v.entries = frozen
		return v
	case KindRecord:
		frozen := make([]Field, len(v.fields))
		for i, f := range v.fields {
			frozen[i] = Field{Name: f.Name, Value: DeepFreeze(f.Value)}
		}
		v.fields = frozen
		return v
	default:
		return v
	}
}

func must(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
