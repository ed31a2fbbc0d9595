package microdata

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/refinio/one-core/onerr"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/value"
)

func newTestRegistry(t *testing.T) *recipe.Registry {
	t.Helper()
	reg := recipe.NewRegistry()

	mustRegister(t, reg, &recipe.Recipe{
		TypeName: "OneTest$Email",
		Rules: []recipe.Rule{
			{FieldName: "messageID", Type: recipe.ValueType{Kind: recipe.VString}, IsID: true},
			{FieldName: "date", Type: recipe.ValueType{Kind: recipe.VInteger}},
			{FieldName: "subject", Type: recipe.ValueType{Kind: recipe.VString}},
		},
	})

	mustRegister(t, reg, &recipe.Recipe{
		TypeName: "OneTest$ImapAccount",
		Rules: []recipe.Rule{
			{FieldName: "DUMMY", Type: recipe.ValueType{Kind: recipe.VInteger}},
			{FieldName: "email", Type: recipe.ValueType{Kind: recipe.VString}, IsID: true},
			{FieldName: "host", Type: recipe.ValueType{Kind: recipe.VString}},
			{FieldName: "user", Type: recipe.ValueType{Kind: recipe.VString}},
			{FieldName: "password", Type: recipe.ValueType{Kind: recipe.VString}},
			{FieldName: "port", Type: recipe.ValueType{Kind: recipe.VInteger}},
		},
	})

	mustRegister(t, reg, &recipe.Recipe{
		TypeName: "Instance",
		Rules: []recipe.Rule{
			{FieldName: "name", Type: recipe.ValueType{Kind: recipe.VString}},
			{FieldName: "owner", Type: recipe.ValueType{Kind: recipe.VReferenceToObj}},
			{FieldName: "recipe", Type: recipe.ValueType{Kind: recipe.VReferenceToObj}, Optional: true},
		},
	})

	mustRegister(t, reg, &recipe.Recipe{
		TypeName: "Person",
		Rules: []recipe.Rule{
			{FieldName: "email", Type: recipe.ValueType{Kind: recipe.VString}, IsID: true},
		},
	})

	return reg
}

func mustRegister(t *testing.T, reg *recipe.Registry, r *recipe.Recipe) {
	t.Helper()
	if err := reg.Register(r); err != nil {
		t.Fatalf("register %s: %v", r.TypeName, err)
	}
}

func fakeHash(b byte) string {
	return strings.Repeat(hex.EncodeToString([]byte{b}), 32)
}

// S1 — ID hash distinctness.
func TestScenarioS1IDHashDistinctness(t *testing.T) {
	reg := newTestRegistry(t)
	obj := Object{
		TypeName: "OneTest$Email",
		Fields: []value.Field{
			{Name: "messageID", Value: value.NewString("randomMsgId@email")},
			{Name: "date", Value: value.NewInt(1700000000000)},
			{Name: "subject", Value: value.NewString("Subject line")},
		},
	}

	h, err := ContentHash(obj, reg)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	idh, err := IDHash(obj, reg)
	if err != nil {
		t.Fatalf("IDHash: %v", err)
	}
	if h == idh {
		t.Fatalf("expected idHash != hash, both were %s", h)
	}
}

// S2 — ID hash formula: idHash(o) = SHA-256(idMicrodata(o)), computed in
// isolation from the full object's non-id fields.
func TestScenarioS2IDHashFormula(t *testing.T) {
	reg := newTestRegistry(t)
	obj := Object{
		TypeName: "OneTest$ImapAccount",
		Fields: []value.Field{
			{Name: "DUMMY", Value: value.NewInt(42)},
			{Name: "email", Value: value.NewString("hasenstein@yahoo.com")},
			{Name: "host", Value: value.NewString("demo.somewhere.com")},
			{Name: "user", Value: value.NewString("testuser")},
			{Name: "password", Value: value.NewString("fcfb1d81")},
			{Name: "port", Value: value.NewInt(42)},
		},
	}

	idMicrodata, err := Encode(obj, reg, true)
	if err != nil {
		t.Fatalf("Encode(idObject): %v", err)
	}
	want := sha256.Sum256([]byte(idMicrodata))
	wantHex := hex.EncodeToString(want[:])

	got, err := IDHash(obj, reg)
	if err != nil {
		t.Fatalf("IDHash: %v", err)
	}
	if got != wantHex {
		t.Fatalf("IDHash = %s, want sha256(idMicrodata) = %s", got, wantHex)
	}

	// Only the isId rule (email) may appear in the id-only encoding.
	if !strings.Contains(idMicrodata, `itemprop="email"`) {
		t.Fatalf("idMicrodata missing email field: %s", idMicrodata)
	}
	if strings.Contains(idMicrodata, `itemprop="host"`) || strings.Contains(idMicrodata, `itemprop="DUMMY"`) {
		t.Fatalf("idMicrodata leaked a non-id field: %s", idMicrodata)
	}
}

// S3 — Imploded reference rejection.
func TestScenarioS3ImplodedReferenceRejection(t *testing.T) {
	reg := newTestRegistry(t)
	obj := Object{
		TypeName: "Instance",
		Fields: []value.Field{
			{Name: "name", Value: value.NewString("X")},
			{Name: "owner", Value: value.NewRecord([]value.Field{
				{Name: "email", Value: value.NewString("a@b")},
			})},
		},
	}

	_, err := Encode(obj, reg, false)
	if err == nil {
		t.Fatal("expected BadReference error, got nil")
	}
	if onerr.CodeOf(err) != onerr.CodeBadReference {
		t.Fatalf("expected code %s, got %s (%v)", onerr.CodeBadReference, onerr.CodeOf(err), err)
	}
	if !strings.Contains(err.Error(), "O2M-RTYC4") {
		t.Fatalf("error message missing code: %v", err)
	}
	if !strings.Contains(err.Error(), "owner") {
		t.Fatalf("error message missing offending itemprop %q: %v", "owner", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	obj := Object{
		TypeName: "OneTest$Email",
		Fields: []value.Field{
			{Name: "messageID", Value: value.NewString("id@example.com")},
			{Name: "date", Value: value.NewInt(123)},
			{Name: "subject", Value: value.NewString("Re: <hello> & \"goodbye\"")},
		},
	}

	s, err := Encode(obj, reg, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, idObject, err := Decode(s, reg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if idObject {
		t.Fatal("expected idObject=false")
	}
	if got.TypeName != obj.TypeName {
		t.Fatalf("TypeName = %s, want %s", got.TypeName, obj.TypeName)
	}
	for _, f := range obj.Fields {
		gv, ok := got.Field(f.Name)
		if !ok {
			t.Fatalf("decoded object missing field %q", f.Name)
		}
		if !value.Equal(gv, f.Value) {
			t.Fatalf("field %q = %v, want %v", f.Name, value.CanonicalString(gv), value.CanonicalString(f.Value))
		}
	}
}

func TestEncodeDecodeRoundTripIDObject(t *testing.T) {
	reg := newTestRegistry(t)
	obj := Object{
		TypeName: "OneTest$Email",
		Fields: []value.Field{
			{Name: "messageID", Value: value.NewString("id@example.com")},
			{Name: "date", Value: value.NewInt(123)},
			{Name: "subject", Value: value.NewString("ignored")},
		},
	}

	s, err := Encode(obj, reg, true)
	if err != nil {
		t.Fatalf("Encode(idObject): %v", err)
	}
	got, idObject, err := Decode(s, reg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !idObject {
		t.Fatal("expected idObject=true")
	}
	if len(got.Fields) != 1 || got.Fields[0].Name != "messageID" {
		t.Fatalf("decoded id-only object has unexpected fields: %+v", got.Fields)
	}
}

func TestEncodeDecodeRoundTripCollections(t *testing.T) {
	reg := recipe.NewRegistry()
	listOf := recipe.ValueType{Kind: recipe.VString}
	mustRegister(t, reg, &recipe.Recipe{
		TypeName: "Widget",
		Rules: []recipe.Rule{
			{FieldName: "id", Type: recipe.ValueType{Kind: recipe.VString}, IsID: true},
			{FieldName: "tags", Type: recipe.ValueType{Kind: recipe.VArray, Of: &listOf}},
			{FieldName: "labels", Type: recipe.ValueType{Kind: recipe.VSet, Of: &listOf}},
			{FieldName: "scores", Type: recipe.ValueType{
				Kind: recipe.VMap,
				Key:  &recipe.ValueType{Kind: recipe.VString},
				Val:  &recipe.ValueType{Kind: recipe.VInteger},
			}},
		},
	})

	obj := Object{
		TypeName: "Widget",
		Fields: []value.Field{
			{Name: "id", Value: value.NewString("w1")},
			{Name: "tags", Value: value.NewList([]value.Value{
				value.NewString("b"), value.NewString("a"), value.NewString("b"),
			})},
			{Name: "labels", Value: value.NewSet([]value.Value{
				value.NewString("zeta"), value.NewString("alpha"),
			})},
			{Name: "scores", Value: value.NewMap([]value.MapEntry{
				{Key: value.NewString("zeta"), Value: value.NewInt(1)},
				{Key: value.NewString("alpha"), Value: value.NewInt(2)},
			})},
		},
	}

	s, err := Encode(obj, reg, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Array preserves insertion order.
	if !strings.Contains(s, "<ol itemprop=\"tags\"><li>b</li><li>a</li><li>b</li></ol>") {
		t.Fatalf("array order not preserved: %s", s)
	}

	got, _, err := Decode(s, reg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tagsV, _ := got.Field("tags")
	if len(tagsV.List()) != 3 {
		t.Fatalf("tags len = %d, want 3", len(tagsV.List()))
	}
	labelsV, _ := got.Field("labels")
	if len(labelsV.List()) != 2 {
		t.Fatalf("labels len = %d, want 2", len(labelsV.List()))
	}
	scoresV, _ := got.Field("scores")
	if len(scoresV.Entries()) != 2 {
		t.Fatalf("scores len = %d, want 2", len(scoresV.Entries()))
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	reg := newTestRegistry(t)
	obj := Object{
		TypeName: "OneTest$Email",
		Fields: []value.Field{
			{Name: "messageID", Value: value.NewString("id@example.com")},
			{Name: "date", Value: value.NewInt(123)},
			{Name: "subject", Value: value.NewString("s")},
		},
	}
	s, err := Encode(obj, reg, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, _, err = Decode(s+" ", reg)
	if err == nil {
		t.Fatal("expected decode to reject trailing whitespace")
	}
	if onerr.CodeOf(err) != onerr.CodeDecodeShape {
		t.Fatalf("expected DecodeShape code for trailing data, got %v", err)
	}
}

func TestEncodeSuperfluousProperty(t *testing.T) {
	reg := newTestRegistry(t)
	obj := Object{
		TypeName: "Person",
		Fields: []value.Field{
			{Name: "email", Value: value.NewString("a@b")},
			{Name: "unexpected", Value: value.NewString("x")},
		},
	}
	_, err := Encode(obj, reg, false)
	if onerr.CodeOf(err) != onerr.CodeSuperfluousProperty {
		t.Fatalf("expected SuperfluousProperty, got %v", err)
	}
}

func TestEncodeMissingRequiredRule(t *testing.T) {
	reg := newTestRegistry(t)
	obj := Object{TypeName: "Person"}
	_, err := Encode(obj, reg, false)
	if onerr.CodeOf(err) != onerr.CodeRuleMissingValue {
		t.Fatalf("expected RuleMissingValue, got %v", err)
	}
}

func TestReferenceRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	h := fakeHash(0xab)
	obj := Object{
		TypeName: "Instance",
		Fields: []value.Field{
			{Name: "name", Value: value.NewString("X")},
			{Name: "owner", Value: value.NewReference(h, value.RefObj)},
		},
	}
	s, err := Encode(obj, reg, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(s, `<a itemprop="owner" data-type="obj">`+h+`</a>`) {
		t.Fatalf("reference not encoded as expected: %s", s)
	}
	got, _, err := Decode(s, reg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ownerV, ok := got.Field("owner")
	if !ok || ownerV.Str() != h || ownerV.RefKind() != value.RefObj {
		t.Fatalf("owner round-trip mismatch: %+v", ownerV)
	}
}
