package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/refinio/one-core/onerr"
	"github.com/refinio/one-core/recipe"
)

func openTestStore(t *testing.T, nHashChars int) *Store {
	t.Helper()
	s, err := Open(Config{
		BaseDir:              t.TempDir(),
		InstanceIDHash:       "instance1",
		NHashCharsForSubDirs: nHashChars,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestCreateBlobNewThenExists(t *testing.T) {
	s := openTestStore(t, 2)

	hash, status, err := s.CreateBlob(strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("CreateBlob: %v", err)
	}
	if status != StatusNew {
		t.Fatalf("status = %s, want new", status)
	}
	sum := sha256.Sum256([]byte("hello world"))
	if hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash mismatch")
	}

	hash2, status2, err := s.CreateBlob(strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("CreateBlob (2nd): %v", err)
	}
	if hash2 != hash {
		t.Fatalf("hash changed between calls")
	}
	if status2 != StatusExists {
		t.Fatalf("status = %s, want exists", status2)
	}
}

func TestCreateBlobZeroBytes(t *testing.T) {
	s := openTestStore(t, 0)
	hash, _, err := s.CreateBlob(strings.NewReader(""))
	if err != nil {
		t.Fatalf("CreateBlob: %v", err)
	}
	wellKnown := sha256.Sum256(nil)
	if hash != hex.EncodeToString(wellKnown[:]) {
		t.Fatalf("zero-byte hash mismatch: got %s", hash)
	}
}

func TestOpenRoundTrip(t *testing.T) {
	s := openTestStore(t, 1)
	hash, _, err := s.CreateClob("some clob text")
	if err != nil {
		t.Fatalf("CreateClob: %v", err)
	}
	r, err := s.Open(hash)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	buf := make([]byte, 32)
	n, _ := r.Read(buf)
	if string(buf[:n]) != "some clob text" {
		t.Fatalf("read back %q, want %q", buf[:n], "some clob text")
	}
}

func TestOpenMissingReturnsFileNotFound(t *testing.T) {
	s := openTestStore(t, 0)
	_, err := s.Open(strings.Repeat("0", 64))
	if onerr.CodeOf(err) != onerr.CodeFileNotFound {
		t.Fatalf("expected FileNotFound, got %v", err)
	}
}

func TestInstanceJSONShardDepthMismatchFails(t *testing.T) {
	base := t.TempDir()
	_, err := Open(Config{BaseDir: base, InstanceIDHash: "i1", NHashCharsForSubDirs: 2})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	_, err = Open(Config{BaseDir: base, InstanceIDHash: "i1", NHashCharsForSubDirs: 3})
	if err == nil {
		t.Fatal("expected shard-depth mismatch to fail")
	}
	if onerr.CodeOf(err) != onerr.CodeFatalStorage {
		t.Fatalf("expected FatalStorage, got %v", err)
	}
}

func TestAppendVersionHeadAndRead(t *testing.T) {
	s := openTestStore(t, 0)
	idHash := strings.Repeat("a", 64)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := s.AppendVersionHead(idHash, VersionHeadEntry{Timestamp: now, ContentHash: strings.Repeat("1", 64)}); err != nil {
		t.Fatalf("AppendVersionHead: %v", err)
	}
	if err := s.AppendVersionHead(idHash, VersionHeadEntry{Timestamp: now.Add(time.Second), ContentHash: strings.Repeat("2", 64)}); err != nil {
		t.Fatalf("AppendVersionHead: %v", err)
	}

	entries, err := s.ReadVersionHeads(idHash)
	if err != nil {
		t.Fatalf("ReadVersionHeads: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[len(entries)-1].ContentHash != strings.Repeat("2", 64) {
		t.Fatalf("last entry's content hash mismatch")
	}
}

func TestReadVersionHeadsAbsentIsEmptyNotError(t *testing.T) {
	s := openTestStore(t, 0)
	entries, err := s.ReadVersionHeads(strings.Repeat("f", 64))
	if err != nil {
		t.Fatalf("expected no error for absent vheads, got %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty slice, got %v", entries)
	}
}

func TestReverseMapAppendAndRead(t *testing.T) {
	s := openTestStore(t, 0)
	target := strings.Repeat("b", 64)
	now := time.Now()
	if err := s.AppendReverseMap(target, "Person", strings.Repeat("c", 64), now); err != nil {
		t.Fatalf("AppendReverseMap: %v", err)
	}
	entries, err := s.ReadReverseMap(target, "Person")
	if err != nil {
		t.Fatalf("ReadReverseMap: %v", err)
	}
	if len(entries) != 1 || entries[0].ReferrerHash != strings.Repeat("c", 64) {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	// Absent reverse map = empty result, not an error (Open Question decision).
	empty, err := s.ReadReverseMap(target, "Unreferenced$Type")
	if err != nil {
		t.Fatalf("expected no error for absent rmap, got %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty slice, got %v", empty)
	}
}

func TestListAllObjectHashes(t *testing.T) {
	s := openTestStore(t, 2)
	h1, _, _ := s.CreateBlob(strings.NewReader("one"))
	h2, _, _ := s.CreateBlob(strings.NewReader("two"))

	hashes, err := s.ListAllObjectHashes()
	if err != nil {
		t.Fatalf("ListAllObjectHashes: %v", err)
	}
	set := map[string]bool{}
	for _, h := range hashes {
		set[h] = true
	}
	if !set[h1] || !set[h2] {
		t.Fatalf("expected both hashes listed, got %v", hashes)
	}
}

func TestScanIntegrityDetectsDanglingReference(t *testing.T) {
	s := openTestStore(t, 0)
	reg := recipe.NewRegistry()
	if err := reg.Register(&recipe.Recipe{
		TypeName: "Thing",
		Rules: []recipe.Rule{
			{FieldName: "ref", Type: recipe.ValueType{Kind: recipe.VReferenceToObj}},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	missing := strings.Repeat("9", 64)
	microdataLine := `<div itemscope itemtype="//refin.io/Thing"><a itemprop="ref" data-type="obj">` + missing + `</a></div>`
	if _, _, err := s.CreateObject(microdataLine); err != nil {
		t.Fatalf("CreateObject: %v", err)
	}

	var failures []IntegrityFailure
	if err := s.ScanIntegrity(reg, func(f IntegrityFailure) { failures = append(failures, f) }); err != nil {
		t.Fatalf("ScanIntegrity: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d: %+v", len(failures), failures)
	}
	if !strings.Contains(failures[0].Reason, "dangling reference") {
		t.Fatalf("unexpected failure reason: %s", failures[0].Reason)
	}
}

func TestScanIntegrityCleanStorePasses(t *testing.T) {
	s := openTestStore(t, 0)
	reg := recipe.NewRegistry()
	if err := reg.Register(&recipe.Recipe{
		TypeName: "Thing",
		Rules: []recipe.Rule{
			{FieldName: "ref", Type: recipe.ValueType{Kind: recipe.VReferenceToObj}},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	targetHash, _, err := s.CreateBlob(strings.NewReader("target content"))
	if err != nil {
		t.Fatalf("CreateBlob: %v", err)
	}
	microdataLine := `<div itemscope itemtype="//refin.io/Thing"><a itemprop="ref" data-type="obj">` + targetHash + `</a></div>`
	if _, _, err := s.CreateObject(microdataLine); err != nil {
		t.Fatalf("CreateObject: %v", err)
	}

	var failures []IntegrityFailure
	if err := s.ScanIntegrity(reg, func(f IntegrityFailure) { failures = append(failures, f) }); err != nil {
		t.Fatalf("ScanIntegrity: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected no failures, got %+v", failures)
	}
}

func TestPrivateAreaRoundTrip(t *testing.T) {
	s := openTestStore(t, 0)
	pa := NewPrivateArea(s, "correct horse battery staple")

	if err := pa.Write("secret", []byte("sensitive bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := pa.Read("secret")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "sensitive bytes" {
		t.Fatalf("got %q, want %q", got, "sensitive bytes")
	}

	wrongPass := NewPrivateArea(s, "wrong passphrase")
	if _, err := wrongPass.Read("secret"); err == nil {
		t.Fatal("expected decryption with wrong passphrase to fail")
	}
}

func TestWritePrivateRejectsExistingName(t *testing.T) {
	s := openTestStore(t, 0)

	if err := s.WritePrivate("secret", []byte("first")); err != nil {
		t.Fatalf("WritePrivate: %v", err)
	}
	err := s.WritePrivate("secret", []byte("second"))
	if err == nil {
		t.Fatal("expected second WritePrivate with the same name to fail")
	}
	if onerr.CodeOf(err) != onerr.CodeAlreadyExists {
		t.Fatalf("got code %q, want %q", onerr.CodeOf(err), onerr.CodeAlreadyExists)
	}

	got, readErr := s.ReadPrivate("secret")
	if readErr != nil {
		t.Fatalf("ReadPrivate: %v", readErr)
	}
	if string(got) != "first" {
		t.Fatalf("rejected write clobbered existing content: got %q, want %q", got, "first")
	}
}
