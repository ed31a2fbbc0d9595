package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/refinio/one-core/microdata"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/value"
)

// IntegrityFailure describes one defect found by ScanIntegrity. Failures
// are reported, never acted on — the scan never mutates the store
// (spec §4.D "Integrity scan").
type IntegrityFailure struct {
	Hash   string
	Reason string
}

// ScanIntegrity re-reads every object file, verifies its name matches the
// recomputed content hash, and — for files that decode as microdata —
// verifies every declared reference points at an existing file.
func (s *Store) ScanIntegrity(reg *recipe.Registry, onFailure func(IntegrityFailure)) error {
	hashes, err := s.ListAllObjectHashes()
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		s.scanOne(hash, reg, onFailure)
	}
	return nil
}

func (s *Store) scanOne(hash string, reg *recipe.Registry, onFailure func(IntegrityFailure)) {
	data, err := os.ReadFile(s.shardPath(hash))
	if err != nil {
		onFailure(IntegrityFailure{Hash: hash, Reason: "unreadable: " + err.Error()})
		return
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		onFailure(IntegrityFailure{Hash: hash, Reason: "content hash does not match file name"})
		return
	}

	obj, _, decErr := microdata.Decode(string(data), reg)
	if decErr != nil {
		// Not a microdata object (a blob or clob) — no references to check.
		return
	}

	WalkReferences(value.NewRecord(obj.Fields), func(ref value.Value) {
		if !s.Exists(ref.Str()) {
			onFailure(IntegrityFailure{
				Hash:   hash,
				Reason: "dangling reference " + ref.Str() + " (" + ref.RefKind().String() + ")",
			})
		}
	})
}

// WalkReferences recursively visits every value.KindReference reachable
// from v, descending into lists, bags, sets, maps, and nested records
// (spec §3 valueType grammar), so callers need not special-case where in
// the shape a reference can appear.
func WalkReferences(v value.Value, fn func(value.Value)) {
	switch v.Kind() {
	case value.KindReference:
		fn(v)
	case value.KindList, value.KindBag, value.KindSet:
		for _, item := range v.List() {
			WalkReferences(item, fn)
		}
	case value.KindMap:
		for _, e := range v.Entries() {
			WalkReferences(e.Key, fn)
			WalkReferences(e.Value, fn)
		}
	case value.KindRecord:
		for _, f := range v.Fields() {
			WalkReferences(f.Value, fn)
		}
	}
}
