// Package objectstore implements the content-addressed storage engine
// (spec §4.D): hash-sharded file placement, atomic temp→final object
// creation, append-only version-head and reverse-map logs, and streaming
// blob/clob I/O.
//
// Grounded on the teacher's storage/persistence-files.go FileStorage: write
// to a path, rename into place on success, treat a pre-existing target as a
// non-error "exists" outcome — generalized here from "per-column shard
// file" to "per-content-hash object file".
package objectstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/refinio/one-core/conc"
	"github.com/refinio/one-core/onerr"
)

// Config configures a Store at creation/open time (spec §6 external
// interfaces, supplemented by the instance.json artifact below).
type Config struct {
	BaseDir              string
	InstanceIDHash       string
	WipeStorage          bool
	NHashCharsForSubDirs int // 0..4
}

// instanceMeta is the supplemented instance.json artifact (SPEC_FULL.md §3):
// written once at store creation, re-read on open to fail fast on a
// shard-depth mismatch instead of silently misplacing reads.
type instanceMeta struct {
	NHashCharsForSubDirs int    `json:"nHashCharsForSubDirs"`
	CreatedAt            string `json:"createdAt"`
}

// Store is a single instance's on-disk object store rooted at
// baseDir/<instanceIdHash>/.
type Store struct {
	root                 string
	nHashCharsForSubDirs int
	serial               *conc.Serializer
}

const (
	dirObjects = "objects"
	dirTmp     = "tmp"
	dirRMaps   = "rmaps"
	dirVHeads  = "vheads"
	dirPrivate = "private"
	dirACache  = "acache"
)

// Open creates (if absent) or opens an existing store, validating the
// persisted shard depth against cfg (instance.json, SPEC_FULL.md §3).
func Open(cfg Config) (*Store, error) {
	if cfg.NHashCharsForSubDirs < 0 || cfg.NHashCharsForSubDirs > 4 {
		return nil, onerr.New(onerr.CodeFatalStorage, fmt.Sprintf("nHashCharsForSubDirs out of range [0,4]: %d", cfg.NHashCharsForSubDirs))
	}
	root := filepath.Join(cfg.BaseDir, cfg.InstanceIDHash)

	if cfg.WipeStorage {
		if err := os.RemoveAll(root); err != nil {
			return nil, onerr.Wrap(onerr.CodeFatalStorage, "wipe storage", err)
		}
	}

	for _, d := range []string{dirObjects, dirTmp, dirRMaps, dirVHeads, dirPrivate, dirACache} {
		if err := os.MkdirAll(filepath.Join(root, d), 0750); err != nil {
			return nil, onerr.Wrap(onerr.CodeFatalStorage, "create store directory "+d, err)
		}
	}

	metaPath := filepath.Join(root, "instance.json")
	if b, err := os.ReadFile(metaPath); err == nil {
		var meta instanceMeta
		if jerr := json.Unmarshal(b, &meta); jerr == nil {
			if meta.NHashCharsForSubDirs != cfg.NHashCharsForSubDirs {
				return nil, onerr.New(onerr.CodeFatalStorage, fmt.Sprintf(
					"shard depth mismatch: instance.json has %d, requested %d",
					meta.NHashCharsForSubDirs, cfg.NHashCharsForSubDirs))
			}
		}
	} else {
		meta := instanceMeta{NHashCharsForSubDirs: cfg.NHashCharsForSubDirs, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
		b, _ := json.MarshalIndent(meta, "", "  ")
		if err := os.WriteFile(metaPath, b, 0640); err != nil {
			return nil, onerr.Wrap(onerr.CodeFatalStorage, "write instance.json", err)
		}
	}

	if cfg.NHashCharsForSubDirs > 0 {
		if err := preCreateShards(filepath.Join(root, dirObjects), cfg.NHashCharsForSubDirs); err != nil {
			return nil, err
		}
	}

	return &Store{
		root:                 root,
		nHashCharsForSubDirs: cfg.NHashCharsForSubDirs,
		serial:               conc.NewSerializer(),
	}, nil
}

func preCreateShards(objectsDir string, k int) error {
	const hexDigits = "0123456789abcdef"
	var walk func(prefix string, depth int) error
	walk = func(prefix string, depth int) error {
		if depth == k {
			return os.MkdirAll(filepath.Join(objectsDir, prefix), 0750)
		}
		for _, c := range hexDigits {
			if err := walk(prefix+string(c), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("", 0); err != nil {
		return onerr.Wrap(onerr.CodeFatalStorage, "pre-create shard directories", err)
	}
	return nil
}

// shardPath returns the final path of an objects/ file for hash H, honoring
// the configured shard depth (spec §4.D).
func (s *Store) shardPath(hash string) string {
	if s.nHashCharsForSubDirs == 0 {
		return filepath.Join(s.root, dirObjects, hash)
	}
	return filepath.Join(s.root, dirObjects, hash[:s.nHashCharsForSubDirs], hash)
}

func (s *Store) tmpPath() string {
	return filepath.Join(s.root, dirTmp, uuid.NewString())
}

func (s *Store) vheadPath(idHash string) string   { return filepath.Join(s.root, dirVHeads, idHash) }
func (s *Store) privatePath(name string) string   { return filepath.Join(s.root, dirPrivate, name) }
func (s *Store) rmapPath(target, refType string) string {
	return filepath.Join(s.root, dirRMaps, target+"."+refType)
}

// Root returns the store's root directory, for callers that need to reach
// the ACache or other ad-hoc scratch space directly.
func (s *Store) Root() string { return s.root }
