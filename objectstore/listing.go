package objectstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/refinio/one-core/onerr"
)

// ListAllObjectHashes walks objects/ (respecting the configured shard
// depth) and returns every leaf file name (spec §4.D "Listing").
func (s *Store) ListAllObjectHashes() ([]string, error) {
	root := filepath.Join(s.root, dirObjects)
	var hashes []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		hashes = append(hashes, d.Name())
		return nil
	})
	if err != nil {
		return nil, onerr.Wrap(onerr.CodeReadStream, "walk objects directory", err)
	}
	return hashes, nil
}

// ListAllIDHashes lists vheads/, i.e. every ID hash that has at least one
// stored version.
func (s *Store) ListAllIDHashes() ([]string, error) {
	return listDirNames(filepath.Join(s.root, dirVHeads))
}

// ListAllReverseMapNames lists rmaps/, optionally filtered by prefix (the
// target hash or target.ReferrerType stem).
func (s *Store) ListAllReverseMapNames(prefix string) ([]string, error) {
	names, err := listDirNames(filepath.Join(s.root, dirRMaps))
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		return names, nil
	}
	var filtered []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

func listDirNamesIncludingDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, onerr.Wrap(onerr.CodeReadStream, "list directory "+dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func listDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, onerr.Wrap(onerr.CodeReadStream, "list directory "+dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
