package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/refinio/one-core/onerr"
)

// CreateStatus reports whether a content-addressed write produced a new
// file or found one already in place (spec §4.D).
type CreateStatus string

const (
	StatusNew    CreateStatus = "new"
	StatusExists CreateStatus = "exists"
)

// CreateObject writes an already-canonically-encoded microdata line as a
// content-addressed object file (spec §4.D "Object creation").
func (s *Store) CreateObject(microdataLine string) (hash string, status CreateStatus, err error) {
	return s.createFromReader(strings.NewReader(microdataLine))
}

// CreateBlob writes arbitrary bytes, content-addressed by their SHA-256.
// Zero-byte blobs are legal and yield the well-known all-zero-input hash.
func (s *Store) CreateBlob(r io.Reader) (hash string, status CreateStatus, err error) {
	return s.createFromReader(r)
}

// CreateClob writes UTF-8 text, content-addressed by its SHA-256.
func (s *Store) CreateClob(text string) (hash string, status CreateStatus, err error) {
	if !utf8.ValidString(text) {
		return "", "", onerr.New(onerr.CodeWriteStream, "clob content is not valid UTF-8")
	}
	return s.createFromReader(strings.NewReader(text))
}

// createFromReader implements the write-to-tmp / hash-incrementally /
// atomic-rename discipline (spec §4.D), grounded on
// storage/persistence-files.go's WriteSchema (write, then rename into
// place, treating a pre-existing target as non-fatal).
func (s *Store) createFromReader(r io.Reader) (hash string, status CreateStatus, err error) {
	tmpPath := s.tmpPath()
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", "", onerr.Wrap(onerr.CodeWriteStream, "create temp file", err)
	}

	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(f, h), r)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return "", "", onerr.Wrap(onerr.CodeWriteStream, "write temp file", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", "", onerr.Wrap(onerr.CodeWriteStream, "close temp file", closeErr)
	}

	hash = hex.EncodeToString(h.Sum(nil))
	final := s.shardPath(hash)

	var result CreateStatus
	serialErr := s.serial.RunSerial("write:"+hash, func() error {
		if _, statErr := os.Stat(final); statErr == nil {
			os.Remove(tmpPath)
			result = StatusExists
			return nil
		}
		if renameErr := os.Rename(tmpPath, final); renameErr != nil {
			if errors.Is(renameErr, os.ErrNotExist) || os.IsNotExist(renameErr) {
				return onerr.Wrap(onerr.CodeFatalStorage, "rename target directory missing for "+hash, renameErr)
			}
			// Lost the creation race: the target now exists.
			if _, statErr := os.Stat(final); statErr == nil {
				os.Remove(tmpPath)
				result = StatusExists
				return nil
			}
			return onerr.Wrap(onerr.CodeWriteStream, "rename temp file into place", renameErr)
		}
		result = StatusNew
		return nil
	})
	if serialErr != nil {
		return "", "", serialErr
	}
	return hash, result, nil
}

// Open returns a streaming reader for the object/blob/clob file named hash.
func (s *Store) Open(hash string) (io.ReadCloser, error) {
	f, err := os.Open(s.shardPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, onerr.Wrap(onerr.CodeFileNotFound, "no object with hash "+hash, err)
		}
		return nil, onerr.Wrap(onerr.CodeReadStream, "open object "+hash, err)
	}
	return f, nil
}

// Exists reports whether a content-addressed file named hash is present.
func (s *Store) Exists(hash string) bool {
	_, err := os.Stat(s.shardPath(hash))
	return err == nil
}

// WritePrivate writes opaque bytes under private/<name>. Writes are
// exclusive-create: an existing file of the same name is left untouched
// and reported as CodeAlreadyExists (spec §3/§6/§7 "Private file").
func (s *Store) WritePrivate(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.privatePath(name)), 0750); err != nil {
		return onerr.Wrap(onerr.CodeWriteStream, "create private directory", err)
	}
	f, err := os.OpenFile(s.privatePath(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		if os.IsExist(err) {
			return onerr.New(onerr.CodeAlreadyExists, "private file already exists: "+name)
		}
		return onerr.Wrap(onerr.CodeWriteStream, "write private file "+name, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return onerr.Wrap(onerr.CodeWriteStream, "write private file "+name, err)
	}
	return nil
}

// ReadPrivate reads back bytes written by WritePrivate.
func (s *Store) ReadPrivate(name string) ([]byte, error) {
	b, err := os.ReadFile(s.privatePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, onerr.Wrap(onerr.CodeFileNotFound, "no private file "+name, err)
		}
		return nil, onerr.Wrap(onerr.CodeReadStream, "read private file "+name, err)
	}
	return b, nil
}
