package objectstore

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/refinio/one-core/onerr"
)

// VersionHeadEntry is one line of a vheads/<idHash> log: (timestamp,
// contentHash[, parentVersionHash]) (spec §3, §4.E).
type VersionHeadEntry struct {
	Timestamp         time.Time
	ContentHash       string
	ParentVersionHash string
}

// AppendVersionHead appends one entry to vheads/<idHash>, creating the file
// if absent. Writes use O_APPEND|O_CREATE|O_WRONLY so concurrent appenders
// never interleave partial lines (spec §4.D "Append operations").
func (s *Store) AppendVersionHead(idHash string, entry VersionHeadEntry) error {
	line := fmt.Sprintf("%s\t%s\t%s\n", entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.ContentHash, entry.ParentVersionHash)
	return s.appendLine(s.vheadPath(idHash), line)
}

// ReadVersionHeads returns every entry of vheads/<idHash>, in file order.
func (s *Store) ReadVersionHeads(idHash string) ([]VersionHeadEntry, error) {
	f, err := os.Open(s.vheadPath(idHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, onerr.Wrap(onerr.CodeReadStream, "read version heads for "+idHash, err)
	}
	defer f.Close()

	var entries []VersionHeadEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 2 {
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, parts[0])
		e := VersionHeadEntry{Timestamp: ts, ContentHash: parts[1]}
		if len(parts) == 3 {
			e.ParentVersionHash = parts[2]
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, onerr.Wrap(onerr.CodeReadStream, "scan version heads for "+idHash, err)
	}
	return entries, nil
}

// ReverseMapEntry is one line of a rmaps/<target>.<ReferrerType> log
// (spec §3, §4.E).
type ReverseMapEntry struct {
	ReferrerHash string
	Timestamp    time.Time
}

// AppendReverseMap appends one entry to rmaps/<target>.<referrerType>.
func (s *Store) AppendReverseMap(target, referrerType, referrerHash string, at time.Time) error {
	line := fmt.Sprintf("%s\t%s\n", referrerHash, at.UTC().Format(time.RFC3339Nano))
	return s.appendLine(s.rmapPath(target, referrerType), line)
}

// ReadReverseMap returns every entry referencing target from referrers of
// referrerType, or an empty slice if no such log exists (absence is not an
// error — an unreferenced object is a normal outcome, not a fault).
func (s *Store) ReadReverseMap(target, referrerType string) ([]ReverseMapEntry, error) {
	f, err := os.Open(s.rmapPath(target, referrerType))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, onerr.Wrap(onerr.CodeReadStream, "read reverse map for "+target, err)
	}
	defer f.Close()

	var entries []ReverseMapEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, parts[1])
		entries = append(entries, ReverseMapEntry{ReferrerHash: parts[0], Timestamp: ts})
	}
	if err := scanner.Err(); err != nil {
		return nil, onerr.Wrap(onerr.CodeReadStream, "scan reverse map for "+target, err)
	}
	return entries, nil
}

func (s *Store) appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return onerr.Wrap(onerr.CodeWriteStream, "open append log "+path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return onerr.Wrap(onerr.CodeWriteStream, "append to log "+path, err)
	}
	return nil
}
