// Package versioned implements the versioned-object layer on top of
// objectstore: version chains keyed by ID hash, the current-version
// projection, and reverse-map population (spec §4.E).
//
// Grounded on storage/partition.go's "append a new generation, recompute
// the live head" pattern for shard generations, generalized here from
// "table shard generation" to "object version chain", and on
// storage/index.go's use of github.com/google/btree for an in-memory
// index (here: the set of ID hashes this Layer has appended version heads
// for; no vheads offset is recorded and no read path consults it).
package versioned

import (
	"time"

	"github.com/google/btree"

	"github.com/refinio/one-core/microdata"
	"github.com/refinio/one-core/objectstore"
	"github.com/refinio/one-core/onerr"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/value"
)

// EventKind names the three store events dispatch (§4.G) subscribes to.
type EventKind int

const (
	EventNewVersioned EventKind = iota
	EventNewUnversioned
	EventNewID
)

// Event is what StoreVersionedObject/StoreUnversionedObject hand to a
// subscriber after a successful write (never on a pure "exists" swallow,
// per spec §4.E step 4).
type Event struct {
	Kind     EventKind
	TypeName string
	IDHash   string // empty for unversioned objects
	Hash     string
	Object   microdata.Object // the object as written, for dispatch (§4.G) to deep-freeze and enqueue
}

// Layer couples an objectstore.Store and recipe.Registry with the set of
// reverse-map target types that are actually populated on write, plus an
// optional in-memory index of the ID hashes it has written version heads for.
type Layer struct {
	store   *objectstore.Store
	reg     *recipe.Registry
	enabled map[string]bool // enabled reverse-map *referrer* type names

	index *btree.BTreeG[indexEntry] // nil if indexing is disabled
}

type indexEntry struct {
	idHash string
	offset int64
}

func lessIndexEntry(a, b indexEntry) bool { return a.idHash < b.idHash }

// Option configures a Layer at construction time.
type Option func(*Layer)

// WithEnabledReverseMapTypes restricts reverse-map population to the
// given set of referrer type names; the zero value (no option) enables
// all types.
func WithEnabledReverseMapTypes(typeNames ...string) Option {
	return func(l *Layer) {
		l.enabled = make(map[string]bool, len(typeNames))
		for _, t := range typeNames {
			l.enabled[t] = true
		}
	}
}

// WithIndex turns on an in-memory btree that records each ID hash this
// Layer appends a version head for. The entry's offset is left at zero and
// no lookup reads the index; reads always go to vheads/.
func WithIndex() Option {
	return func(l *Layer) {
		l.index = btree.NewG[indexEntry](32, lessIndexEntry)
	}
}

// New builds a versioned-object layer over store/reg.
func New(store *objectstore.Store, reg *recipe.Registry, opts ...Option) *Layer {
	l := &Layer{store: store, reg: reg}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StoreVersionedObject implements spec §4.E steps 1-4: validate, compute
// both hashes, write the microdata file, append a version-head entry, and
// populate reverse maps. onEvent is called exactly once, only on a
// genuinely new write (status "new"); an "exists" write swallows silently.
func (l *Layer) StoreVersionedObject(obj microdata.Object, parentVersionHash string, onEvent func(Event)) (idHash, hash string, err error) {
	idHash, err = microdata.IDHash(obj, l.reg)
	if err != nil {
		return "", "", err
	}
	hash, err = microdata.ContentHash(obj, l.reg)
	if err != nil {
		return "", "", err
	}

	line, err := microdata.Encode(obj, l.reg, false)
	if err != nil {
		return "", "", err
	}
	_, status, err := l.store.CreateObject(line)
	if err != nil {
		return "", "", err
	}

	now := l.clock()
	if err := l.store.AppendVersionHead(idHash, objectstore.VersionHeadEntry{
		Timestamp:         now,
		ContentHash:       hash,
		ParentVersionHash: parentVersionHash,
	}); err != nil {
		return "", "", err
	}
	l.noteOffset(idHash)

	if status == objectstore.StatusNew {
		if err := l.populateReverseMaps(obj, hash, now); err != nil {
			return "", "", err
		}
		if onEvent != nil {
			onEvent(Event{Kind: EventNewVersioned, TypeName: obj.TypeName, IDHash: idHash, Hash: hash, Object: obj})
		}
	}
	return idHash, hash, nil
}

// StoreUnversionedObject writes an object addressed only by content hash
// (no vheads entry). onEvent fires only for a genuinely new write.
func (l *Layer) StoreUnversionedObject(obj microdata.Object, onEvent func(Event)) (hash string, err error) {
	line, err := microdata.Encode(obj, l.reg, false)
	if err != nil {
		return "", err
	}
	hash, status, err := l.store.CreateObject(line)
	if err != nil {
		return "", err
	}
	if status == objectstore.StatusNew {
		if err := l.populateReverseMaps(obj, hash, l.clock()); err != nil {
			return "", err
		}
		if onEvent != nil {
			onEvent(Event{Kind: EventNewUnversioned, TypeName: obj.TypeName, Hash: hash, Object: obj})
		}
	}
	return hash, nil
}

// GetCurrentVersion reads the final entry of vheads/<idHash>, loads the
// object at that content hash, and decodes it.
func (l *Layer) GetCurrentVersion(idHash string) (microdata.Object, error) {
	entries, err := l.store.ReadVersionHeads(idHash)
	if err != nil {
		return microdata.Object{}, err
	}
	if len(entries) == 0 {
		return microdata.Object{}, onerr.New(onerr.CodeFileNotFound, "no version head for "+idHash)
	}
	return l.loadObject(entries[len(entries)-1].ContentHash)
}

// GetVersionNodes returns every vheads/<idHash> entry, in file order.
func (l *Layer) GetVersionNodes(idHash string) ([]objectstore.VersionHeadEntry, error) {
	return l.store.ReadVersionHeads(idHash)
}

// GetIDObject materializes the ID-only projection of idHash's current
// version and verifies the recomputed ID hash matches, per spec §4.E.
func (l *Layer) GetIDObject(idHash string) (microdata.Object, error) {
	obj, err := l.GetCurrentVersion(idHash)
	if err != nil {
		return microdata.Object{}, err
	}

	rec, err := l.reg.Get(obj.TypeName)
	if err != nil {
		return microdata.Object{}, err
	}
	idRules := rec.IDRules()
	idFields := make([]value.Field, 0, len(idRules))
	for _, rule := range idRules {
		if v, ok := obj.Field(rule.FieldName); ok {
			idFields = append(idFields, value.Field{Name: rule.FieldName, Value: v})
		}
	}
	idObj := microdata.Object{TypeName: obj.TypeName, Fields: idFields}

	recomputed, err := microdata.IDHash(idObj, l.reg)
	if err != nil {
		return microdata.Object{}, err
	}
	if recomputed != idHash {
		return microdata.Object{}, onerr.New(onerr.CodeTypeMismatch, "id object hash mismatch for "+idHash)
	}
	return idObj, nil
}

func (l *Layer) loadObject(hash string) (microdata.Object, error) {
	r, err := l.store.Open(hash)
	if err != nil {
		return microdata.Object{}, err
	}
	defer r.Close()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, readErr := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if readErr != nil {
			break
		}
	}

	obj, _, err := microdata.Decode(string(buf), l.reg)
	return obj, err
}

// populateReverseMaps appends (H, now) to rmaps/<target>.<Referrer$type$>
// for every reference reachable from obj's fields — including references
// nested inside arrays, bags, sets, maps, and nested objects — restricted
// to the enabled referrer type set (spec §4.E).
func (l *Layer) populateReverseMaps(obj microdata.Object, hash string, now time.Time) error {
	if l.enabled != nil && !l.enabled[obj.TypeName] {
		return nil
	}
	var walkErr error
	objectstore.WalkReferences(value.NewRecord(obj.Fields), func(ref value.Value) {
		if walkErr != nil {
			return
		}
		walkErr = l.store.AppendReverseMap(ref.Str(), obj.TypeName, hash, now)
	})
	return walkErr
}

func (l *Layer) noteOffset(idHash string) {
	if l.index == nil {
		return
	}
	l.index.ReplaceOrInsert(indexEntry{idHash: idHash})
}

// clock is a seam so tests can stub time; production uses time.Now.
var nowFn = time.Now

func (l *Layer) clock() time.Time { return nowFn() }
