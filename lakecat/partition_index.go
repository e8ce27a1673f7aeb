package lakecat

import (
	"iter"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// PartitionIndex maps partition keys to the manifests registered under them.
//
// The index owns a table's manifest arena: the FileID of a manifest is its
// position in registration order. Entries are only ever appended, so a
// snapshot's bitmap stays valid against any later state of the index.
type PartitionIndex struct {
	table TableName
	spec  PartitionSpec

	mu     sync.RWMutex
	files  []*FileManifest
	parts  map[string]*partitionEntry
	sorted []*partitionEntry
}

type partitionEntry struct {
	key   PartitionKey
	files *roaring.Bitmap
}

// NewPartitionIndex creates an empty index for a table partitioned by spec.
func NewPartitionIndex(table TableName, spec PartitionSpec) *PartitionIndex {
	return &PartitionIndex{
		table: table,
		spec:  slices.Clone(spec),
		parts: make(map[string]*partitionEntry),
	}
}

// Spec returns the partition spec of the index.
func (x *PartitionIndex) Spec() PartitionSpec {
	return slices.Clone(x.spec)
}

// Len returns the number of registered manifests, which is also the next
// FileID to be assigned.
func (x *PartitionIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.files)
}

// Key derives the partition key of fm without registering it. The key is
// built from the declared values and the path, and cross-checked against
// the source columns' statistics.
func (x *PartitionIndex) Key(fm *FileManifest) (PartitionKey, error) {
	return deriveKey(x.table, x.spec, fm)
}

// Register derives the key of fm, assigns the next FileID and records it.
// The manifest must not be modified afterwards.
func (x *PartitionIndex) Register(fm *FileManifest) (PartitionKey, error) {
	key, err := x.Key(fm)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	fm.ID = FileID(len(x.files))
	fm.Partition = key
	x.addLocked(fm)
	return key, nil
}

// add records manifests whose IDs and keys were assigned by the caller.
// IDs must continue the arena without gaps.
func (x *PartitionIndex) add(fms []*FileManifest) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, fm := range fms {
		x.addLocked(fm)
	}
}

func (x *PartitionIndex) addLocked(fm *FileManifest) {
	canon := fm.Partition.canonical()
	entry, ok := x.parts[canon]
	if !ok {
		entry = &partitionEntry{key: fm.Partition, files: roaring.New()}
		x.parts[canon] = entry
		i, _ := slices.BinarySearchFunc(x.sorted, entry.key, compareEntryKey)
		x.sorted = slices.Insert(x.sorted, i, entry)
	}
	entry.files.Add(uint32(fm.ID))
	x.files = append(x.files, fm)
}

func compareEntryKey(e *partitionEntry, key PartitionKey) int {
	return comparePartitionKeys(e.key, key)
}

func comparePartitionKeys(a, b PartitionKey) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := ComparePartitionValues(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// Manifest returns the manifest with the given ID.
func (x *PartitionIndex) Manifest(id FileID) (*FileManifest, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if int(id) >= len(x.files) {
		return nil, false
	}
	return x.files[id], true
}

// selectFiles returns the IDs of files active in snap whose partition
// matches pred, together with a view of the arena that covers them.
//
// Only partition entries are visited, never individual files.
func (x *PartitionIndex) selectFiles(snap *Snapshot, pred Predicate) (*roaring.Bitmap, []*FileManifest) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	arena := x.files[:len(x.files):len(x.files)]
	if snap == nil || snap.files == nil {
		return roaring.New(), arena
	}
	if pred == nil {
		return snap.files.Clone(), arena
	}
	var matched []*roaring.Bitmap
	for _, e := range x.sorted {
		if pred.Match(e.key) {
			matched = append(matched, e.files)
		}
	}
	union := roaring.FastOr(matched...)
	union.And(snap.files)
	return union, arena
}

// FilesFor returns the manifests active in snap whose partition key
// satisfies pred, in FileID order.
//
// The sequence is lazy: nothing is computed until it is ranged over, and
// each range recomputes from the immutable snapshot, so it can be iterated
// any number of times with identical results.
func (x *PartitionIndex) FilesFor(snap *Snapshot, pred Predicate) iter.Seq[*FileManifest] {
	return func(yield func(*FileManifest) bool) {
		ids, arena := x.selectFiles(snap, pred)
		it := ids.Iterator()
		for it.HasNext() {
			if !yield(arena[it.Next()]) {
				return
			}
		}
	}
}

// Partitions returns the keys with at least one file active in snap, in key
// order.
func (x *PartitionIndex) Partitions(snap *Snapshot) []PartitionKey {
	var keys []PartitionKey
	x.eachPartition(snap, nil, func(key PartitionKey, _ *roaring.Bitmap) {
		keys = append(keys, key)
	})
	return keys
}

// eachPartition calls fn for every partition matching pred that has files
// active in snap, with the active subset of its files.
func (x *PartitionIndex) eachPartition(snap *Snapshot, pred Predicate, fn func(PartitionKey, *roaring.Bitmap)) {
	if snap == nil || snap.files == nil {
		return
	}
	x.mu.RLock()
	entries := slices.Clone(x.sorted)
	x.mu.RUnlock()
	for _, e := range entries {
		if !matches(pred, e.key) {
			continue
		}
		x.mu.RLock()
		active := roaring.And(e.files, snap.files)
		x.mu.RUnlock()
		if !active.IsEmpty() {
			fn(e.key, active)
		}
	}
}
