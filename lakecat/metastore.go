package lakecat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// ObjectMetaStore persists catalog records as objects in a Store.
//
// Every schema version and snapshot is its own write-once object. Put never
// overwrites, so writing version N+1 of a table succeeds for exactly one
// writer; that is the compare-and-swap on the current version. Stores that
// implement ConditionalWriter also maintain a HEAD pointer per table, which
// lets Load find records that a lagging listing does not show yet.
//
// All writers sharing a store must use the same compressor.
type ObjectMetaStore struct {
	store      Store
	compressor Compressor
}

// MetaOption configures NewObjectMetaStore.
type MetaOption func(*ObjectMetaStore)

// WithCompressor compresses records. Default: noop.
func WithCompressor(c Compressor) MetaOption {
	return func(m *ObjectMetaStore) {
		if c != nil {
			m.compressor = c
		}
	}
}

// NewObjectMetaStore creates a MetaStore over the store built by factory.
func NewObjectMetaStore(factory StoreFactory, opts ...MetaOption) (*ObjectMetaStore, error) {
	if factory == nil {
		return nil, errors.New("lakecat: store factory is required")
	}
	store, err := factory()
	if err != nil {
		return nil, fmt.Errorf("lakecat: store factory failed: %w", err)
	}
	if store == nil {
		return nil, errors.New("lakecat: store factory returned nil store")
	}
	m := &ObjectMetaStore{store: store, compressor: NewNoOpCompressor()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Store returns the underlying object store.
func (m *ObjectMetaStore) Store() Store {
	return m.store
}

// Load reads every record in the store.
func (m *ObjectMetaStore) Load(ctx context.Context) (*CatalogState, error) {
	keys, err := m.store.List(ctx, tablesDir+"/")
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	state := &CatalogState{}
	seen := make(map[recordRef]string)
	latest := make(map[TableName]SnapshotID)
	var heads []string
	for _, key := range keys {
		if _, ok := parseHeadKey(key); ok {
			heads = append(heads, key)
			continue
		}
		ref, ok := parseRecordKey(key)
		if !ok {
			continue
		}
		if prev, dup := seen[ref]; dup {
			return nil, fmt.Errorf("%w: %q and %q hold the same record", ErrCatalogIntegrity, prev, key)
		}
		seen[ref] = key
		if err := m.loadRecord(ctx, key, ref, state); err != nil {
			return nil, err
		}
		if ref.kind == snapshotsDir {
			latest[ref.table] = max(latest[ref.table], SnapshotID(ref.version))
		}
	}

	for _, key := range heads {
		table, _ := parseHeadKey(key)
		head, err := m.readHead(ctx, table)
		if err != nil {
			return nil, err
		}
		for v := latest[table] + 1; v <= head; v++ {
			key := snapshotKey(table, v, m.compressor)
			if _, dup := seen[recordRef{table: table, kind: snapshotsDir, version: uint64(v)}]; dup {
				continue
			}
			err := m.loadRecord(ctx, key, recordRef{table: table, kind: snapshotsDir, version: uint64(v)}, state)
			if errors.Is(err, ErrNotFound) {
				break
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return state, nil
}

func (m *ObjectMetaStore) loadRecord(ctx context.Context, key string, ref recordRef, state *CatalogState) error {
	rc, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("read %q: %w", key, err)
	}
	defer closer(rc)()

	c := compressorForExtension(key)
	switch ref.kind {
	case schemasDir:
		var rec SchemaRecord
		if err := decodeRecord(rc, c, &rec); err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}
		if rec.Table != ref.table || rec.Version != int(ref.version) {
			return fmt.Errorf("%w: %q holds schema %q v%d", ErrCatalogIntegrity, key, rec.Table, rec.Version)
		}
		state.Schemas = append(state.Schemas, rec)
	case snapshotsDir:
		var rec SnapshotRecord
		if err := decodeRecord(rc, c, &rec); err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}
		if rec.Table != ref.table || uint64(rec.Version) != ref.version {
			return fmt.Errorf("%w: %q holds snapshot %q v%d", ErrCatalogIntegrity, key, rec.Table, rec.Version)
		}
		state.Snapshots = append(state.Snapshots, rec)
	}
	return nil
}

// PutSchema writes a schema version. An existing version returns
// ErrSnapshotConflict.
func (m *ObjectMetaStore) PutSchema(ctx context.Context, rec SchemaRecord) error {
	data, err := encodeRecord(rec, m.compressor)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	if err := m.store.Put(ctx, schemaKey(rec.Table, rec.Version, m.compressor), bytes.NewReader(data)); err != nil {
		if errors.Is(err, ErrPathExists) {
			return ErrSnapshotConflict
		}
		return err
	}
	return nil
}

// AppendSnapshot writes the snapshot if its parent is the latest version.
func (m *ObjectMetaStore) AppendSnapshot(ctx context.Context, rec SnapshotRecord) error {
	if rec.Version != rec.Parent+1 {
		return fmt.Errorf("lakecat: snapshot %d does not follow parent %d", rec.Version, rec.Parent)
	}
	if rec.Parent > 0 {
		ok, err := m.store.Exists(ctx, snapshotKey(rec.Table, rec.Parent, m.compressor))
		if err != nil {
			return err
		}
		if !ok {
			return ErrSnapshotConflict
		}
	}
	data, err := encodeRecord(rec, m.compressor)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := m.store.Put(ctx, snapshotKey(rec.Table, rec.Version, m.compressor), bytes.NewReader(data)); err != nil {
		if errors.Is(err, ErrPathExists) {
			return ErrSnapshotConflict
		}
		return err
	}
	if cw, ok := m.store.(ConditionalWriter); ok {
		m.advanceHead(ctx, cw, rec.Table, rec.Parent, rec.Version)
	}
	return nil
}

// advanceHead moves the HEAD pointer forward. The version object is already
// durable, so failures only leave the pointer behind, which Load tolerates.
func (m *ObjectMetaStore) advanceHead(ctx context.Context, cw ConditionalWriter, table TableName, parent, version SnapshotID) {
	expected := ""
	if parent > 0 {
		expected = strconv.FormatUint(uint64(parent), 10)
	}
	next := strconv.FormatUint(uint64(version), 10)
	err := cw.CompareAndSwap(ctx, headKey(table), expected, next)
	if !errors.Is(err, ErrSnapshotConflict) {
		return
	}
	current, err := m.readHead(ctx, table)
	if err != nil || current >= version {
		return
	}
	expected = ""
	if current > 0 {
		expected = strconv.FormatUint(uint64(current), 10)
	}
	_ = cw.CompareAndSwap(ctx, headKey(table), expected, next)
}

// readHead returns the HEAD pointer of a table, zero if absent.
func (m *ObjectMetaStore) readHead(ctx context.Context, table TableName) (SnapshotID, error) {
	rc, err := m.store.Get(ctx, headKey(table))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read head of %q: %w", table, err)
	}
	defer closer(rc)()
	data, err := io.ReadAll(rc)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: head of %q: %v", ErrCatalogIntegrity, table, err)
	}
	return SnapshotID(v), nil
}

// Close closes the underlying store if it holds resources.
func (m *ObjectMetaStore) Close() error {
	if c, ok := m.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Tables lists the tables that have records in the store.
func (m *ObjectMetaStore) Tables(ctx context.Context) ([]TableName, error) {
	keys, err := m.store.List(ctx, tablesDir+"/")
	if err != nil {
		return nil, err
	}
	var out []TableName
	for _, key := range keys {
		if ref, ok := parseRecordKey(key); ok && !slices.Contains(out, ref.table) {
			out = append(out, ref.table)
		}
	}
	slices.Sort(out)
	return out, nil
}

var _ MetaStore = (*ObjectMetaStore)(nil)
