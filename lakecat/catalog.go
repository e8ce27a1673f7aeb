package lakecat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// -----------------------------------------------------------------------------
// Catalog configuration
// -----------------------------------------------------------------------------

type catalogConfig struct {
	lakeRoot string
	meta     MetaStore
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures Open.
type Option interface {
	applyCatalog(*catalogConfig) error
}

type optionFunc func(*catalogConfig) error

func (f optionFunc) applyCatalog(cfg *catalogConfig) error { return f(cfg) }

// WithLakeRoot sets the directory under which all data files live. Without
// a lake root, stored paths are still checked for portability but cannot be
// resolved to physical locations.
func WithLakeRoot(root string) Option {
	return optionFunc(func(cfg *catalogConfig) error {
		if root == "" {
			return errors.New("WithLakeRoot: root must not be empty")
		}
		cfg.lakeRoot = root
		return nil
	})
}

// WithMetaStore sets where schemas and snapshots are persisted.
// Default: an object MetaStore over an in-memory store.
func WithMetaStore(m MetaStore) Option {
	return optionFunc(func(cfg *catalogConfig) error {
		if m == nil {
			return errors.New("WithMetaStore: store must not be nil")
		}
		cfg.meta = m
		return nil
	})
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(cfg *catalogConfig) error {
		if l == nil {
			return errors.New("WithLogger: logger must not be nil")
		}
		cfg.logger = l
		return nil
	})
}

// WithClock overrides the time source used for commit timestamps.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(cfg *catalogConfig) error {
		if now == nil {
			return errors.New("WithClock: clock must not be nil")
		}
		cfg.now = now
		return nil
	})
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

// Catalog is an explicit handle on the state of every table in a lake.
//
// Open loads persisted metadata; Close waits for in-flight commits and
// releases the MetaStore. Published snapshots, manifests and schema versions
// are immutable, so reads run concurrently with each other and with
// commits. Commits are serialized per table only.
type Catalog struct {
	resolver *PathResolver
	meta     MetaStore
	logger   *slog.Logger
	now      func() time.Time
	schemas  *SchemaRegistry

	mu       sync.RWMutex
	tables   map[TableName]*table
	closed   bool
	inflight sync.WaitGroup
}

// table is the mutable cell of one table: its current snapshot pointer.
// Everything reachable from a published snapshot is write-once.
type table struct {
	name TableName

	// commitMu serializes commits and replays.
	commitMu sync.Mutex
	ready    atomic.Bool // set once index is installed
	index    *PartitionIndex
	paths    map[string]FileID // path -> ID over the current active set

	head    atomic.Pointer[Snapshot]
	histMu  sync.RWMutex
	history []*Snapshot
}

// Open creates a catalog and loads the state persisted in its MetaStore.
func Open(ctx context.Context, opts ...Option) (*Catalog, error) {
	cfg := &catalogConfig{
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt.applyCatalog(cfg); err != nil {
			return nil, fmt.Errorf("lakecat: %w", err)
		}
	}
	if cfg.meta == nil {
		m, err := NewObjectMetaStore(NewMemoryFactory())
		if err != nil {
			return nil, fmt.Errorf("lakecat: default metastore: %w", err)
		}
		cfg.meta = m
	}

	c := &Catalog{
		meta:    cfg.meta,
		logger:  cfg.logger,
		now:     cfg.now,
		schemas: NewSchemaRegistry(),
		tables:  make(map[TableName]*table),
	}
	c.schemas.now = cfg.now
	if cfg.lakeRoot != "" {
		r, err := NewPathResolver(cfg.lakeRoot)
		if err != nil {
			return nil, err
		}
		c.resolver = r
	}

	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Resolver returns the lake root resolver, or nil if no lake root was set.
func (c *Catalog) Resolver() *PathResolver {
	return c.resolver
}

// Schemas returns the schema registry.
func (c *Catalog) Schemas() *SchemaRegistry {
	return c.schemas
}

// Close waits for in-flight commits, then closes the MetaStore. Calls after
// Close fail with ErrCatalogClosed.
func (c *Catalog) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.inflight.Wait()
	if err := c.meta.Close(); err != nil {
		return fmt.Errorf("lakecat: close metastore: %w", err)
	}
	return nil
}

// begin registers an in-flight write.
func (c *Catalog) begin() (func(), error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrCatalogClosed
	}
	c.inflight.Add(1)
	return c.inflight.Done, nil
}

func (c *Catalog) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCatalogClosed
	}
	return nil
}

// Tables returns the names of all defined tables.
func (c *Catalog) Tables() []TableName {
	return c.schemas.Tables()
}

// lookup returns a defined table.
func (c *Catalog) lookup(name TableName) (*table, error) {
	c.mu.RLock()
	t, ok := c.tables[name]
	c.mu.RUnlock()
	if !ok || !t.defined() {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return t, nil
}

// tableCell returns the cell for name, creating an undefined one if needed.
func (c *Catalog) tableCell(name TableName) *table {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		t = &table{name: name, paths: make(map[string]FileID)}
		c.tables[name] = t
	}
	return t
}

func (t *table) defined() bool {
	return t.ready.Load()
}

// -----------------------------------------------------------------------------
// Schema operations
// -----------------------------------------------------------------------------

// DefineTable creates a table with schema version 1.
func (c *Catalog) DefineTable(ctx context.Context, name TableName, columns []Column, spec PartitionSpec) (*Schema, error) {
	done, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	t := c.tableCell(name)
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	s, err := c.schemas.prepareDefine(name, columns, spec)
	if err != nil {
		return nil, err
	}
	if err := c.persistSchema(ctx, t, s); err != nil {
		return nil, err
	}
	c.logger.Info("table defined", "table", name, "schema_version", s.Version, "columns", len(s.Columns), "partitioning", s.Partitioning.String())
	return s, nil
}

// EvolveTable appends nullable columns to a table's schema.
func (c *Catalog) EvolveTable(ctx context.Context, name TableName, added []Column) (*Schema, error) {
	done, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	t, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	s, err := c.schemas.prepareEvolve(name, added)
	if err != nil {
		return nil, err
	}
	if err := c.persistSchema(ctx, t, s); err != nil {
		return nil, err
	}
	c.logger.Info("schema evolved", "table", name, "schema_version", s.Version, "added", len(added))
	return s, nil
}

// persistSchema stores s and then installs it. Caller holds t.commitMu.
func (c *Catalog) persistSchema(ctx context.Context, t *table, s *Schema) error {
	if err := c.meta.PutSchema(ctx, s.record()); err != nil {
		if errors.Is(err, ErrSnapshotConflict) {
			return &SchemaConflictError{Table: s.Table, Reason: fmt.Sprintf("schema version %d was written concurrently; refresh and retry", s.Version)}
		}
		return fmt.Errorf("lakecat: persist schema %q v%d: %w", s.Table, s.Version, err)
	}
	return c.installSchema(t, s)
}

func (c *Catalog) installSchema(t *table, s *Schema) error {
	if err := c.schemas.apply(s); err != nil {
		return err
	}
	if s.Version == 1 {
		t.index = NewPartitionIndex(s.Table, s.Partitioning)
		t.ready.Store(true)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

// Refresh loads records written to the MetaStore since the last load, for
// example by another process sharing the same store.
func (c *Catalog) Refresh(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	state, err := c.meta.Load(ctx)
	if err != nil {
		return fmt.Errorf("lakecat: load catalog: %w", err)
	}

	schemas := slices.Clone(state.Schemas)
	slices.SortStableFunc(schemas, func(a, b SchemaRecord) int {
		return cmp.Or(cmp.Compare(a.Table, b.Table), cmp.Compare(a.Version, b.Version))
	})
	for _, rec := range schemas {
		t := c.tableCell(rec.Table)
		t.commitMu.Lock()
		err := c.replaySchema(t, rec)
		t.commitMu.Unlock()
		if err != nil {
			return err
		}
	}

	snaps := slices.Clone(state.Snapshots)
	slices.SortStableFunc(snaps, func(a, b SnapshotRecord) int {
		return cmp.Or(cmp.Compare(a.Table, b.Table), cmp.Compare(a.Version, b.Version))
	})
	loaded := 0
	for _, rec := range snaps {
		t, err := c.lookup(rec.Table)
		if err != nil {
			return fmt.Errorf("%w: snapshot %d of undefined table %q", ErrCatalogIntegrity, rec.Version, rec.Table)
		}
		t.commitMu.Lock()
		applied, err := c.replaySnapshot(t, rec)
		t.commitMu.Unlock()
		if err != nil {
			return err
		}
		if applied {
			loaded++
		}
	}
	c.logger.Debug("catalog loaded", "schemas", len(schemas), "snapshots", loaded)
	return nil
}

func (c *Catalog) replaySchema(t *table, rec SchemaRecord) error {
	if latest, err := c.schemas.Latest(rec.Table); err == nil && rec.Version <= latest.Version {
		return nil
	}
	if err := c.installSchema(t, schemaFromRecord(rec)); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogIntegrity, err)
	}
	return nil
}

// replaySnapshot applies a persisted record without revalidating paths or
// partitions, so that corrupt entries stay visible to Audit.
func (c *Catalog) replaySnapshot(t *table, rec SnapshotRecord) (bool, error) {
	current := t.currentVersion()
	if rec.Version <= current {
		return false, nil
	}
	if rec.Parent != current || rec.Version != current+1 {
		return false, fmt.Errorf("%w: table %q: snapshot %d has parent %d but current version is %d",
			ErrCatalogIntegrity, rec.Table, rec.Version, rec.Parent, current)
	}
	if _, err := c.schemas.Resolve(rec.Table, rec.SchemaVersion); err != nil {
		return false, fmt.Errorf("%w: table %q snapshot %d: %v", ErrCatalogIntegrity, rec.Table, rec.Version, err)
	}
	next := FileID(t.index.Len())
	added := make([]*FileManifest, len(rec.Added))
	for i := range rec.Added {
		fm := rec.Added[i].Clone()
		if fm.ID != next+FileID(i) {
			return false, fmt.Errorf("%w: table %q snapshot %d: file %q has id %d, expected %d",
				ErrCatalogIntegrity, rec.Table, rec.Version, fm.Path, fm.ID, next+FileID(i))
		}
		added[i] = fm
	}
	head := t.head.Load()
	for _, id := range rec.Removed {
		if !head.Contains(id) {
			return false, fmt.Errorf("%w: table %q snapshot %d removes inactive file %d",
				ErrCatalogIntegrity, rec.Table, rec.Version, id)
		}
	}
	t.publish(rec, added)
	return true, nil
}

// -----------------------------------------------------------------------------
// Table state
// -----------------------------------------------------------------------------

func (t *table) currentVersion() SnapshotID {
	if s := t.head.Load(); s != nil {
		return s.Version
	}
	return 0
}

// publish records the manifests, builds the next snapshot and advances the
// head pointer. Caller holds commitMu and has validated rec.
func (t *table) publish(rec SnapshotRecord, added []*FileManifest) *Snapshot {
	prev := t.head.Load()

	files := roaring.New()
	if prev != nil && prev.files != nil {
		files = prev.files.Clone()
	}
	for _, id := range rec.Removed {
		if fm, ok := t.index.Manifest(id); ok {
			delete(t.paths, fm.Path)
		}
		files.Remove(uint32(id))
	}
	t.index.add(added)
	for _, fm := range added {
		files.Add(uint32(fm.ID))
		t.paths[fm.Path] = fm.ID
	}
	files.RunOptimize()

	snap := &Snapshot{
		Table:         rec.Table,
		Version:       rec.Version,
		Parent:        rec.Parent,
		CommitID:      rec.CommitID,
		CreatedAt:     rec.CreatedAt,
		SchemaVersion: rec.SchemaVersion,
		Metadata:      rec.Metadata,
		files:         files,
	}
	it := files.Iterator()
	for it.HasNext() {
		fm, _ := t.index.Manifest(FileID(it.Next()))
		snap.FileCount++
		snap.RowCount += fm.RowCount
		snap.SizeBytes += fm.SizeBytes
	}

	t.histMu.Lock()
	t.history = append(t.history, snap)
	t.histMu.Unlock()
	t.head.Store(snap)
	return snap
}

func (t *table) snapshotAt(version SnapshotID) (*Snapshot, error) {
	t.histMu.RLock()
	defer t.histMu.RUnlock()
	if version == 0 || int(version) > len(t.history) {
		return nil, fmt.Errorf("%w: table %q version %d", ErrSnapshotNotFound, t.name, version)
	}
	return t.history[version-1], nil
}

func (t *table) snapshots() []*Snapshot {
	t.histMu.RLock()
	defer t.histMu.RUnlock()
	return slices.Clone(t.history)
}
