package lakecat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
)

// maxAppendAttempts bounds the rebase-and-retry loop of Append.
const maxAppendAttempts = 5

// CommitRequest is one ingestion batch.
type CommitRequest struct {
	Table TableName

	// Base is the version the batch was built against. It must equal the
	// table's current version; zero for the first commit.
	Base SnapshotID

	// Added are the new files. IDs are assigned by the catalog.
	Added []FileManifest

	// Removed are the IDs of active files retired by this commit.
	Removed []FileID

	// Columns and Partitioning define the table when it does not exist yet.
	// They must be empty for existing tables.
	Columns      []Column
	Partitioning PartitionSpec

	Metadata Metadata
}

// Commit validates a batch and publishes it as the table's next snapshot.
//
// Commits to one table are serialized. A request whose Base is no longer
// current fails with *ConcurrentModificationError. Every validation runs
// before anything is persisted, so a failed commit leaves the current
// snapshot unchanged.
func (c *Catalog) Commit(ctx context.Context, req CommitRequest) (*Snapshot, error) {
	done, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	snap, err := c.commit(ctx, req)
	if err != nil {
		c.logger.Warn("commit rejected", "table", req.Table, "base", req.Base, "files", len(req.Added), "error", err)
		return nil, err
	}
	c.logger.Info("commit", "table", snap.Table, "version", snap.Version, "files", len(req.Added),
		"removed", len(req.Removed), "active_files", snap.FileCount, "rows", snap.RowCount)
	return snap, nil
}

func (c *Catalog) commit(ctx context.Context, req CommitRequest) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var t *table
	if len(req.Columns) > 0 {
		t = c.tableCell(req.Table)
	} else {
		var err error
		if t, err = c.lookup(req.Table); err != nil {
			return nil, err
		}
	}
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	current := t.currentVersion()
	if req.Base != current {
		return nil, &ConcurrentModificationError{Table: req.Table, Base: req.Base, Current: current}
	}

	var (
		schema   *Schema
		index    = t.index
		newTable *Schema
	)
	if t.defined() {
		latest, err := c.schemas.Latest(req.Table)
		if err != nil {
			return nil, err
		}
		if len(req.Columns) > 0 && !slices.Equal(req.Columns, latest.Columns) {
			return nil, &SchemaConflictError{Table: req.Table, Reason: "table already defined with different columns; use EvolveTable"}
		}
		if len(req.Partitioning) > 0 && !slices.Equal(req.Partitioning, latest.Partitioning) {
			return nil, &SchemaConflictError{Table: req.Table, Reason: fmt.Sprintf("table is partitioned by %s, not %s", latest.Partitioning, req.Partitioning)}
		}
		schema = latest
	} else {
		s, err := c.schemas.prepareDefine(req.Table, req.Columns, req.Partitioning)
		if err != nil {
			return nil, err
		}
		schema, newTable = s, s
		index = NewPartitionIndex(req.Table, s.Partitioning)
	}

	added, err := c.validateBatch(t, schema, index, req)
	if err != nil {
		return nil, err
	}

	rec := SnapshotRecord{
		Table:         req.Table,
		Version:       current + 1,
		Parent:        current,
		CommitID:      uuid.NewString(),
		CreatedAt:     c.now().UTC(),
		SchemaVersion: schema.Version,
		Added:         make([]FileManifest, len(added)),
		Removed:       dedupeIDs(req.Removed),
		Metadata:      req.Metadata,
	}
	for i, fm := range added {
		rec.Added[i] = *fm
	}

	if newTable != nil {
		if err := c.persistSchema(ctx, t, newTable); err != nil {
			return nil, err
		}
	}
	if err := c.meta.AppendSnapshot(ctx, rec); err != nil {
		if errors.Is(err, ErrSnapshotConflict) {
			return nil, &ConcurrentModificationError{Table: req.Table, Base: req.Base, Current: current + 1}
		}
		return nil, fmt.Errorf("lakecat: persist snapshot %q v%d: %w", req.Table, rec.Version, err)
	}
	return t.publish(rec, added), nil
}

// validateBatch checks every added and removed file and returns the added
// manifests with IDs and partition keys assigned. Nothing is mutated.
func (c *Catalog) validateBatch(t *table, schema *Schema, index *PartitionIndex, req CommitRequest) ([]*FileManifest, error) {
	head := t.head.Load()
	for _, id := range req.Removed {
		if !head.Contains(id) {
			return nil, &manifestValidationError{Field: "removed", Message: fmt.Sprintf("file %d is not active in version %d of table %q", id, t.currentVersion(), req.Table)}
		}
	}

	next := FileID(index.Len())
	seen := make(map[string]struct{}, len(req.Added))
	added := make([]*FileManifest, 0, len(req.Added))
	for i := range req.Added {
		fm := req.Added[i].Clone()
		if err := c.checkPath(fm.Path); err != nil {
			return nil, err
		}
		if _, dup := seen[fm.Path]; dup {
			return nil, &manifestValidationError{Path: fm.Path, Field: "path", Message: "added more than once in this commit"}
		}
		if id, dup := t.paths[fm.Path]; dup {
			return nil, &manifestValidationError{Path: fm.Path, Field: "path", Message: fmt.Sprintf("already active as file %d", id)}
		}
		seen[fm.Path] = struct{}{}
		if err := validateManifest(schema, fm); err != nil {
			return nil, err
		}
		key, err := index.Key(fm)
		if err != nil {
			return nil, err
		}
		fm.Partition = key
		fm.ID = next + FileID(i)
		added = append(added, fm)
	}
	return added, nil
}

// checkPath applies the relative-path rules to a stored path.
func (c *Catalog) checkPath(p string) error {
	if c.resolver != nil {
		return c.resolver.Check(p)
	}
	if reason := relativeViolation(p); reason != "" {
		return &PathOutsideLakeError{Path: p, Reason: reason}
	}
	return nil
}

func dedupeIDs(ids []FileID) []FileID {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// Append commits files against the current snapshot, rebasing and retrying
// when another writer commits first.
func (c *Catalog) Append(ctx context.Context, name TableName, files ...FileManifest) (*Snapshot, error) {
	var lastErr error
	for attempt := range maxAppendAttempts {
		base := SnapshotID(0)
		if cur, err := c.Current(ctx, name); err == nil {
			base = cur.Version
		} else if !errors.Is(err, ErrSnapshotNotFound) {
			return nil, err
		}
		snap, err := c.Commit(ctx, CommitRequest{Table: name, Base: base, Added: files})
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
		c.logger.Debug("append rebasing", "table", name, "attempt", attempt+1, "error", err)
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("lakecat: append to %q gave up after %d attempts: %w", name, maxAppendAttempts, lastErr)
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Current returns the table's current snapshot. A defined table without
// commits fails with ErrSnapshotNotFound.
func (c *Catalog) Current(ctx context.Context, name TableName) (*Snapshot, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	t, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	snap := t.head.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: table %q has no commits", ErrSnapshotNotFound, name)
	}
	return snap, nil
}

// Snapshot returns the given version of a table.
func (c *Catalog) Snapshot(ctx context.Context, name TableName, version SnapshotID) (*Snapshot, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	t, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return t.snapshotAt(version)
}

// Snapshots returns every snapshot of a table, oldest first.
func (c *Catalog) Snapshots(ctx context.Context, name TableName) ([]*Snapshot, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	t, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return t.snapshots(), nil
}

// TimeTravel returns the manifests active in the given version, in FileID
// order. The result is the same on every call. The returned manifests are
// shared and must not be modified.
func (c *Catalog) TimeTravel(ctx context.Context, name TableName, version SnapshotID) ([]*FileManifest, error) {
	files, _, err := c.FilesFor(ctx, name, version, nil)
	if err != nil {
		return nil, err
	}
	return slices.Collect(files), nil
}

// FilesFor returns the manifests of a snapshot whose partition satisfies
// pred, together with the snapshot. Version zero selects the current
// snapshot; a nil pred selects every file.
func (c *Catalog) FilesFor(ctx context.Context, name TableName, version SnapshotID, pred Predicate) (iter.Seq[*FileManifest], *Snapshot, error) {
	snap, t, err := c.resolveSnapshot(ctx, name, version)
	if err != nil {
		return nil, nil, err
	}
	return t.index.FilesFor(snap, pred), snap, nil
}

// Partitions returns the partition keys with active files in a snapshot.
func (c *Catalog) Partitions(ctx context.Context, name TableName, version SnapshotID) ([]PartitionKey, error) {
	snap, t, err := c.resolveSnapshot(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return t.index.Partitions(snap), nil
}

// Manifest returns a manifest by ID, whether or not it is still active.
func (c *Catalog) Manifest(ctx context.Context, name TableName, id FileID) (*FileManifest, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	t, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	fm, ok := t.index.Manifest(id)
	if !ok {
		return nil, fmt.Errorf("%w: table %q has no file %d", ErrNotFound, name, id)
	}
	return fm, nil
}

// resolveSnapshot returns the requested snapshot, or the current one for
// version zero.
func (c *Catalog) resolveSnapshot(ctx context.Context, name TableName, version SnapshotID) (*Snapshot, *table, error) {
	if err := c.checkOpen(); err != nil {
		return nil, nil, err
	}
	t, err := c.lookup(name)
	if err != nil {
		return nil, nil, err
	}
	if version == 0 {
		snap := t.head.Load()
		if snap == nil {
			// Defined but never committed: an empty table.
			latest, err := c.schemas.Latest(name)
			if err != nil {
				return nil, nil, err
			}
			snap = &Snapshot{Table: name, SchemaVersion: latest.Version, files: roaring.New()}
		}
		return snap, t, nil
	}
	snap, err := t.snapshotAt(version)
	if err != nil {
		return nil, nil, err
	}
	return snap, t, nil
}
