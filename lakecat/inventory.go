package lakecat

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
)

// TableInventory summarizes one table at its current version.
type TableInventory struct {
	Table         TableName  `json:"table"`
	Version       SnapshotID `json:"version"`
	SchemaVersion int        `json:"schema_version"`
	Columns       int        `json:"columns"`
	Partitioning  string     `json:"partitioning,omitempty"`
	Files         int        `json:"files"`
	Rows          int64      `json:"rows"`
	SizeBytes     int64      `json:"size_bytes"`
}

// Inventory summarizes every table, in name order.
func (c *Catalog) Inventory(ctx context.Context) ([]TableInventory, error) {
	tables := c.Tables()
	out := make([]TableInventory, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(auditConcurrency)
	for i, name := range tables {
		g.Go(func() error {
			snap, _, err := c.resolveSnapshot(gctx, name, 0)
			if err != nil {
				return err
			}
			schema, err := c.schemas.Resolve(name, snap.SchemaVersion)
			if err != nil {
				return err
			}
			out[i] = TableInventory{
				Table:         name,
				Version:       snap.Version,
				SchemaVersion: schema.Version,
				Columns:       len(schema.Columns),
				Partitioning:  schema.Partitioning.String(),
				Files:         snap.FileCount,
				Rows:          snap.RowCount,
				SizeBytes:     snap.SizeBytes,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PartitionShare is the row count of one partition value.
type PartitionShare struct {
	Value   string  `json:"value"`
	Files   int     `json:"files"`
	Rows    int64   `json:"rows"`
	Percent float64 `json:"percent"`
}

// Distribution groups the rows of a snapshot by one partition field, using
// manifest row counts only. Shares are ordered by value.
func (c *Catalog) Distribution(ctx context.Context, name TableName, field string, opts ...QueryOption) ([]PartitionShare, error) {
	var cfg queryConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	snap, t, err := c.resolveSnapshot(ctx, name, cfg.version)
	if err != nil {
		return nil, err
	}
	if _, ok := t.index.Spec().Field(field); !ok {
		return nil, fmt.Errorf("%w: %q is not a partition field of table %q", ErrColumnNotFound, field, name)
	}

	byValue := make(map[string]*PartitionShare)
	var total int64
	var iterErr error
	t.index.eachPartition(snap, cfg.pred, func(key PartitionKey, ids *roaring.Bitmap) {
		if iterErr != nil {
			return
		}
		if iterErr = ctx.Err(); iterErr != nil {
			return
		}
		value, _ := key.Get(field)
		canon := canonicalValue(value)
		share, ok := byValue[canon]
		if !ok {
			share = &PartitionShare{Value: value}
			byValue[canon] = share
		}
		it := ids.Iterator()
		for it.HasNext() {
			fm, _ := t.index.Manifest(FileID(it.Next()))
			share.Files++
			share.Rows += fm.RowCount
			total += fm.RowCount
		}
	})
	if iterErr != nil {
		return nil, iterErr
	}

	out := make([]PartitionShare, 0, len(byValue))
	for _, share := range byValue {
		if total > 0 {
			share.Percent = 100 * float64(share.Rows) / float64(total)
		}
		out = append(out, *share)
	}
	slices.SortFunc(out, func(a, b PartitionShare) int { return ComparePartitionValues(a.Value, b.Value) })
	return out, nil
}

// StorageSummary counts a snapshot's files by extension.
type StorageSummary struct {
	Table       TableName        `json:"table"`
	Snapshot    SnapshotID       `json:"snapshot"`
	Files       int              `json:"files"`
	SizeBytes   int64            `json:"size_bytes"`
	ByExtension map[string]int   `json:"by_extension"`
	BytesByExt  map[string]int64 `json:"bytes_by_extension"`
}

// StorageSummary reports file counts and sizes per file extension.
func (c *Catalog) StorageSummary(ctx context.Context, name TableName, opts ...QueryOption) (*StorageSummary, error) {
	s, err := c.scope(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	sum := &StorageSummary{
		Table:       name,
		Snapshot:    s.snap.Version,
		ByExtension: make(map[string]int),
		BytesByExt:  make(map[string]int64),
	}
	for fm := range s.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ext := strings.ToLower(path.Ext(fm.Path))
		if ext == "" {
			ext = "(none)"
		}
		sum.Files++
		sum.SizeBytes += fm.SizeBytes
		sum.ByExtension[ext]++
		sum.BytesByExt[ext] += fm.SizeBytes
	}
	return sum, nil
}

// FileListing is one row of ListFiles.
type FileListing struct {
	ID        FileID       `json:"id"`
	Path      string       `json:"path"`
	Relative  bool         `json:"relative"`
	Partition PartitionKey `json:"partition,omitempty"`
	RowCount  int64        `json:"row_count"`
	SizeBytes int64        `json:"size_bytes"`
}

// ListFiles lists the files of a snapshot with a per-path relative flag.
func (c *Catalog) ListFiles(ctx context.Context, name TableName, opts ...QueryOption) ([]FileListing, error) {
	s, err := c.scope(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	var out []FileListing
	for fm := range s.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, FileListing{
			ID:        fm.ID,
			Path:      fm.Path,
			Relative:  c.checkPath(fm.Path) == nil,
			Partition: fm.Partition,
			RowCount:  fm.RowCount,
			SizeBytes: fm.SizeBytes,
		})
	}
	return out, nil
}

// ResolveFile returns the absolute location of a stored path under the
// lake root.
func (c *Catalog) ResolveFile(rel string) (string, error) {
	if c.resolver == nil {
		return "", errors.New("lakecat: no lake root configured")
	}
	return c.resolver.ToAbsolute(rel)
}
