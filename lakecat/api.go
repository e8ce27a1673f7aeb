// Package lakecat provides table snapshots, file manifests, and statistics
// catalogs for columnar data lakes.
//
// Lakecat tracks which physical files make up each table at every committed
// version, how those files are partitioned, and what each file's column
// statistics are. Every stored file reference is relative to the lake root,
// so a lake can be copied or moved without rewriting metadata. Lakecat never
// reads row data: aggregate answers come from per-file statistics only.
package lakecat

import (
	"context"
	"io"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// TableName identifies a table within a catalog and is stable for its lifetime.
type TableName string

// SnapshotID is the version number of a table snapshot. Versions start at 1
// and increase by one per commit. Zero means "no snapshot".
type SnapshotID uint64

// FileID identifies a file manifest within its table. IDs are assigned in
// commit order and never reused.
type FileID uint32

// Metadata holds user-defined key-value pairs stored with a snapshot.
type Metadata map[string]any

// Column describes one column of a table schema.
type Column struct {
	Name     string      `json:"name"`
	Type     LogicalType `json:"type"`
	Nullable bool        `json:"nullable"`
}

// ColumnStats holds the file-level statistics of a single column.
//
// Min and Max are nil when the file carries no bounds for the column, for
// example when every value is null.
type ColumnStats struct {
	NullCount int64  `json:"null_count"`
	Min       *Value `json:"min,omitempty"`
	Max       *Value `json:"max,omitempty"`
}

// -----------------------------------------------------------------------------
// File manifest
// -----------------------------------------------------------------------------

// FileManifest describes one physical data file.
//
// A manifest is immutable once committed. Later snapshots supersede it by
// retiring its ID, never by mutating it.
type FileManifest struct {
	// ID is assigned by the catalog at commit time. Values supplied by the
	// caller are ignored.
	ID FileID `json:"id"`

	// Path is the location of the file relative to the lake root, using
	// forward slashes. It never contains the lake root.
	Path string `json:"path"`

	// RowCount is the number of rows in the file.
	RowCount int64 `json:"row_count"`

	// SizeBytes is the file size in bytes.
	SizeBytes int64 `json:"size_bytes"`

	// Partition holds the declared partition values of the file. It must
	// agree with the hive segments encoded in Path.
	Partition PartitionKey `json:"partition,omitempty"`

	// Columns maps column names to their statistics in this file.
	Columns map[string]ColumnStats `json:"columns,omitempty"`
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// Snapshot is an immutable, versioned view of a table's file set.
type Snapshot struct {
	Table         TableName
	Version       SnapshotID
	Parent        SnapshotID
	CommitID      string
	CreatedAt     time.Time
	SchemaVersion int
	Metadata      Metadata

	// Summary of the active file set.
	FileCount int
	RowCount  int64
	SizeBytes int64

	// files is the active manifest set. Never modified after publication.
	files *roaring.Bitmap
}

// FileIDs returns the IDs of the active manifests in commit order.
func (s *Snapshot) FileIDs() []FileID {
	if s == nil || s.files == nil {
		return nil
	}
	ids := make([]FileID, 0, s.files.GetCardinality())
	it := s.files.Iterator()
	for it.HasNext() {
		ids = append(ids, FileID(it.Next()))
	}
	return ids
}

// Contains reports whether the file is active in the snapshot.
func (s *Snapshot) Contains(id FileID) bool {
	return s != nil && s.files != nil && s.files.Contains(uint32(id))
}

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store abstracts the object storage holding catalog metadata.
//
// Implementations may target filesystems, memory, S3, GCS, or other object
// stores. Put never overwrites: writing an existing path returns ErrPathExists.
type Store interface {
	// Put writes data to the given path.
	Put(ctx context.Context, path string, r io.Reader) error

	// Get retrieves data from the given path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists checks whether a path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the path if it exists.
	Delete(ctx context.Context, path string) error
}

// ConditionalWriter is implemented by stores that can atomically replace a
// small object only if its current content matches an expected value.
//
// An empty expected value means the object must not exist yet. A mismatch
// returns ErrSnapshotConflict and leaves the object unchanged.
type ConditionalWriter interface {
	CompareAndSwap(ctx context.Context, path, expected, replacement string) error
}

// StoreFactory creates a Store. Factories defer construction so that
// configuration errors surface when the catalog is opened.
type StoreFactory func() (Store, error)

// -----------------------------------------------------------------------------
// Metadata store
// -----------------------------------------------------------------------------

// SchemaRecord is the persisted form of one schema version.
type SchemaRecord struct {
	Table        TableName     `json:"table"`
	Version      int           `json:"version"`
	Columns      []Column      `json:"columns"`
	Partitioning PartitionSpec `json:"partitioning,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// SnapshotRecord is the persisted form of one commit: the delta from the
// parent snapshot.
type SnapshotRecord struct {
	Table         TableName      `json:"table"`
	Version       SnapshotID     `json:"version"`
	Parent        SnapshotID     `json:"parent"`
	CommitID      string         `json:"commit_id"`
	CreatedAt     time.Time      `json:"created_at"`
	SchemaVersion int            `json:"schema_version"`
	Added         []FileManifest `json:"added"`
	Removed       []FileID       `json:"removed,omitempty"`
	Metadata      Metadata       `json:"metadata,omitempty"`
}

// CatalogState is everything a MetaStore holds, in replay order.
type CatalogState struct {
	Schemas   []SchemaRecord
	Snapshots []SnapshotRecord
}

// MetaStore persists schema versions and snapshot records.
//
// AppendSnapshot is a compare-and-swap on the table's current version: it
// succeeds only if the stored current version equals record.Parent, and
// returns ErrSnapshotConflict otherwise. PutSchema returns
// ErrSnapshotConflict if the schema version already exists.
type MetaStore interface {
	Load(ctx context.Context) (*CatalogState, error)
	PutSchema(ctx context.Context, record SchemaRecord) error
	AppendSnapshot(ctx context.Context, record SnapshotRecord) error
	Close() error
}
