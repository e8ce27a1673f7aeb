package lakecat

import (
	"errors"
	"fmt"
)

// Store error sentinels.
var (
	// ErrNotFound indicates a requested object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPathExists indicates an attempt to write to an existing path.
	ErrPathExists = errors.New("path exists")

	// ErrInvalidPath indicates a path that would escape the storage root.
	ErrInvalidPath = errors.New("invalid path: escapes storage root")

	// ErrSnapshotConflict indicates a conditional write lost against a
	// concurrent writer.
	ErrSnapshotConflict = errors.New("snapshot conflict")
)

// Catalog error sentinels. The typed errors below unwrap to these, so
// callers can match with errors.Is and still extract details with errors.As.
var (
	ErrPathOutsideLake        = errors.New("path outside lake")
	ErrSchemaConflict         = errors.New("schema conflict")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrColumnNotFound         = errors.New("column not found")
	ErrNoData                 = errors.New("no data")
	ErrCatalogIntegrity       = errors.New("catalog integrity violation")
	ErrPartitionMismatch      = errors.New("partition mismatch")
	ErrMalformedPartitionPath = errors.New("malformed partition path")
	ErrInvalidManifest        = errors.New("invalid manifest")
	ErrTableNotFound          = errors.New("table not found")
	ErrTableExists            = errors.New("table already exists")
	ErrSnapshotNotFound       = errors.New("snapshot not found")
	ErrUnsupportedMetric      = errors.New("unsupported metric")
	ErrCatalogClosed          = errors.New("catalog closed")
)

// PathOutsideLakeError reports a file path that is absolute or escapes the
// lake root.
type PathOutsideLakeError struct {
	Path   string
	Root   string
	Reason string
}

func (e *PathOutsideLakeError) Error() string {
	if e.Root == "" {
		return fmt.Sprintf("path outside lake: %q: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("path outside lake: %q (lake root %q): %s", e.Path, e.Root, e.Reason)
}

func (e *PathOutsideLakeError) Unwrap() error { return ErrPathOutsideLake }

// SchemaConflictError reports a rejected schema definition or change.
type SchemaConflictError struct {
	Table  TableName
	Column string
	Reason string
}

func (e *SchemaConflictError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema conflict: table %q: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("schema conflict: table %q column %q: %s", e.Table, e.Column, e.Reason)
}

func (e *SchemaConflictError) Unwrap() error { return ErrSchemaConflict }

// ConcurrentModificationError reports a commit built against a snapshot that
// is no longer current. Refresh and retry against Current.
type ConcurrentModificationError struct {
	Table   TableName
	Base    SnapshotID
	Current SnapshotID
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification: table %q: commit based on version %d but current version is %d",
		e.Table, e.Base, e.Current)
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrConcurrentModification }

// ColumnNotFoundError reports a query against a column absent from the
// resolved schema version.
type ColumnNotFoundError struct {
	Table         TableName
	Column        string
	SchemaVersion int
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column not found: table %q has no column %q in schema version %d",
		e.Table, e.Column, e.SchemaVersion)
}

func (e *ColumnNotFoundError) Unwrap() error { return ErrColumnNotFound }

// NoDataError reports a metric that is undefined for the selected files,
// for example a null ratio over zero rows.
type NoDataError struct {
	Table    TableName
	Metric   string
	Column   string
	Snapshot SnapshotID
}

func (e *NoDataError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("no data: %s of table %q at version %d is undefined", e.Metric, e.Table, e.Snapshot)
	}
	return fmt.Sprintf("no data: %s of %q.%q at version %d is undefined", e.Metric, e.Table, e.Column, e.Snapshot)
}

func (e *NoDataError) Unwrap() error { return ErrNoData }

// PartitionMismatchError reports a file whose partition key disagrees with
// the hive segments of its path or with its own statistics.
type PartitionMismatchError struct {
	Table    TableName
	Path     string
	Declared PartitionKey
	FromPath PartitionKey
	Reason   string
}

func (e *PartitionMismatchError) Error() string {
	return fmt.Sprintf("partition mismatch: table %q file %q: declared %q, path encodes %q: %s",
		e.Table, e.Path, e.Declared.String(), e.FromPath.String(), e.Reason)
}

func (e *PartitionMismatchError) Unwrap() error { return ErrPartitionMismatch }

// CatalogIntegrityError reports pre-existing corruption found by an audit.
// The catalog is not repaired; the report tells an operator what to fix.
type CatalogIntegrityError struct {
	Table  TableName
	Report *AuditReport
}

func (e *CatalogIntegrityError) Error() string {
	return fmt.Sprintf("catalog integrity violation: table %q: %d of %d paths absolute, %d partition mismatches, %d missing files",
		e.Table, e.Report.AbsoluteCount, e.Report.TotalFiles, len(e.Report.PartitionMismatches), len(e.Report.MissingFiles))
}

func (e *CatalogIntegrityError) Unwrap() error { return ErrCatalogIntegrity }

// manifestValidationError provides details about manifest validation failures.
type manifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *manifestValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid manifest: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid manifest %q: %s: %s", e.Path, e.Field, e.Message)
}

func (e *manifestValidationError) Unwrap() error {
	return ErrInvalidManifest
}
