package lakecat

import (
	"fmt"
	"maps"
)

// Clone returns a deep copy of the manifest.
func (fm *FileManifest) Clone() *FileManifest {
	out := *fm
	out.Partition = append(PartitionKey(nil), fm.Partition...)
	if fm.Columns != nil {
		out.Columns = maps.Clone(fm.Columns)
	}
	return &out
}

// validateManifest checks the statistics of fm against the schema.
// Path and partition checks are done separately by the commit.
func validateManifest(schema *Schema, fm *FileManifest) error {
	invalid := func(field, format string, args ...any) error {
		return &manifestValidationError{Path: fm.Path, Field: field, Message: fmt.Sprintf(format, args...)}
	}
	if fm.RowCount < 0 {
		return invalid("row_count", "must be non-negative, got %d", fm.RowCount)
	}
	if fm.SizeBytes < 0 {
		return invalid("size_bytes", "must be non-negative, got %d", fm.SizeBytes)
	}
	for name, stats := range fm.Columns {
		col, ok := schema.Column(name)
		if !ok {
			return invalid("columns."+name, "column not in schema version %d", schema.Version)
		}
		if stats.NullCount < 0 {
			return invalid("columns."+name+".null_count", "must be non-negative, got %d", stats.NullCount)
		}
		if stats.NullCount > fm.RowCount {
			return invalid("columns."+name+".null_count", "%d exceeds row_count %d", stats.NullCount, fm.RowCount)
		}
		if stats.NullCount > 0 && !col.Nullable {
			return invalid("columns."+name+".null_count", "column is not nullable but has %d nulls", stats.NullCount)
		}
		if (stats.Min == nil) != (stats.Max == nil) {
			return invalid("columns."+name, "min and max must both be set or both be absent")
		}
		if stats.Min == nil {
			continue
		}
		for label, v := range map[string]*Value{"min": stats.Min, "max": stats.Max} {
			if !typeMatches(col.Type, v.Type()) {
				return invalid("columns."+name+"."+label, "value of type %s does not match column type %s", v.Type(), col.Type)
			}
		}
		if stats.Min.Compare(*stats.Max) > 0 {
			return invalid("columns."+name, "min %s is greater than max %s", stats.Min, stats.Max)
		}
		if fm.RowCount == stats.NullCount && fm.RowCount > 0 {
			return invalid("columns."+name, "bounds present but every value is null")
		}
	}
	return nil
}

// typeMatches reports whether a statistics value may describe a column of
// the given type. INTEGER bounds are accepted for DOUBLE columns.
func typeMatches(col, v LogicalType) bool {
	return col == v || (col == TypeDouble && v == TypeInteger)
}
