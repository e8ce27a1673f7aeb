package lakecat

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ReadParquetManifest builds a FileManifest from the footer of a parquet
// file: row count, per-column null counts and bounds. Row data is never
// read.
//
// absPath passes through the resolver, so the manifest path is relative to
// the lake root. Partition values are decoded from the path for the fields
// of the schema's partitioning. Columns of the file that the schema does not
// name are ignored.
func ReadParquetManifest(ctx context.Context, resolver *PathResolver, absPath string, schema *Schema) (*FileManifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := resolver.ToRelative(absPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("lakecat: open %q: %w", absPath, err)
	}
	defer closer(f)()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("lakecat: stat %q: %w", absPath, err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("lakecat: read parquet footer of %q: %w", rel, err)
	}

	fm := &FileManifest{
		Path:      rel,
		RowCount:  pf.NumRows(),
		SizeBytes: info.Size(),
		Columns:   make(map[string]ColumnStats),
	}

	fromPath, err := DecodePartitionPath(rel)
	if err != nil {
		return nil, err
	}
	for _, field := range schema.Partitioning {
		if v, ok := fromPath.Get(field.Name); ok {
			fm.Partition = append(fm.Partition, PartitionValue{Name: field.Name, Value: v})
		}
	}

	for _, col := range schema.Columns {
		leaf, ok := pf.Schema().Lookup(col.Name)
		if !ok {
			continue
		}
		stats, err := chunkStats(pf, leaf, col)
		if err != nil {
			return nil, fmt.Errorf("lakecat: %q column %q: %w", rel, col.Name, err)
		}
		fm.Columns[col.Name] = stats
	}
	return fm, nil
}

// chunkStats folds the column chunk statistics of every row group.
func chunkStats(pf *parquet.File, leaf parquet.LeafColumn, col Column) (ColumnStats, error) {
	var stats ColumnStats
	for _, rg := range pf.RowGroups() {
		chunk, ok := rg.ColumnChunks()[leaf.ColumnIndex].(*parquet.FileColumnChunk)
		if !ok {
			continue
		}
		stats.NullCount += chunk.NullCount()
		lo, hi, ok := chunk.Bounds()
		if !ok || lo.IsNull() || hi.IsNull() {
			continue
		}
		minV, err := parquetValue(lo, leaf.Node, col.Type)
		if err != nil {
			return stats, err
		}
		maxV, err := parquetValue(hi, leaf.Node, col.Type)
		if err != nil {
			return stats, err
		}
		if stats.Min == nil || minV.Compare(*stats.Min) < 0 {
			stats.Min = &minV
		}
		if stats.Max == nil || maxV.Compare(*stats.Max) > 0 {
			stats.Max = &maxV
		}
	}
	return stats, nil
}

// parquetValue converts a footer bound to the column's logical type.
func parquetValue(v parquet.Value, node parquet.Node, typ LogicalType) (Value, error) {
	switch typ {
	case TypeInteger:
		switch v.Kind() {
		case parquet.Int32:
			return IntValue(int64(v.Int32())), nil
		case parquet.Int64:
			return IntValue(v.Int64()), nil
		}
	case TypeDouble:
		switch v.Kind() {
		case parquet.Float:
			return DoubleValue(float64(v.Float())), nil
		case parquet.Double:
			return DoubleValue(v.Double()), nil
		case parquet.Int32:
			return DoubleValue(float64(v.Int32())), nil
		case parquet.Int64:
			return DoubleValue(float64(v.Int64())), nil
		}
	case TypeText:
		if v.Kind() == parquet.ByteArray || v.Kind() == parquet.FixedLenByteArray {
			return TextValue(string(v.ByteArray())), nil
		}
	case TypeBoolean:
		if v.Kind() == parquet.Boolean {
			return BoolValue(v.Boolean()), nil
		}
	case TypeDate:
		switch v.Kind() {
		case parquet.Int32:
			return DateFromDays(int64(v.Int32())), nil
		case parquet.Int64:
			return DateValue(timestampOf(v.Int64(), node)), nil
		case parquet.ByteArray:
			return ParseValue(TypeDate, string(v.ByteArray()))
		}
	}
	return Value{}, fmt.Errorf("cannot read %s bound as %s", v.Kind(), typ)
}

// timestampOf interprets an INT64 timestamp using the node's unit.
// Unannotated values are taken as milliseconds.
func timestampOf(n int64, node parquet.Node) time.Time {
	if lt := node.Type().LogicalType(); lt != nil && lt.Timestamp != nil {
		switch {
		case lt.Timestamp.Unit.Micros != nil:
			return time.UnixMicro(n)
		case lt.Timestamp.Unit.Nanos != nil:
			return time.Unix(0, n)
		}
	}
	return time.UnixMilli(n)
}
