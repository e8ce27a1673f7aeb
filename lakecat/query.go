package lakecat

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// Metric names accepted by Execute.
const (
	MetricRowCount      = "row_count"
	MetricNullRatio     = "null_ratio"
	MetricMinMax        = "min_max"
	MetricTimeRange     = "time_range"
	MetricDistinctCount = "distinct_count"
)

// Metrics lists the metric names accepted by Execute.
var Metrics = []string{MetricRowCount, MetricNullRatio, MetricMinMax, MetricTimeRange, MetricDistinctCount}

type queryConfig struct {
	version SnapshotID
	pred    Predicate
}

// QueryOption narrows a metadata query.
type QueryOption func(*queryConfig)

// AtSnapshot evaluates the query against a historical version. Default:
// the current snapshot.
func AtSnapshot(v SnapshotID) QueryOption {
	return func(cfg *queryConfig) { cfg.version = v }
}

// Where restricts the query to partitions matching pred.
func Where(pred Predicate) QueryOption {
	return func(cfg *queryConfig) { cfg.pred = pred }
}

// queryScope is the resolved input of one query.
type queryScope struct {
	snap   *Snapshot
	schema *Schema
	files  iter.Seq[*FileManifest]
}

func (c *Catalog) scope(ctx context.Context, name TableName, opts []QueryOption) (*queryScope, error) {
	var cfg queryConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	snap, t, err := c.resolveSnapshot(ctx, name, cfg.version)
	if err != nil {
		return nil, err
	}
	schema, err := c.schemas.Resolve(name, snap.SchemaVersion)
	if err != nil {
		return nil, err
	}
	return &queryScope{snap: snap, schema: schema, files: t.index.FilesFor(snap, cfg.pred)}, nil
}

func (s *queryScope) column(name string) (Column, error) {
	col, ok := s.schema.Column(name)
	if !ok {
		return Column{}, &ColumnNotFoundError{Table: s.schema.Table, Column: name, SchemaVersion: s.schema.Version}
	}
	return col, nil
}

// RowCount returns the sum of row counts of the selected files. An empty
// selection counts zero rows.
func (c *Catalog) RowCount(ctx context.Context, name TableName, opts ...QueryOption) (int64, error) {
	s, err := c.scope(ctx, name, opts)
	if err != nil {
		return 0, err
	}
	var rows int64
	for fm := range s.files {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		rows += fm.RowCount
	}
	return rows, nil
}

// NullRatio returns sum(null_count)/sum(row_count) for a column.
//
// A file without statistics for a nullable column counts all of its rows as
// null: such files predate the column being added.
func (c *Catalog) NullRatio(ctx context.Context, name TableName, column string, opts ...QueryOption) (float64, error) {
	s, err := c.scope(ctx, name, opts)
	if err != nil {
		return 0, err
	}
	col, err := s.column(column)
	if err != nil {
		return 0, err
	}
	var rows, nulls int64
	for fm := range s.files {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		rows += fm.RowCount
		if stats, ok := fm.Columns[column]; ok {
			nulls += stats.NullCount
		} else if col.Nullable {
			nulls += fm.RowCount
		}
	}
	if rows == 0 {
		return 0, &NoDataError{Table: name, Metric: MetricNullRatio, Column: column, Snapshot: s.snap.Version}
	}
	return float64(nulls) / float64(rows), nil
}

// MinMax returns the smallest per-file minimum and the largest per-file
// maximum of a column, in the column type's order.
func (c *Catalog) MinMax(ctx context.Context, name TableName, column string, opts ...QueryOption) (Value, Value, error) {
	s, err := c.scope(ctx, name, opts)
	if err != nil {
		return Value{}, Value{}, err
	}
	if _, err := s.column(column); err != nil {
		return Value{}, Value{}, err
	}
	return minMax(ctx, s, column, MetricMinMax)
}

// TimeRange returns the earliest and latest date of a DATE column. An
// empty column name selects the first DATE column of the schema.
func (c *Catalog) TimeRange(ctx context.Context, name TableName, column string, opts ...QueryOption) (Value, Value, error) {
	s, err := c.scope(ctx, name, opts)
	if err != nil {
		return Value{}, Value{}, err
	}
	if column == "" {
		for _, col := range s.schema.Columns {
			if col.Type == TypeDate {
				column = col.Name
				break
			}
		}
		if column == "" {
			return Value{}, Value{}, fmt.Errorf("%w: table %q has no DATE column for %s", ErrUnsupportedMetric, name, MetricTimeRange)
		}
	}
	col, err := s.column(column)
	if err != nil {
		return Value{}, Value{}, err
	}
	if col.Type != TypeDate {
		return Value{}, Value{}, fmt.Errorf("%w: %s of %q.%q requires a DATE column, got %s",
			ErrUnsupportedMetric, MetricTimeRange, name, column, col.Type)
	}
	return minMax(ctx, s, column, MetricTimeRange)
}

func minMax(ctx context.Context, s *queryScope, column, metric string) (Value, Value, error) {
	var lo, hi Value
	found := false
	for fm := range s.files {
		if err := ctx.Err(); err != nil {
			return Value{}, Value{}, err
		}
		stats, ok := fm.Columns[column]
		if !ok || stats.Min == nil || stats.Max == nil {
			continue
		}
		if !found || stats.Min.Compare(lo) < 0 {
			lo = *stats.Min
		}
		if !found || stats.Max.Compare(hi) > 0 {
			hi = *stats.Max
		}
		found = true
	}
	if !found {
		return Value{}, Value{}, &NoDataError{Table: s.schema.Table, Metric: metric, Column: column, Snapshot: s.snap.Version}
	}
	return lo, hi, nil
}

// DistinctCount always fails with ErrUnsupportedMetric: per-file statistics
// cannot bound the number of distinct values across files.
func (c *Catalog) DistinctCount(ctx context.Context, name TableName, column string, opts ...QueryOption) (int64, error) {
	s, err := c.scope(ctx, name, opts)
	if err != nil {
		return 0, err
	}
	if _, err := s.column(column); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%w: %s of %q.%q needs row data", ErrUnsupportedMetric, MetricDistinctCount, name, column)
}

// -----------------------------------------------------------------------------
// Query interface
// -----------------------------------------------------------------------------

// QueryRequest names a table, an optional snapshot and partition filter,
// and a metric.
type QueryRequest struct {
	Table     TableName
	Snapshot  SnapshotID
	Predicate Predicate
	Metric    string
	Column    string
}

// QueryResult is the typed answer to a QueryRequest. Count is set for
// row_count, Ratio for null_ratio, and Min/Max for min_max and time_range.
type QueryResult struct {
	Table    TableName  `json:"table"`
	Snapshot SnapshotID `json:"snapshot"`
	Metric   string     `json:"metric"`
	Column   string     `json:"column,omitempty"`
	Count    *int64     `json:"count,omitempty"`
	Ratio    *float64   `json:"ratio,omitempty"`
	Min      *Value     `json:"min,omitempty"`
	Max      *Value     `json:"max,omitempty"`
}

// Execute dispatches a QueryRequest to the matching metric.
func (c *Catalog) Execute(ctx context.Context, req QueryRequest) (QueryResult, error) {
	res := QueryResult{Table: req.Table, Metric: strings.ToLower(req.Metric), Column: req.Column}

	// Pin the version so every part of the answer reads one snapshot.
	snap, _, err := c.resolveSnapshot(ctx, req.Table, req.Snapshot)
	if err != nil {
		return QueryResult{}, err
	}
	res.Snapshot = snap.Version
	opts := []QueryOption{AtSnapshot(snap.Version), Where(req.Predicate)}

	switch res.Metric {
	case MetricRowCount:
		n, err := c.RowCount(ctx, req.Table, opts...)
		if err != nil {
			return QueryResult{}, err
		}
		res.Count = &n
	case MetricNullRatio:
		r, err := c.NullRatio(ctx, req.Table, req.Column, opts...)
		if err != nil {
			return QueryResult{}, err
		}
		res.Ratio = &r
	case MetricMinMax, MetricTimeRange:
		var lo, hi Value
		if res.Metric == MetricMinMax {
			lo, hi, err = c.MinMax(ctx, req.Table, req.Column, opts...)
		} else {
			lo, hi, err = c.TimeRange(ctx, req.Table, req.Column, opts...)
		}
		if err != nil {
			return QueryResult{}, err
		}
		res.Min, res.Max = &lo, &hi
	case MetricDistinctCount:
		if _, err := c.DistinctCount(ctx, req.Table, req.Column, opts...); err != nil {
			return QueryResult{}, err
		}
	default:
		return QueryResult{}, fmt.Errorf("%w: %q (want one of %s)", ErrUnsupportedMetric, req.Metric, strings.Join(Metrics, ", "))
	}
	return res, nil
}
