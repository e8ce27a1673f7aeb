package lakecat

import (
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Shared fixtures
// -----------------------------------------------------------------------------

func vp(v Value) *Value { return &v }

func mustDate(t testing.TB, s string) Value {
	t.Helper()
	v, err := ParseValue(TypeDate, s)
	if err != nil {
		t.Fatalf("ParseValue(DATE, %q): %v", s, err)
	}
	return v
}

func salesColumns() []Column {
	return []Column{
		{Name: "date", Type: TypeDate},
		{Name: "store_nbr", Type: TypeInteger},
		{Name: "sales", Type: TypeDouble, Nullable: true},
		{Name: "family", Type: TypeText, Nullable: true},
	}
}

func salesSpec(t testing.TB) PartitionSpec {
	t.Helper()
	spec, err := ParsePartitionSpec("year(date)", "month(date)")
	if err != nil {
		t.Fatalf("ParsePartitionSpec: %v", err)
	}
	return spec
}

// salesFile builds a manifest whose date bounds are [from, to].
func salesFile(t testing.TB, path string, rows int64, from, to string) FileManifest {
	t.Helper()
	return FileManifest{
		Path:      path,
		RowCount:  rows,
		SizeBytes: rows * 16,
		Columns: map[string]ColumnStats{
			"date":      {Min: vp(mustDate(t, from)), Max: vp(mustDate(t, to))},
			"store_nbr": {Min: vp(IntValue(1)), Max: vp(IntValue(54))},
		},
	}
}

func openTestCatalog(t *testing.T, opts ...Option) *Catalog {
	t.Helper()
	c, err := Open(t.Context(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// defineSales creates the partitioned sales table.
func defineSales(t *testing.T, c *Catalog) {
	t.Helper()
	if _, err := c.DefineTable(t.Context(), "sales", salesColumns(), salesSpec(t)); err != nil {
		t.Fatalf("DefineTable: %v", err)
	}
}

func commitFiles(t *testing.T, c *Catalog, table TableName, base SnapshotID, files ...FileManifest) *Snapshot {
	t.Helper()
	snap, err := c.Commit(t.Context(), CommitRequest{Table: table, Base: base, Added: files})
	if err != nil {
		t.Fatalf("Commit(base=%d): %v", base, err)
	}
	return snap
}

func fixedClock() func() time.Time {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}
