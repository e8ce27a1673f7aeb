package lakecat

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
)

type oilRow struct {
	Date  int32    `parquet:"date,date"`
	Price *float64 `parquet:"dcoilwtico,optional"`
	Note  string   `parquet:"note"`
}

func writeOilParquet(t *testing.T, path string, rows []oilRow) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closer(f)()
	w := parquet.NewGenericWriter[oilRow](f)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
}

func oilDay(y int, m time.Month, d int) int32 {
	return int32(DateValue(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)).Days())
}

func TestReadParquetManifest(t *testing.T) {
	root := t.TempDir()
	resolver, err := NewPathResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	price := func(v float64) *float64 { return &v }
	abs := filepath.Join(root, "oil", "year=2013", "part-0.parquet")
	writeOilParquet(t, abs, []oilRow{
		{Date: oilDay(2013, 1, 1), Price: nil},
		{Date: oilDay(2013, 1, 2), Price: price(93.14)},
		{Date: oilDay(2013, 6, 30), Price: price(97.01)},
		{Date: oilDay(2013, 12, 31), Price: price(98.17)},
	})

	spec, err := ParsePartitionSpec("year(date)")
	if err != nil {
		t.Fatal(err)
	}
	schema := &Schema{
		Table:   "oil",
		Version: 1,
		Columns: []Column{
			{Name: "date", Type: TypeDate},
			{Name: "dcoilwtico", Type: TypeDouble, Nullable: true},
		},
		Partitioning: spec,
	}

	fm, err := ReadParquetManifest(t.Context(), resolver, abs, schema)
	if err != nil {
		t.Fatal(err)
	}
	if fm.Path != "oil/year=2013/part-0.parquet" {
		t.Errorf("Path = %q", fm.Path)
	}
	if fm.RowCount != 4 || fm.SizeBytes <= 0 {
		t.Errorf("RowCount = %d, SizeBytes = %d", fm.RowCount, fm.SizeBytes)
	}
	if fm.Partition.String() != "year=2013" {
		t.Errorf("Partition = %s", fm.Partition)
	}
	if _, ok := fm.Columns["note"]; ok {
		t.Error("column outside the schema was read")
	}

	date := fm.Columns["date"]
	if date.Min == nil || date.Min.String() != "2013-01-01" || date.Max.String() != "2013-12-31" {
		t.Errorf("date stats = %+v", date)
	}
	oil := fm.Columns["dcoilwtico"]
	if oil.NullCount != 1 {
		t.Errorf("dcoilwtico null count = %d, want 1", oil.NullCount)
	}
	if oil.Min == nil || oil.Min.Float() != 93.14 || oil.Max.Float() != 98.17 {
		t.Errorf("dcoilwtico bounds = %v..%v", oil.Min, oil.Max)
	}

	// The manifest is accepted by a catalog with the same schema.
	c := openTestCatalog(t, WithLakeRoot(root))
	if _, err := c.DefineTable(t.Context(), "oil", schema.Columns, spec); err != nil {
		t.Fatal(err)
	}
	commitFiles(t, c, "oil", 0, *fm)
	ratio, err := c.NullRatio(t.Context(), "oil", "dcoilwtico")
	if err != nil {
		t.Fatal(err)
	}
	if ratio != 0.25 {
		t.Errorf("NullRatio = %v, want 0.25", ratio)
	}
}

func TestReadParquetManifest_OutsideLake(t *testing.T) {
	resolver, err := NewPathResolver(filepath.Join(t.TempDir(), "lake"))
	if err != nil {
		t.Fatal(err)
	}
	elsewhere := filepath.Join(t.TempDir(), "oil.parquet")
	_, err = ReadParquetManifest(t.Context(), resolver, elsewhere, &Schema{Table: "oil"})
	if !errors.Is(err, ErrPathOutsideLake) {
		t.Errorf("expected ErrPathOutsideLake, got %v", err)
	}
}
