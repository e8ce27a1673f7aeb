package lakecat

import (
	"context"
	"errors"
	"testing"
)

// salesCatalog commits three monthly files across two years.
func salesCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := openTestCatalog(t)
	defineSales(t, c)

	jan := salesFile(t, "sales/year=2013/month=1/a.parquet", 1000, "2013-01-01", "2013-01-31")
	jan.Columns["sales"] = ColumnStats{NullCount: 10, Min: vp(DoubleValue(0)), Max: vp(DoubleValue(124717))}
	jan.Columns["family"] = ColumnStats{Min: vp(TextValue("AUTOMOTIVE")), Max: vp(TextValue("SEAFOOD"))}

	feb := salesFile(t, "sales/year=2013/month=2/b.parquet", 1000, "2013-02-01", "2013-02-28")
	feb.Columns["sales"] = ColumnStats{NullCount: 30, Min: vp(IntValue(0)), Max: vp(DoubleValue(89000.5))}
	feb.Columns["family"] = ColumnStats{Min: vp(TextValue("BABY CARE")), Max: vp(TextValue("PRODUCE"))}

	aug := salesFile(t, "sales/year=2017/month=8/c.parquet", 2000, "2017-08-01", "2017-08-15")
	aug.Columns["sales"] = ColumnStats{NullCount: 0, Min: vp(DoubleValue(1)), Max: vp(DoubleValue(50000))}
	aug.Columns["store_nbr"] = ColumnStats{Min: vp(IntValue(3)), Max: vp(IntValue(9))}

	commitFiles(t, c, "sales", 0, jan, feb)
	commitFiles(t, c, "sales", 1, aug)
	return c
}

func TestQuery_MinMax(t *testing.T) {
	c := salesCatalog(t)

	lo, hi, err := c.MinMax(t.Context(), "sales", "sales")
	if err != nil {
		t.Fatal(err)
	}
	if lo.Float() != 0 || hi.Float() != 124717 {
		t.Errorf("MinMax(sales) = [%s, %s]", lo, hi)
	}

	lo, hi, err = c.MinMax(t.Context(), "sales", "family")
	if err != nil {
		t.Fatal(err)
	}
	if lo.Text() != "AUTOMOTIVE" || hi.Text() != "SEAFOOD" {
		t.Errorf("MinMax(family) = [%s, %s]", lo, hi)
	}

	lo, hi, err = c.MinMax(t.Context(), "sales", "store_nbr", Where(FieldEquals("year", 2017)))
	if err != nil {
		t.Fatal(err)
	}
	if lo.Int() != 3 || hi.Int() != 9 {
		t.Errorf("MinMax(store_nbr | year=2017) = [%s, %s]", lo, hi)
	}
}

func TestQuery_TimeRange(t *testing.T) {
	c := salesCatalog(t)

	lo, hi, err := c.TimeRange(t.Context(), "sales", "date")
	if err != nil {
		t.Fatal(err)
	}
	if lo.String() != "2013-01-01" || hi.String() != "2017-08-15" {
		t.Errorf("TimeRange = [%s, %s]", lo, hi)
	}

	lo, hi, err = c.TimeRange(t.Context(), "sales", "", AtSnapshot(1))
	if err != nil {
		t.Fatal(err)
	}
	if hi.String() != "2013-02-28" {
		t.Errorf("TimeRange at v1 = [%s, %s]", lo, hi)
	}

	if _, _, err := c.TimeRange(t.Context(), "sales", "store_nbr"); !errors.Is(err, ErrUnsupportedMetric) {
		t.Errorf("TimeRange of INTEGER column: expected ErrUnsupportedMetric, got %v", err)
	}
}

func TestQuery_NullRatioWithPredicate(t *testing.T) {
	c := salesCatalog(t)

	ratio, err := c.NullRatio(t.Context(), "sales", "sales", Where(FieldEquals("year", 2013)))
	if err != nil {
		t.Fatal(err)
	}
	if ratio != 0.02 {
		t.Errorf("NullRatio(year=2013) = %v, want 0.02", ratio)
	}

	_, err = c.NullRatio(t.Context(), "sales", "sales", Where(FieldEquals("year", 2099)))
	var nd *NoDataError
	if !errors.As(err, &nd) {
		t.Fatalf("empty selection: expected *NoDataError, got %v", err)
	}
	if nd.Metric != MetricNullRatio || nd.Column != "sales" || nd.Snapshot != 2 {
		t.Errorf("NoDataError = %+v", nd)
	}
}

func TestQuery_ColumnNotFound(t *testing.T) {
	c := salesCatalog(t)
	_, _, err := c.MinMax(t.Context(), "sales", "transactions")
	var cnf *ColumnNotFoundError
	if !errors.As(err, &cnf) {
		t.Fatalf("expected *ColumnNotFoundError, got %v", err)
	}
	if cnf.Column != "transactions" || cnf.Table != "sales" {
		t.Errorf("error names %q.%q", cnf.Table, cnf.Column)
	}
}

func TestQuery_MinMaxNoBounds(t *testing.T) {
	c := openTestCatalog(t)
	defineSales(t, c)
	f := salesFile(t, "sales/year=2013/month=1/a.parquet", 10, "2013-01-01", "2013-01-31")
	f.Columns["family"] = ColumnStats{NullCount: 10}
	commitFiles(t, c, "sales", 0, f)

	if _, _, err := c.MinMax(t.Context(), "sales", "family"); !errors.Is(err, ErrNoData) {
		t.Errorf("all-null column: expected ErrNoData, got %v", err)
	}
}

func TestQuery_DistinctCountUnsupported(t *testing.T) {
	c := salesCatalog(t)
	if _, err := c.DistinctCount(t.Context(), "sales", "family"); !errors.Is(err, ErrUnsupportedMetric) {
		t.Errorf("expected ErrUnsupportedMetric, got %v", err)
	}
	if _, err := c.DistinctCount(t.Context(), "sales", "nope"); !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("unknown column: expected ErrColumnNotFound, got %v", err)
	}
}

func TestQuery_Execute(t *testing.T) {
	c := salesCatalog(t)

	res, err := c.Execute(t.Context(), QueryRequest{Table: "sales", Metric: "ROW_COUNT"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Snapshot != 2 || res.Count == nil || *res.Count != 4000 {
		t.Errorf("row_count result = %+v", res)
	}

	pred, err := ParsePredicate("year=2013,month=2")
	if err != nil {
		t.Fatal(err)
	}
	res, err = c.Execute(t.Context(), QueryRequest{Table: "sales", Metric: MetricNullRatio, Column: "sales", Predicate: pred})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ratio == nil || *res.Ratio != 0.03 {
		t.Errorf("null_ratio result = %+v", res)
	}

	res, err = c.Execute(t.Context(), QueryRequest{Table: "sales", Snapshot: 1, Metric: MetricTimeRange})
	if err != nil {
		t.Fatal(err)
	}
	if res.Snapshot != 1 || res.Min.String() != "2013-01-01" || res.Max.String() != "2013-02-28" {
		t.Errorf("time_range result = %+v", res)
	}

	if _, err := c.Execute(t.Context(), QueryRequest{Table: "sales", Metric: "median"}); !errors.Is(err, ErrUnsupportedMetric) {
		t.Errorf("unknown metric: expected ErrUnsupportedMetric, got %v", err)
	}
}

func TestQuery_CancelledContext(t *testing.T) {
	c := salesCatalog(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := c.RowCount(ctx, "sales"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
