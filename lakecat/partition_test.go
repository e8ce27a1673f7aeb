package lakecat

import (
	"errors"
	"testing"
)

// -----------------------------------------------------------------------------
// Path decoding
// -----------------------------------------------------------------------------

func TestDecodePartitionPath(t *testing.T) {
	key, err := DecodePartitionPath("train/year=2013/month=01/family=BREAD%2FBAKERY/part-0.parquet")
	if err != nil {
		t.Fatal(err)
	}
	want := PartitionKey{
		{Name: "year", Value: "2013"},
		{Name: "month", Value: "01"},
		{Name: "family", Value: "BREAD/BAKERY"},
	}
	if len(key) != len(want) {
		t.Fatalf("got %v, want %v", key, want)
	}
	for i := range want {
		if key[i] != want[i] {
			t.Errorf("component %d = %+v, want %+v", i, key[i], want[i])
		}
	}
	if got := EncodePartitionPath(key); got != "year=2013/month=01/family=BREAD%2FBAKERY" {
		t.Errorf("EncodePartitionPath = %q", got)
	}
}

func TestDecodePartitionPath_FileNameIgnored(t *testing.T) {
	key, err := DecodePartitionPath("year=2013/x=1.parquet")
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 1 || key[0].Name != "year" {
		t.Errorf("got %v, want only year", key)
	}
}

func TestDecodePartitionPath_Malformed(t *testing.T) {
	for _, p := range []string{
		"=2013/f.parquet",
		"ye-ar=2013/f.parquet",
		"year=2013/year=2014/f.parquet",
		"family=%zz/f.parquet",
	} {
		if _, err := DecodePartitionPath(p); !errors.Is(err, ErrMalformedPartitionPath) {
			t.Errorf("DecodePartitionPath(%q): expected ErrMalformedPartitionPath, got %v", p, err)
		}
	}
}

func TestPartitionKey_EqualNumeric(t *testing.T) {
	a := PartitionKey{{Name: "year", Value: "2013"}, {Name: "month", Value: "01"}}
	b := PartitionKey{{Name: "year", Value: "2013"}, {Name: "month", Value: "1"}}
	if !a.Equal(b) {
		t.Error("month=01 and month=1 should be equal")
	}
	if a.canonical() != b.canonical() {
		t.Errorf("canonical forms differ: %q vs %q", a.canonical(), b.canonical())
	}
	if ComparePartitionValues("9", "10") >= 0 {
		t.Error("integer-looking values must compare numerically")
	}
	if ComparePartitionValues("GROCERY", "BEVERAGES") <= 0 {
		t.Error("text values compare lexicographically")
	}
}

// -----------------------------------------------------------------------------
// Partition spec
// -----------------------------------------------------------------------------

func TestParsePartitionField(t *testing.T) {
	tests := []struct {
		in   string
		want PartitionField
	}{
		{"year(date)", PartitionField{Name: "year", Source: "date", Transform: TransformYear}},
		{"MONTH( date )", PartitionField{Name: "month", Source: "date", Transform: TransformMonth}},
		{"store_nbr", PartitionField{Name: "store_nbr", Source: "store_nbr", Transform: TransformIdentity}},
		{"identity(family)", PartitionField{Name: "family", Source: "family", Transform: TransformIdentity}},
	}
	for _, tt := range tests {
		got, err := ParsePartitionField(tt.in)
		if err != nil {
			t.Fatalf("ParsePartitionField(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePartitionField(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "hour(date)", "year(date", "year()", "a b"} {
		if _, err := ParsePartitionField(bad); err == nil {
			t.Errorf("ParsePartitionField(%q): expected error", bad)
		}
	}
}

// -----------------------------------------------------------------------------
// Key derivation
// -----------------------------------------------------------------------------

func TestDeriveKey(t *testing.T) {
	spec := salesSpec(t)

	t.Run("from path", func(t *testing.T) {
		fm := salesFile(t, "sales/year=2013/month=1/a.parquet", 10, "2013-01-01", "2013-01-31")
		key, err := deriveKey("sales", spec, &fm)
		if err != nil {
			t.Fatal(err)
		}
		if key.String() != "year=2013/month=1" {
			t.Errorf("key = %q", key.String())
		}
	})

	t.Run("declared agrees", func(t *testing.T) {
		fm := salesFile(t, "sales/year=2013/month=01/a.parquet", 10, "2013-01-01", "2013-01-31")
		fm.Partition = PartitionKey{{Name: "month", Value: "1"}, {Name: "year", Value: "2013"}}
		key, err := deriveKey("sales", spec, &fm)
		if err != nil {
			t.Fatal(err)
		}
		if key[0].Name != "year" || key[1].Name != "month" {
			t.Errorf("key not in spec order: %v", key)
		}
	})

	t.Run("declared contradicts path", func(t *testing.T) {
		fm := salesFile(t, "sales/year=2013/month=1/a.parquet", 10, "2013-01-01", "2013-01-31")
		fm.Partition = PartitionKey{{Name: "year", Value: "2014"}}
		_, err := deriveKey("sales", spec, &fm)
		var pm *PartitionMismatchError
		if !errors.As(err, &pm) {
			t.Fatalf("expected *PartitionMismatchError, got %v", err)
		}
		if pm.Path != fm.Path {
			t.Errorf("error names %q", pm.Path)
		}
	})

	t.Run("stats contradict path", func(t *testing.T) {
		fm := salesFile(t, "sales/year=2013/month=1/a.parquet", 10, "2014-01-01", "2014-01-31")
		if _, err := deriveKey("sales", spec, &fm); !errors.Is(err, ErrPartitionMismatch) {
			t.Fatalf("expected ErrPartitionMismatch, got %v", err)
		}
	})

	t.Run("stats spanning buckets are not checked", func(t *testing.T) {
		fm := salesFile(t, "sales/year=2013/month=1/a.parquet", 10, "2013-01-01", "2013-02-28")
		if _, err := deriveKey("sales", spec, &fm); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("missing segment", func(t *testing.T) {
		fm := salesFile(t, "sales/year=2013/a.parquet", 10, "2013-01-01", "2013-01-31")
		if _, err := deriveKey("sales", spec, &fm); !errors.Is(err, ErrPartitionMismatch) {
			t.Fatalf("expected ErrPartitionMismatch, got %v", err)
		}
	})

	t.Run("extra segment", func(t *testing.T) {
		fm := salesFile(t, "sales/year=2013/month=1/store=4/a.parquet", 10, "2013-01-01", "2013-01-31")
		if _, err := deriveKey("sales", spec, &fm); !errors.Is(err, ErrPartitionMismatch) {
			t.Fatalf("expected ErrPartitionMismatch, got %v", err)
		}
	})

	t.Run("unpartitioned", func(t *testing.T) {
		fm := FileManifest{Path: "oil/oil.parquet", RowCount: 1218}
		key, err := deriveKey("oil", nil, &fm)
		if err != nil {
			t.Fatal(err)
		}
		if len(key) != 0 {
			t.Errorf("key = %v, want empty", key)
		}
	})
}

// -----------------------------------------------------------------------------
// Predicates
// -----------------------------------------------------------------------------

func TestParsePredicate(t *testing.T) {
	k2013m6 := PartitionKey{{Name: "year", Value: "2013"}, {Name: "month", Value: "6"}}
	k2013m2 := PartitionKey{{Name: "year", Value: "2013"}, {Name: "month", Value: "2"}}
	k2014m12 := PartitionKey{{Name: "year", Value: "2014"}, {Name: "month", Value: "12"}}

	tests := []struct {
		expr string
		key  PartitionKey
		want bool
	}{
		{"year=2013", k2013m6, true},
		{"year=2013", k2014m12, false},
		{"year=2013,month>=6", k2013m6, true},
		{"year=2013,month>=6", k2013m2, false},
		{"month>10", k2014m12, true},
		{"month<=2", k2013m2, true},
		{"year!=2013", k2014m12, true},
		{"month=2|6", k2013m6, true},
		{"month=2|6", k2014m12, false},
		{"store_nbr=1", k2013m6, false},
	}
	for _, tt := range tests {
		p, err := ParsePredicate(tt.expr)
		if err != nil {
			t.Fatalf("ParsePredicate(%q): %v", tt.expr, err)
		}
		if got := p.Match(tt.key); got != tt.want {
			t.Errorf("%q on %s = %v, want %v", tt.expr, tt.key, got, tt.want)
		}
	}

	if p, err := ParsePredicate(""); err != nil || p != nil {
		t.Errorf("empty predicate = %v, %v; want nil, nil", p, err)
	}
	for _, bad := range []string{"year", "=2013", "year=", "year~2013"} {
		if _, err := ParsePredicate(bad); err == nil {
			t.Errorf("ParsePredicate(%q): expected error", bad)
		}
	}
}

func TestPredicateCombinators(t *testing.T) {
	key := PartitionKey{{Name: "year", Value: "2015"}}
	if !FieldBetween("year", 2013, 2015).Match(key) {
		t.Error("FieldBetween is inclusive")
	}
	if !Or(FieldEquals("year", 2013), FieldIn("year", 2014, 2015)).Match(key) {
		t.Error("Or should match via FieldIn")
	}
	if And(FieldEquals("year", 2015), FieldEquals("month", 1)).Match(key) {
		t.Error("missing field must never match")
	}
	if !And().Match(key) || Or().Match(key) {
		t.Error("empty And matches everything, empty Or nothing")
	}
}
