package s3

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/pithecene-io/lakecat/lakecat"
)

// -----------------------------------------------------------------------------
// Unit tests for the S3 store
// These use the mock client and don't require real S3/LocalStack/MinIO.
// -----------------------------------------------------------------------------

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(nil, Config{Bucket: "meta"}); err == nil {
		t.Error("expected error for nil client")
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(newMockClient(), Config{}); err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestNew_PrefixNormalization(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
	}{
		{"", ""},
		{"lake", "lake/"},
		{"lake/", "lake/"},
		{"lake/meta", "lake/meta/"},
	}
	for _, tt := range tests {
		store, err := New(newMockClient(), Config{Bucket: "meta", Prefix: tt.prefix})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if store.prefix != tt.expected {
			t.Errorf("prefix %q: expected %q, got %q", tt.prefix, tt.expected, store.prefix)
		}
	}
}

// -----------------------------------------------------------------------------
// Object operations
// -----------------------------------------------------------------------------

func TestStore_PutGetWithPrefix(t *testing.T) {
	ctx := t.Context()
	client := newMockClient()
	store, _ := New(client, Config{Bucket: "meta", Prefix: "lake"})

	if err := store.Put(ctx, "tables/oil/schemas/1.json", bytes.NewReader([]byte("v1"))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got, ok := client.raw("lake/tables/oil/schemas/1.json"); !ok || got != "v1" {
		t.Errorf("raw object = %q, %v", got, ok)
	}

	rc, err := store.Get(ctx, "tables/oil/schemas/1.json")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rc.Close() }()
	data, _ := io.ReadAll(rc)
	if string(data) != "v1" {
		t.Errorf("Get = %q", data)
	}
}

func TestStore_PutNeverOverwrites(t *testing.T) {
	ctx := t.Context()
	store, _ := New(newMockClient(), Config{Bucket: "meta"})

	if err := store.Put(ctx, "a.json", bytes.NewReader([]byte("first"))); err != nil {
		t.Fatal(err)
	}
	err := store.Put(ctx, "a.json", bytes.NewReader([]byte("second")))
	if !errors.Is(err, lakecat.ErrPathExists) {
		t.Errorf("expected ErrPathExists, got %v", err)
	}
}

func TestStore_MissingObjects(t *testing.T) {
	ctx := t.Context()
	store, _ := New(newMockClient(), Config{Bucket: "meta"})

	if _, err := store.Get(ctx, "nope.json"); !errors.Is(err, lakecat.ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	ok, err := store.Exists(ctx, "nope.json")
	if err != nil || ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	if err := store.Delete(ctx, "nope.json"); err != nil {
		t.Errorf("Delete on missing key: %v", err)
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	ctx := t.Context()
	store, _ := New(newMockClient(), Config{Bucket: "meta"})

	for _, key := range []string{"", ".", "..", "../x", "a/../../x"} {
		if err := store.Put(ctx, key, bytes.NewReader(nil)); !errors.Is(err, lakecat.ErrInvalidPath) {
			t.Errorf("Put(%q): expected ErrInvalidPath, got %v", key, err)
		}
	}
	if _, err := store.List(ctx, "../"); !errors.Is(err, lakecat.ErrInvalidPath) {
		t.Errorf("List(../): expected ErrInvalidPath, got %v", err)
	}
}

func TestStore_ListPaginates(t *testing.T) {
	ctx := t.Context()
	client := newMockClient()
	client.pageSize = 2
	store, _ := New(client, Config{Bucket: "meta", Prefix: "lake"})

	want := []string{
		"tables/sales/snapshots/1.json",
		"tables/sales/snapshots/2.json",
		"tables/sales/snapshots/3.json",
		"tables/sales/snapshots/4.json",
		"tables/sales/snapshots/5.json",
	}
	for _, k := range want {
		if err := store.Put(ctx, k, bytes.NewReader(nil)); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Put(ctx, "tables/salesx/HEAD", bytes.NewReader(nil)); err != nil {
		t.Fatal(err)
	}

	got, err := store.List(ctx, "tables/sales/")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}
	if client.listCalls != 3 {
		t.Errorf("listCalls = %d, want 3 pages", client.listCalls)
	}
}

// -----------------------------------------------------------------------------
// CompareAndSwap
// -----------------------------------------------------------------------------

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := t.Context()
	client := newMockClient()
	store, _ := New(client, Config{Bucket: "meta"})

	if err := store.CompareAndSwap(ctx, "tables/oil/HEAD", "1", "2"); !errors.Is(err, lakecat.ErrSnapshotConflict) {
		t.Errorf("swap on missing key: got %v", err)
	}
	if err := store.CompareAndSwap(ctx, "tables/oil/HEAD", "", "1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CompareAndSwap(ctx, "tables/oil/HEAD", "", "1"); !errors.Is(err, lakecat.ErrSnapshotConflict) {
		t.Errorf("second create: got %v", err)
	}
	if err := store.CompareAndSwap(ctx, "tables/oil/HEAD", "1", "2"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.CompareAndSwap(ctx, "tables/oil/HEAD", "1", "3"); !errors.Is(err, lakecat.ErrSnapshotConflict) {
		t.Errorf("stale update: got %v", err)
	}
	if got, _ := client.raw("tables/oil/HEAD"); got != "2" {
		t.Errorf("HEAD = %q, want 2", got)
	}
}

func TestStore_CompareAndSwap_LosesRace(t *testing.T) {
	ctx := t.Context()
	client := newMockClient()
	store, _ := New(client, Config{Bucket: "meta"})
	if err := store.CompareAndSwap(ctx, "HEAD", "", "1"); err != nil {
		t.Fatal(err)
	}

	// Another writer lands between our read and our conditional put.
	raced := false
	client.beforePut = func(key string) {
		if raced || key != "HEAD" {
			return
		}
		raced = true
		client.mu.Lock()
		client.objects[key] = []byte("5")
		client.mu.Unlock()
	}

	err := store.CompareAndSwap(ctx, "HEAD", "1", "2")
	if !errors.Is(err, lakecat.ErrSnapshotConflict) {
		t.Fatalf("expected ErrSnapshotConflict, got %v", err)
	}
	if got, _ := client.raw("HEAD"); got != "5" {
		t.Errorf("HEAD = %q, want the racing writer's value", got)
	}
}

// -----------------------------------------------------------------------------
// Catalog over S3
// -----------------------------------------------------------------------------

func oilManifest(t *testing.T, path, from, to string) lakecat.FileManifest {
	t.Helper()
	lo, err := lakecat.ParseValue(lakecat.TypeDate, from)
	if err != nil {
		t.Fatal(err)
	}
	hi, err := lakecat.ParseValue(lakecat.TypeDate, to)
	if err != nil {
		t.Fatal(err)
	}
	return lakecat.FileManifest{
		Path:      path,
		RowCount:  100,
		SizeBytes: 2048,
		Columns: map[string]lakecat.ColumnStats{
			"date":       {Min: &lo, Max: &hi},
			"dcoilwtico": {NullCount: 10},
		},
	}
}

func TestCatalog_OverS3(t *testing.T) {
	ctx := t.Context()
	client := newMockClient()
	cfg := Config{Bucket: "meta", Prefix: "lakecat"}

	open := func() *lakecat.Catalog {
		meta, err := lakecat.NewObjectMetaStore(Factory(client, cfg), lakecat.WithCompressor(lakecat.NewZstdCompressor()))
		if err != nil {
			t.Fatal(err)
		}
		c, err := lakecat.Open(ctx, lakecat.WithMetaStore(meta))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	writer := open()
	spec, err := lakecat.ParsePartitionSpec("year(date)")
	if err != nil {
		t.Fatal(err)
	}
	columns := []lakecat.Column{
		{Name: "date", Type: lakecat.TypeDate},
		{Name: "dcoilwtico", Type: lakecat.TypeDouble, Nullable: true},
	}
	if _, err := writer.DefineTable(ctx, "oil", columns, spec); err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Append(ctx, "oil", oilManifest(t, "oil/year=2013/part-0.parquet", "2013-01-01", "2013-12-31")); err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Append(ctx, "oil", oilManifest(t, "oil/year=2014/part-0.parquet", "2014-01-01", "2014-12-31")); err != nil {
		t.Fatal(err)
	}
	if got, _ := client.raw("lakecat/tables/oil/HEAD"); got != "2" {
		t.Errorf("HEAD = %q, want 2", got)
	}

	reader := open()
	cur, err := reader.Current(ctx, "oil")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Version != 2 || cur.RowCount != 200 {
		t.Errorf("reopened at v%d with %d rows", cur.Version, cur.RowCount)
	}
	ratio, err := reader.NullRatio(ctx, "oil", "dcoilwtico")
	if err != nil {
		t.Fatal(err)
	}
	if ratio != 0.1 {
		t.Errorf("NullRatio = %v, want 0.1", ratio)
	}

	// The stale writer still believes v2 is current; a second process moved on.
	if _, err := reader.Append(ctx, "oil", oilManifest(t, "oil/year=2015/part-0.parquet", "2015-01-01", "2015-06-30")); err != nil {
		t.Fatal(err)
	}
	_, err = writer.Commit(ctx, lakecat.CommitRequest{
		Table: "oil",
		Base:  2,
		Added: []lakecat.FileManifest{oilManifest(t, "oil/year=2016/part-0.parquet", "2016-01-01", "2016-03-31")},
	})
	var cme *lakecat.ConcurrentModificationError
	if !errors.As(err, &cme) {
		t.Fatalf("expected ConcurrentModificationError, got %v", err)
	}
}
