package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/pithecene-io/lakecat/lakecat"
)

// -----------------------------------------------------------------------------
// Fake bucket with generation preconditions
// -----------------------------------------------------------------------------

type fakeObject struct {
	data []byte
	gen  int64
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	nextGen int64

	// beforeWrite runs before preconditions are evaluated.
	beforeWrite func(key string)
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string]fakeObject)}
}

func (b *fakeBucket) Read(_ context.Context, key string) ([]byte, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, 0, storage.ErrObjectNotExist
	}
	return slices.Clone(obj.data), obj.gen, nil
}

func (b *fakeBucket) Write(_ context.Context, key string, data []byte, cond *storage.Conditions) error {
	if hook := b.beforeWrite; hook != nil {
		hook(key)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, exists := b.objects[key]
	if cond != nil {
		failed := (cond.DoesNotExist && exists) ||
			(cond.GenerationMatch != 0 && (!exists || obj.gen != cond.GenerationMatch))
		if failed {
			return &googleapi.Error{Code: http.StatusPreconditionFailed, Message: "conditionNotMet"}
		}
	}
	b.nextGen++
	b.objects[key] = fakeObject{data: slices.Clone(data), gen: b.nextGen}
	return nil
}

func (b *fakeBucket) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *fakeBucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return storage.ErrObjectNotExist
	}
	delete(b.objects, key)
	return nil
}

func (b *fakeBucket) List(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	return names, nil
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri, bucket, prefix string
		wantErr             bool
	}{
		{uri: "gs://lake-meta", bucket: "lake-meta"},
		{uri: "gs://lake-meta/prod/catalog", bucket: "lake-meta", prefix: "prod/catalog"},
		{uri: "s3://lake-meta/x", wantErr: true},
		{uri: "gs:///x", wantErr: true},
	}
	for _, tt := range tests {
		bucket, prefix, err := ParseURI(tt.uri)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseURI(%q): expected error", tt.uri)
			}
			continue
		}
		if err != nil || bucket != tt.bucket || prefix != tt.prefix {
			t.Errorf("ParseURI(%q) = %q, %q, %v", tt.uri, bucket, prefix, err)
		}
	}
}

func TestStore_WriteOnce(t *testing.T) {
	ctx := t.Context()
	b := newFakeBucket()
	store, err := New(b, "catalog")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Put(ctx, "tables/oil/schemas/1.json", bytes.NewReader([]byte("v1"))); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.objects["catalog/tables/oil/schemas/1.json"]; !ok {
		t.Error("object not stored under the prefix")
	}
	if err := store.Put(ctx, "tables/oil/schemas/1.json", bytes.NewReader([]byte("v2"))); !errors.Is(err, lakecat.ErrPathExists) {
		t.Errorf("expected ErrPathExists, got %v", err)
	}

	rc, err := store.Get(ctx, "tables/oil/schemas/1.json")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "v1" {
		t.Errorf("Get = %q", data)
	}
	if _, err := store.Get(ctx, "missing.json"); !errors.Is(err, lakecat.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "missing.json"); err != nil {
		t.Errorf("Delete on missing key: %v", err)
	}
	if err := store.Put(ctx, "../escape", bytes.NewReader(nil)); !errors.Is(err, lakecat.ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}
}

func TestStore_ListRelativeSorted(t *testing.T) {
	ctx := t.Context()
	store, _ := New(newFakeBucket(), "catalog/")
	for _, k := range []string{"tables/sales/snapshots/2.json", "tables/sales/snapshots/1.json", "tables/oil/HEAD"} {
		if err := store.Put(ctx, k, bytes.NewReader(nil)); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := store.List(ctx, "tables/sales/")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"tables/sales/snapshots/1.json", "tables/sales/snapshots/2.json"}
	if !slices.Equal(keys, want) {
		t.Errorf("List = %v, want %v", keys, want)
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := t.Context()
	b := newFakeBucket()
	store, _ := New(b, "")

	if err := store.CompareAndSwap(ctx, "HEAD", "1", "2"); !errors.Is(err, lakecat.ErrSnapshotConflict) {
		t.Errorf("missing with expectation: got %v", err)
	}
	if err := store.CompareAndSwap(ctx, "HEAD", "", "1"); err != nil {
		t.Fatal(err)
	}
	if err := store.CompareAndSwap(ctx, "HEAD", "", "1"); !errors.Is(err, lakecat.ErrSnapshotConflict) {
		t.Errorf("second create: got %v", err)
	}
	if err := store.CompareAndSwap(ctx, "HEAD", "1", "2"); err != nil {
		t.Fatal(err)
	}

	// A writer that slips in after the read bumps the generation.
	b.beforeWrite = func(key string) {
		b.beforeWrite = nil
		_ = b.Write(ctx, key, []byte("9"), nil)
	}
	if err := store.CompareAndSwap(ctx, "HEAD", "2", "3"); !errors.Is(err, lakecat.ErrSnapshotConflict) {
		t.Errorf("raced swap: got %v", err)
	}
	if data, _, _ := b.Read(ctx, "HEAD"); string(data) != "9" {
		t.Errorf("HEAD = %q, want 9", data)
	}
}

func TestCatalog_OverGCS(t *testing.T) {
	ctx := t.Context()
	b := newFakeBucket()
	factory := func() (lakecat.Store, error) { return New(b, "lake") }

	open := func() *lakecat.Catalog {
		meta, err := lakecat.NewObjectMetaStore(factory)
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

	c := open()
	_, err := c.Commit(ctx, lakecat.CommitRequest{
		Table:   "transactions",
		Columns: []lakecat.Column{{Name: "store_nbr", Type: lakecat.TypeInteger}, {Name: "transactions", Type: lakecat.TypeInteger}},
		Added: []lakecat.FileManifest{
			{Path: "transactions/part-0.parquet", RowCount: 83488, SizeBytes: 1 << 20},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	reopened := open()
	rows, err := reopened.RowCount(ctx, "transactions")
	if err != nil {
		t.Fatal(err)
	}
	if rows != 83488 {
		t.Errorf("RowCount = %d, want 83488", rows)
	}
	if data, _, err := b.Read(ctx, "lake/tables/transactions/HEAD"); err != nil || string(data) != "1" {
		t.Errorf("HEAD = %q, %v", data, err)
	}
}
