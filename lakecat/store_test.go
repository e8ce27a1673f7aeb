package lakecat

import (
	"bytes"
	"errors"
	"io"
	"os"
	"slices"
	"testing"

	"github.com/pithecene-io/lakecat/internal/testutil"
)

// storeFactories returns one of each built-in store for shared contract tests.
func storeFactories(t *testing.T) map[string]Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "lakecat-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { testutil.RemoveAll(tmpDir) })

	fsys, err := NewFS(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{"fs": fsys, "memory": NewMemory()}
}

// -----------------------------------------------------------------------------
// Write-once contract
// -----------------------------------------------------------------------------

func TestStore_PutNeverOverwrites(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			if err := store.Put(ctx, "tables/sales/snapshots/1.json", bytes.NewReader([]byte("first"))); err != nil {
				t.Fatalf("first Put failed: %v", err)
			}
			err := store.Put(ctx, "tables/sales/snapshots/1.json", bytes.NewReader([]byte("second")))
			if !errors.Is(err, ErrPathExists) {
				t.Errorf("expected ErrPathExists, got: %v", err)
			}

			rc, err := store.Get(ctx, "tables/sales/snapshots/1.json")
			if err != nil {
				t.Fatal(err)
			}
			defer closer(rc)()
			data, _ := io.ReadAll(rc)
			if string(data) != "first" {
				t.Errorf("content = %q, want %q", data, "first")
			}
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(t.Context(), "nope.json"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			ok, err := store.Exists(t.Context(), "nope.json")
			if err != nil || ok {
				t.Errorf("Exists = %v, %v", ok, err)
			}
		})
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			for _, k := range []string{"tables/oil/schemas/1.json", "tables/sales/snapshots/2.json", "tables/sales/snapshots/1.json"} {
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

			if err := store.Delete(ctx, "tables/sales/snapshots/1.json"); err != nil {
				t.Fatal(err)
			}
			if err := store.Delete(ctx, "tables/sales/snapshots/1.json"); err != nil {
				t.Errorf("deleting a missing key: %v", err)
			}
			keys, _ = store.List(ctx, "")
			if len(keys) != 2 {
				t.Errorf("after delete List = %v", keys)
			}
		})
	}
}

func TestStore_RejectsEscapingKeys(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"../escape.json", "a/../../escape.json", ""} {
				if err := store.Put(t.Context(), k, bytes.NewReader(nil)); !errors.Is(err, ErrInvalidPath) {
					t.Errorf("Put(%q): expected ErrInvalidPath, got %v", k, err)
				}
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Memory CompareAndSwap
// -----------------------------------------------------------------------------

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	ctx := t.Context()
	cw := NewMemory().(ConditionalWriter)

	if err := cw.CompareAndSwap(ctx, "HEAD", "1", "2"); !errors.Is(err, ErrSnapshotConflict) {
		t.Errorf("swap on missing key with expectation: got %v", err)
	}
	if err := cw.CompareAndSwap(ctx, "HEAD", "", "1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := cw.CompareAndSwap(ctx, "HEAD", "", "1"); !errors.Is(err, ErrSnapshotConflict) {
		t.Errorf("second create: got %v", err)
	}
	if err := cw.CompareAndSwap(ctx, "HEAD", "1", "2"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := cw.CompareAndSwap(ctx, "HEAD", "1", "3"); !errors.Is(err, ErrSnapshotConflict) {
		t.Errorf("stale update: got %v", err)
	}
}
