// Package testutil provides helpers for examples and tests.
package testutil

import (
	"os"
	"path/filepath"
)

// TB is the part of testing.TB the helpers use.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RemoveAll removes the path and any children. Errors are ignored.
// Use for defer cleanup in examples and tests.
//
// Usage:
//
//	defer testutil.RemoveAll(lakeDir)
func RemoveAll(path string) { _ = os.RemoveAll(path) }

// TouchFiles creates each slash-separated relative path under root with
// placeholder content, creating parent directories as needed.
func TouchFiles(tb TB, root string, rels ...string) {
	tb.Helper()
	for _, rel := range rels {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			tb.Fatalf("mkdir for %q: %v", rel, err)
		}
		if err := os.WriteFile(full, []byte("PAR1"), 0o644); err != nil {
			tb.Fatalf("write %q: %v", rel, err)
		}
	}
}
