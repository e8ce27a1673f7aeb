//go:build unix

package lakecat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// CompareAndSwap replaces the file at key if its content equals expected.
// An empty expected value requires the file to be absent.
//
// The comparison runs under an flock on a companion .lock file; the new
// content is written to a temp file and renamed into place.
func (f *fsStore) CompareAndSwap(_ context.Context, key, expected, replacement string) error {
	full, err := f.resolve(key, false)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	lock, err := os.OpenFile(full+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("lakecat: open lock file: %w", err)
	}
	defer closer(lock)()
	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lakecat: flock %q: %w", key, err)
	}
	defer func() { _ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN) }()

	current, err := os.ReadFile(full)
	switch {
	case err != nil && !os.IsNotExist(err):
		return err
	case err != nil && expected != "":
		return ErrSnapshotConflict
	case err == nil && string(current) != expected:
		return ErrSnapshotConflict
	}

	tmp, err := os.CreateTemp(dir, ".lakecat-cas-*")
	if err != nil {
		return fmt.Errorf("lakecat: create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(replacement); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, full); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
