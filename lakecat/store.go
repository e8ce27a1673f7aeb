package lakecat

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// NewFSFactory returns a StoreFactory for a filesystem store rooted at dir.
// The directory is created if missing.
func NewFSFactory(dir string) StoreFactory {
	return func() (Store, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return NewFS(dir)
	}
}

// NewMemoryFactory returns a StoreFactory for a fresh in-memory store.
func NewMemoryFactory() StoreFactory {
	return func() (Store, error) { return NewMemory(), nil }
}

// cleanKey normalizes a store key to a slash-separated relative form.
// Prefix keys may be empty; object keys may not.
func cleanKey(key string, prefix bool) (string, bool) {
	if key == "" {
		return "", prefix
	}
	cleaned := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(key)), "/")
	switch {
	case cleaned == ".":
		return "", prefix
	case cleaned == ".." || strings.HasPrefix(cleaned, "../"):
		return "", false
	}
	return cleaned, true
}

// -----------------------------------------------------------------------------
// Filesystem store
// -----------------------------------------------------------------------------

// fsStore keeps metadata objects as files under a root directory.
type fsStore struct {
	root string
}

// NewFS creates a filesystem-backed Store rooted at an existing directory.
//
// Writes are immediately visible to readers. CompareAndSwap is available on
// Unix platforms.
func NewFS(root string) (Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrNotExist
	}
	return &fsStore{root: abs}, nil
}

// resolve maps a key to a file below the root.
func (f *fsStore) resolve(key string, prefix bool) (string, error) {
	cleaned, ok := cleanKey(key, prefix)
	if !ok || filepath.IsAbs(key) {
		return "", ErrInvalidPath
	}
	full := filepath.Join(f.root, filepath.FromSlash(cleaned))
	if full != f.root && !strings.HasPrefix(full, f.root+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}

func (f *fsStore) Put(_ context.Context, key string, r io.Reader) error {
	full, err := f.resolve(key, false)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrPathExists
		}
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		_ = os.Remove(full)
		return err
	}
	return file.Close()
}

func (f *fsStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	full, err := f.resolve(key, false)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

func (f *fsStore) Exists(_ context.Context, key string) (bool, error) {
	full, err := f.resolve(key, false)
	if err != nil {
		return false, err
	}
	switch _, err := os.Stat(full); {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// List returns the keys under prefix in lexical order. Lock files and
// in-flight temp files are skipped.
func (f *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	start, err := f.resolve(prefix, true)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || isScratchFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

func (f *fsStore) Delete(_ context.Context, key string) error {
	full, err := f.resolve(key, false)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func isScratchFile(name string) bool {
	return strings.HasSuffix(name, ".lock") || strings.HasPrefix(name, ".lakecat-cas-")
}

// -----------------------------------------------------------------------------
// Memory store
// -----------------------------------------------------------------------------

// memoryStore keeps objects in a map. It is safe for concurrent use.
type memoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an in-memory Store that also implements
// ConditionalWriter.
func NewMemory() Store {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, key string, r io.Reader) error {
	k, ok := cleanKey(key, false)
	if !ok {
		return ErrInvalidPath
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[k]; exists {
		return ErrPathExists
	}
	m.objects[k] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	k, ok := cleanKey(key, false)
	if !ok {
		return nil, ErrInvalidPath
	}
	m.mu.RLock()
	data, exists := m.objects[k]
	m.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	k, ok := cleanKey(key, false)
	if !ok {
		return false, ErrInvalidPath
	}
	m.mu.RLock()
	_, exists := m.objects[k]
	m.mu.RUnlock()
	return exists, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	p, ok := cleanKey(prefix, true)
	if !ok {
		return nil, ErrInvalidPath
	}
	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	slices.Sort(keys)
	return keys, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	k, ok := cleanKey(key, false)
	if !ok {
		return ErrInvalidPath
	}
	m.mu.Lock()
	delete(m.objects, k)
	m.mu.Unlock()
	return nil
}

// CompareAndSwap replaces the object at key if its content equals expected.
func (m *memoryStore) CompareAndSwap(_ context.Context, key, expected, replacement string) error {
	k, ok := cleanKey(key, false)
	if !ok {
		return ErrInvalidPath
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.objects[k]
	switch {
	case !exists && expected != "":
		return ErrSnapshotConflict
	case exists && string(current) != expected:
		return ErrSnapshotConflict
	}
	m.objects[k] = []byte(replacement)
	return nil
}
