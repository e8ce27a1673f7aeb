// Package gcs provides a Google Cloud Storage metadata store for lakecat.
//
// Write-once records use the DoesNotExist precondition. CompareAndSwap reads
// the object's generation and rewrites it under GenerationMatch, so a racing
// writer makes the swap fail with lakecat.ErrSnapshotConflict.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/pithecene-io/lakecat/lakecat"
)

// Bucket is the subset of bucket operations the store needs.
//
// Implementations report missing objects with storage.ErrObjectNotExist and
// failed preconditions with a *googleapi.Error carrying status 412.
type Bucket interface {
	// Read returns the object content and its generation.
	Read(ctx context.Context, key string) ([]byte, int64, error)

	// Write stores data under key. A nil cond writes unconditionally.
	Write(ctx context.Context, key string, data []byte, cond *storage.Conditions) error

	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config holds configuration for the GCS store.
type Config struct {
	// Bucket is the bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all operations.
	Prefix string

	// CredentialsFile is a service account key file. Empty uses
	// application default credentials.
	CredentialsFile string

	// Endpoint overrides the API endpoint, for emulators. Authentication is
	// disabled when set.
	Endpoint string
}

// NewClient builds a storage client from cfg.
func NewClient(ctx context.Context, cfg Config) (*storage.Client, error) {
	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return client, nil
}

// ParseURI splits a "gs://bucket/prefix" URI into bucket and prefix.
func ParseURI(uri string) (bucket, prefix string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("gcs: parse %q: %w", uri, err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("gcs: expected gs:// scheme, got %q in %q", u.Scheme, uri)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("gcs: empty bucket in %q", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Store implements lakecat.Store and lakecat.ConditionalWriter on GCS.
type Store struct {
	bucket Bucket
	prefix string
}

var (
	_ lakecat.Store             = (*Store)(nil)
	_ lakecat.ConditionalWriter = (*Store)(nil)
)

// New creates a store over the given bucket. prefix is prepended to every
// key, with a trailing slash added if missing.
func New(b Bucket, prefix string) (*Store, error) {
	if b == nil {
		return nil, errors.New("gcs: bucket is required")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{bucket: b, prefix: prefix}, nil
}

// Factory returns a lakecat.StoreFactory backed by a storage client.
func Factory(client *storage.Client, cfg Config) lakecat.StoreFactory {
	return func() (lakecat.Store, error) {
		if cfg.Bucket == "" {
			return nil, errors.New("gcs: bucket name is required")
		}
		return New(NewBucket(client.Bucket(cfg.Bucket)), cfg.Prefix)
	}
}

// Put writes data under key if nothing is stored there yet.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	full, err := s.fullKey(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("gcs: reading payload: %w", err)
	}
	if err := s.bucket.Write(ctx, full, data, &storage.Conditions{DoesNotExist: true}); err != nil {
		if isPreconditionFailed(err) {
			return lakecat.ErrPathExists
		}
		return fmt.Errorf("gcs: write %s: %w", full, err)
	}
	return nil
}

// Get returns the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return nil, err
	}
	data, _, err := s.bucket.Read(ctx, full)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, lakecat.ErrNotFound
		}
		return nil, fmt.Errorf("gcs: read %s: %w", full, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether an object is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return false, err
	}
	return s.bucket.Exists(ctx, full)
}

// List returns the keys under prefix, relative to the store prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.prefix
	if prefix != "" {
		cleaned := path.Clean(prefix)
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return nil, lakecat.ErrInvalidPath
		}
		if cleaned != "." {
			full += strings.TrimPrefix(cleaned, "/")
			if strings.HasSuffix(prefix, "/") {
				full += "/"
			}
		}
	}
	names, err := s.bucket.List(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("gcs: list %s: %w", full, err)
	}
	keys := make([]string, 0, len(names))
	for _, n := range names {
		keys = append(keys, strings.TrimPrefix(n, s.prefix))
	}
	slices.Sort(keys)
	return keys, nil
}

// Delete removes the object under key. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.fullKey(key)
	if err != nil {
		return err
	}
	if err := s.bucket.Delete(ctx, full); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: delete %s: %w", full, err)
	}
	return nil
}

// CompareAndSwap replaces the object at key if its content equals expected.
// An empty expected value requires the object to be absent.
func (s *Store) CompareAndSwap(ctx context.Context, key, expected, replacement string) error {
	full, err := s.fullKey(key)
	if err != nil {
		return err
	}

	cond := &storage.Conditions{DoesNotExist: true}
	if expected != "" {
		data, gen, err := s.bucket.Read(ctx, full)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return lakecat.ErrSnapshotConflict
		}
		if err != nil {
			return fmt.Errorf("gcs: read %s: %w", full, err)
		}
		if string(data) != expected {
			return lakecat.ErrSnapshotConflict
		}
		cond = &storage.Conditions{GenerationMatch: gen}
	}

	if err := s.bucket.Write(ctx, full, []byte(replacement), cond); err != nil {
		if isPreconditionFailed(err) {
			return lakecat.ErrSnapshotConflict
		}
		return fmt.Errorf("gcs: conditional write %s: %w", full, err)
	}
	return nil
}

func (s *Store) fullKey(key string) (string, error) {
	if key == "" {
		return "", lakecat.ErrInvalidPath
	}
	cleaned := strings.TrimPrefix(path.Clean(key), "/")
	if cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", lakecat.ErrInvalidPath
	}
	return s.prefix + cleaned, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// -----------------------------------------------------------------------------
// storage.BucketHandle adapter
// -----------------------------------------------------------------------------

type handleBucket struct {
	h *storage.BucketHandle
}

// NewBucket adapts a bucket handle to the Bucket interface.
func NewBucket(h *storage.BucketHandle) Bucket {
	return handleBucket{h: h}
}

func (b handleBucket) Read(ctx context.Context, key string) ([]byte, int64, error) {
	r, err := b.h.Object(key).NewReader(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	return data, r.Attrs.Generation, nil
}

func (b handleBucket) Write(ctx context.Context, key string, data []byte, cond *storage.Conditions) error {
	obj := b.h.Object(key)
	if cond != nil {
		obj = obj.If(*cond)
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b handleBucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.h.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gcs: attrs %s: %w", key, err)
	}
	return true, nil
}

func (b handleBucket) Delete(ctx context.Context, key string) error {
	return b.h.Object(key).Delete(ctx)
}

func (b handleBucket) List(ctx context.Context, prefix string) ([]string, error) {
	q := &storage.Query{Prefix: prefix}
	if err := q.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, err
	}
	it := b.h.Objects(ctx, q)
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
