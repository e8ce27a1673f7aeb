// Package s3 provides an S3-compatible metadata store for lakecat.
//
// The store works with AWS S3, MinIO, LocalStack, Cloudflare R2 and other
// backends that honour conditional writes.
//
// # Guarantees
//
//   - Put: PutObject with If-None-Match "*", so records are write-once.
//     A duplicate write returns lakecat.ErrPathExists.
//   - CompareAndSwap: reads the object's ETag and content, then writes with
//     If-Match (or If-None-Match "*" when the object must not exist). A lost
//     race returns lakecat.ErrSnapshotConflict.
//   - Get/Exists/Delete: lakecat.ErrNotFound semantics, Delete is idempotent.
//   - List: full pagination, keys returned relative to the store prefix.
//
// Metadata records are small, so payloads are buffered in memory.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pithecene-io/lakecat/lakecat"
)

// API is the part of *s3.Client the store calls.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds configuration for the S3 store.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all operations.
	// A trailing slash is added if missing.
	Prefix string
}

// Store implements lakecat.Store and lakecat.ConditionalWriter on an
// S3-compatible backend.
type Store struct {
	client API
	bucket string
	prefix string
}

var (
	_ lakecat.Store             = (*Store)(nil)
	_ lakecat.ConditionalWriter = (*Store)(nil)
)

// New returns a store over a configured client.
//
//	client := s3.NewFromConfig(awsCfg)
//	store, err := s3store.New(client, s3store.Config{Bucket: "lake-meta", Prefix: "sales"})
func New(client API, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Store{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// Factory returns a lakecat.StoreFactory that builds a Store on first use.
func Factory(client API, cfg Config) lakecat.StoreFactory {
	return func() (lakecat.Store, error) {
		return New(client, cfg)
	}
}

// Put writes a record that must not exist yet. A second write of the same
// key returns lakecat.ErrPathExists.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	full, err := s.fullKey(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("s3: buffer %s: %w", key, err)
	}
	in := s.putInput(full, data)
	in.IfNoneMatch = aws.String("*")
	if _, err := s.client.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return lakecat.ErrPathExists
		}
		return fmt.Errorf("s3: put %s: %w", full, err)
	}
	return nil
}

// Get opens the record at key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.fetch(ctx, full)
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Exists reports whether key holds a record.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(full)})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3: head %s: %w", full, err)
	}
}

// List returns the sorted keys under prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full, err := s.listPrefix(prefix)
	if err != nil {
		return nil, err
	}
	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket), Prefix: aws.String(full)}
	var keys []string
	for {
		out, err := s.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", full, err)
		}
		for _, obj := range out.Contents {
			if k := aws.ToString(obj.Key); k != "" {
				keys = append(keys, strings.TrimPrefix(k, s.prefix))
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		in.ContinuationToken = out.NextContinuationToken
	}
	slices.Sort(keys)
	return keys, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.fullKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(full)}); err != nil {
		return fmt.Errorf("s3: delete %s: %w", full, err)
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
	in := s.putInput(full, []byte(replacement))
	if expected == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		out, err := s.fetch(ctx, full)
		if errors.Is(err, lakecat.ErrNotFound) {
			return lakecat.ErrSnapshotConflict
		}
		if err != nil {
			return err
		}
		current, err := io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			return fmt.Errorf("s3: read %s: %w", full, err)
		}
		if string(current) != expected {
			return lakecat.ErrSnapshotConflict
		}
		in.IfMatch = out.ETag
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return lakecat.ErrSnapshotConflict
		}
		return fmt.Errorf("s3: conditional put %s: %w", full, err)
	}
	return nil
}

func (s *Store) putInput(full string, data []byte) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(full),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
}

// fetch maps a missing object to lakecat.ErrNotFound.
func (s *Store) fetch(ctx context.Context, full string) (*s3.GetObjectOutput, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(full)})
	if err != nil {
		if isNotFound(err) {
			return nil, lakecat.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get %s: %w", full, err)
	}
	return out, nil
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

// listPrefix keeps a trailing slash so "tables/a/" does not match "tables/ab".
func (s *Store) listPrefix(prefix string) (string, error) {
	if prefix == "" {
		return s.prefix, nil
	}
	cleaned := strings.TrimPrefix(path.Clean(prefix), "/")
	switch {
	case cleaned == ".." || strings.HasPrefix(cleaned, "../"):
		return "", lakecat.ErrInvalidPath
	case cleaned == "." || cleaned == "":
		return s.prefix, nil
	}
	if strings.HasSuffix(prefix, "/") {
		cleaned += "/"
	}
	return s.prefix + cleaned, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict", "412", "409":
		return true
	}
	return false
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}
