package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// -----------------------------------------------------------------------------
// Mock S3 client
// -----------------------------------------------------------------------------

// mockClient is an in-memory API with conditional write support.
type mockClient struct {
	mu      sync.Mutex
	objects map[string][]byte

	// pageSize limits ListObjectsV2 pages when positive.
	pageSize int

	// beforePut runs inside PutObject before preconditions are checked,
	// without the lock held. Tests use it to inject a racing writer.
	beforePut func(key string)

	putCalls  int
	listCalls int
}

func newMockClient() *mockClient {
	return &mockClient{objects: make(map[string][]byte)}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (m *mockClient) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(params.Key)
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if hook := m.beforePut; hook != nil {
		hook(key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++

	current, exists := m.objects[key]
	if aws.ToString(params.IfNoneMatch) == "*" && exists {
		return nil, &apiError{code: "PreconditionFailed", message: "object already exists"}
	}
	if params.IfMatch != nil && (!exists || etagOf(current) != aws.ToString(params.IfMatch)) {
		return nil, &apiError{code: "PreconditionFailed", message: "etag mismatch"}
	}

	m.objects[key] = data
	return &s3.PutObjectOutput{ETag: aws.String(etagOf(data))}, nil
}

func (m *mockClient) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	data, exists := m.objects[aws.ToString(params.Key)]
	m.mu.Unlock()
	if !exists {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
		ETag: aws.String(etagOf(data)),
	}, nil
}

func (m *mockClient) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	_, exists := m.objects[aws.ToString(params.Key)]
	m.mu.Unlock()
	if !exists {
		return nil, &apiError{code: "NotFound", message: "not found"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockClient) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	delete(m.objects, aws.ToString(params.Key))
	m.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockClient) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	start := 0
	if tok := aws.ToString(params.ContinuationToken); tok != "" {
		start, _ = slices.BinarySearch(keys, tok)
	}
	end := len(keys)
	if m.pageSize > 0 && start+m.pageSize < end {
		end = start + m.pageSize
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (m *mockClient) raw(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return string(data), ok
}

// apiError implements smithy.APIError.
type apiError struct {
	code    string
	message string
}

func (e *apiError) Error() string                 { return e.code + ": " + e.message }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.message }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
