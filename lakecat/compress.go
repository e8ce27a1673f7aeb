package lakecat

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Compressor wraps metadata record streams.
type Compressor interface {
	// Name identifies the format: "noop", "gzip" or "zstd".
	Name() string

	// Extension is appended to record object names, e.g. ".zst".
	Extension() string

	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// NewCompressor returns the compressor with the given name.
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case "", "noop", "none":
		return NewNoOpCompressor(), nil
	case "gzip":
		return NewGzipCompressor(), nil
	case "zstd":
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("lakecat: unknown compressor %q", name)
	}
}

// compressorForExtension finds the compressor that wrote an object name.
func compressorForExtension(name string) Compressor {
	for _, c := range []Compressor{NewGzipCompressor(), NewZstdCompressor()} {
		if len(name) > len(c.Extension()) && name[len(name)-len(c.Extension()):] == c.Extension() {
			return c
		}
	}
	return NewNoOpCompressor()
}

// -----------------------------------------------------------------------------
// Gzip
// -----------------------------------------------------------------------------

type gzipCompressor struct{}

// NewGzipCompressor creates a gzip compressor (.gz).
func NewGzipCompressor() Compressor { return gzipCompressor{} }

func (gzipCompressor) Name() string      { return "gzip" }
func (gzipCompressor) Extension() string { return ".gz" }

func (gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// -----------------------------------------------------------------------------
// Zstd
// -----------------------------------------------------------------------------

type zstdCompressor struct{}

// NewZstdCompressor creates a Zstandard compressor (.zst).
func NewZstdCompressor() Compressor { return zstdCompressor{} }

func (zstdCompressor) Name() string      { return "zstd" }
func (zstdCompressor) Extension() string { return ".zst" }

func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zstdCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// -----------------------------------------------------------------------------
// NoOp
// -----------------------------------------------------------------------------

type noopCompressor struct{}

// NewNoOpCompressor creates a pass-through compressor.
func NewNoOpCompressor() Compressor { return noopCompressor{} }

func (noopCompressor) Name() string      { return "noop" }
func (noopCompressor) Extension() string { return "" }

func (noopCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noopCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
