package lakecat

import (
	"bytes"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// encodeRecord serializes v as JSON through the compressor.
func encodeRecord(v any, c Compressor) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.Compress(&buf)
	if err != nil {
		return nil, err
	}
	if err := jsonCodec.NewEncoder(w).Encode(v); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecord reads one JSON record through the compressor into v.
func decodeRecord(r io.Reader, c Compressor, v any) error {
	rc, err := c.Decompress(r)
	if err != nil {
		return err
	}
	defer closer(rc)()
	if err := jsonCodec.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s record: %w", c.Name(), err)
	}
	return nil
}
