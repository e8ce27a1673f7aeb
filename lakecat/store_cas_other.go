//go:build !unix

package lakecat

import (
	"context"
	"errors"
)

// CompareAndSwap needs flock and is unavailable on this platform. Object
// metastores on such stores fall back to Put-only version files.
func (f *fsStore) CompareAndSwap(_ context.Context, _, _, _ string) error {
	return errors.New("lakecat: filesystem CompareAndSwap requires a Unix platform")
}
