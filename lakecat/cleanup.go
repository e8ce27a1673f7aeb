package lakecat

import "io"

// closer returns a function that closes c and drops the error, for deferred
// cleanup of read-only handles.
func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}
