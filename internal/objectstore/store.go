// Package objectstore abstracts the blob backend used for uploaded job
// sources, build logs, and collected artifacts.
package objectstore

import (
	"context"
	"io"
)

// Store is the contract every backend implements: GCSStore in production,
// in-memory fakes in tests. Paths are opaque keys, e.g. "sources/<job-id>.zip" or
// "artifacts/<job-id>/<name>".
type Store interface {
	// Put uploads the contents of r to key, returning the number of
	// bytes written.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)

	// Get opens key for reading. Callers must Close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head reports whether key exists without transferring its content.
	Head(ctx context.Context, key string) (bool, error)

	// SignedURL returns a URL a client can use to download key directly.
	// It is deterministic: repeated calls for the same key return the
	// same URL.
	SignedURL(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
