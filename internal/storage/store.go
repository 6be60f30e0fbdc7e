// Package storage holds evidence file content. Answers reference content by
// locator; the store is interface-driven so in-memory, local-disk, or
// external object storage can back it without rewiring business code.
package storage

import (
	"context"
	"io"
)

// Store reads and writes evidence content by locator.
type Store interface {
	// Put stores content under a caller-chosen name and returns the locator
	// that retrieves it.
	Put(ctx context.Context, name string, content io.Reader) (string, error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}
