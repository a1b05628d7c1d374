package snapshots

import (
	"context"
	"io"
	"time"
)

// StorageDriver defines how snapshot objects are written to and read from storage.
type StorageDriver interface {
	// Save writes the content under key, replacing any existing object
	Save(ctx context.Context, key string, body io.Reader, contentType string) error

	// Get returns a ReadCloser to stream the object back and its content type.
	// Missing objects yield drivers.ErrObjectNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)

	// Delete removes the object
	Delete(ctx context.Context, key string) error

	// GenerateURL returns a link to the object
	GenerateURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
