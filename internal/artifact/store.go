package artifact

import (
	"context"
	"io"
	"time"
)

// ObjectInfo is metadata for a stored artifact.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// Store is the artifact store boundary: one addressable bucket holding the
// packaged workspace archive and the reverse-proxy config. Objects are
// overwritten on each pipeline run; there is no versioning or retention.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// PresignGet returns a time-limited URL a fleet node can fetch the
	// object from without holding store credentials.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
