package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves archived data from object storage. A missing object
// surfaces as ErrNotFound from Get.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver sweeps settled data from the hot store to cold storage.
type Archiver interface {
	// ArchiveAudit moves audit rows older than before; returns rows moved.
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
	// ArchiveMarkets moves markets resolved before the cutoff, together
	// with their shares and claim flags; returns markets moved.
	ArchiveMarkets(ctx context.Context, before time.Time) (int64, error)
}
