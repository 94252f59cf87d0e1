package domain

import (
	"context"
	"io"
)

// BlobWriter uploads archive partitions to object storage. Exists lets a
// re-run skip partitions that were already written.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
	Exists(ctx context.Context, path string) (bool, error)
}
