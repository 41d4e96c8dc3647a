package storage

import (
	"context"
	"io"
)

// BlobStore holds raw content bytes keyed by their Merkle root hash. The
// ledgers never touch it; only the HTTP content surface does.
type BlobStore interface {
	Put(ctx context.Context, hash string, data io.Reader, size int64) error
	Get(ctx context.Context, hash string) (io.ReadCloser, error)
	Delete(ctx context.Context, hash string) error
	Exists(ctx context.Context, hash string) (bool, error)
}
