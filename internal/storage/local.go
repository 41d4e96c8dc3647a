package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalStore keeps blobs on disk, sharded by the first two hash characters
// so no single directory grows unbounded.
type LocalStore struct {
	basePath string
}

func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, err
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) path(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(l.basePath, hash)
	}
	return filepath.Join(l.basePath, hash[:2], hash)
}

func (l *LocalStore) Put(ctx context.Context, hash string, data io.Reader, size int64) error {
	path := l.path(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, data)
	return err
}

func (l *LocalStore) Get(ctx context.Context, hash string) (io.ReadCloser, error) {
	return os.Open(l.path(hash))
}

func (l *LocalStore) Delete(ctx context.Context, hash string) error {
	return os.Remove(l.path(hash))
}

func (l *LocalStore) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := os.Stat(l.path(hash))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
