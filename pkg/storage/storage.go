package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage is a flat object store addressed by key.
type Storage interface {
	// Store 存储文件
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// CleanupBefore 清理过期文件, returning how many were removed.
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error)
}
