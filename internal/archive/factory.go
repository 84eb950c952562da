package archive

import (
	"context"
	"fmt"

	cfg "github.com/feichai0017/mutulens/config"
	"github.com/feichai0017/mutulens/pkg/logger"
	"github.com/feichai0017/mutulens/pkg/storage"
	"github.com/feichai0017/mutulens/pkg/storage/minio"
	"github.com/feichai0017/mutulens/pkg/storage/s3"
)

// NewStore builds the backing record store named by the archive config.
func NewStore(ctx context.Context, ac cfg.ArchiveConfig, log logger.Logger) (Client, error) {
	log.Info("Creating archive store", logger.String("backend", ac.Backend))

	switch ac.Backend {
	case "sqlite":
		return NewSQLiteRepository(ac.SQLPath, log)
	case "s3", "minio":
		store, err := newObjectStorage(ctx, storage.StorageType(ac.Backend), log)
		if err != nil {
			return nil, err
		}
		return NewObjectStore(store, log), nil
	case "http":
		return NewHTTPClient(ac.RemoteURL, log), nil
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", ac.Backend)
	}
}

func newObjectStorage(ctx context.Context, storageType storage.StorageType, log logger.Logger) (storage.Storage, error) {
	switch storageType {
	case storage.StorageTypeS3:
		return s3.GetClient(ctx, log)
	case storage.StorageTypeMinio:
		return minio.GetClient(ctx, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
