package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
	"github.com/feichai0017/mutulens/pkg/storage"
)

const objectPrefix = "extractions/"

// ObjectStore keeps one JSON object per record in an S3-compatible bucket.
type ObjectStore struct {
	store  storage.Storage
	logger logger.Logger
}

func NewObjectStore(store storage.Storage, log logger.Logger) *ObjectStore {
	return &ObjectStore{store: store, logger: log}
}

func objectKey(id string) string {
	return objectPrefix + id + ".json"
}

func (o *ObjectStore) Create(ctx context.Context, rec models.ArchiveRecord) error {
	exists, err := o.exists(ctx, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		o.logger.Debug("Archive record already stored", logger.String("id", rec.ID))
		return nil
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := o.store.Store(ctx, bytes.NewReader(data), objectKey(rec.ID)); err != nil {
		return err
	}
	return nil
}

func (o *ObjectStore) List(ctx context.Context) ([]models.ArchiveRecord, error) {
	objects, err := o.store.List(ctx, objectPrefix)
	if err != nil {
		return nil, err
	}

	records := make([]models.ArchiveRecord, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		rec, err := o.read(ctx, obj.Key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}

	sortNewestFirst(records)
	return records, nil
}

func (o *ObjectStore) Delete(ctx context.Context, id string) error {
	exists, err := o.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return o.store.Delete(ctx, objectKey(id))
}

// Prune removes records whose objects were written before the cutoff.
func (o *ObjectStore) Prune(ctx context.Context, before time.Time) (int, error) {
	return o.store.CleanupBefore(ctx, objectPrefix, before)
}

func (o *ObjectStore) exists(ctx context.Context, id string) (bool, error) {
	rc, err := o.store.Get(ctx, objectKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rc.Close()
	return true, nil
}

func (o *ObjectStore) read(ctx context.Context, key string) (models.ArchiveRecord, error) {
	rc, err := o.store.Get(ctx, key)
	if err != nil {
		return models.ArchiveRecord{}, err
	}
	defer rc.Close()

	var rec models.ArchiveRecord
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return models.ArchiveRecord{}, fmt.Errorf("failed to decode record %s: %w", key, err)
	}
	return rec, nil
}
