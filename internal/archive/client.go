package archive

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/feichai0017/mutulens/internal/models"
)

// ErrNotFound is returned by Delete when no record has the id.
var ErrNotFound = errors.New("archive record not found")

// Client is the record store for completed extractions. Records are never updated:
// Create with an id that already exists keeps the existing record.
type Client interface {
	Create(ctx context.Context, rec models.ArchiveRecord) error
	List(ctx context.Context) ([]models.ArchiveRecord, error)
	Delete(ctx context.Context, id string) error
}

// Pruner is implemented by stores that support retention sweeps.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

func sortNewestFirst(records []models.ArchiveRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
