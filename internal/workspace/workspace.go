package workspace

import (
	"context"

	"github.com/feichai0017/mutulens/internal/media"
	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
)

// Workspace mirrors the batch into a Backend so it survives restarts.
type Workspace struct {
	backend Backend
	handles media.HandleFactory
	logger  logger.Logger
}

func New(backend Backend, handles media.HandleFactory, log logger.Logger) *Workspace {
	return &Workspace{backend: backend, handles: handles, logger: log}
}

// Load returns the stored batch with fresh display handles, or nil when nothing is stored.
// An item whose handle cannot be recreated is kept with an empty handle.
func (w *Workspace) Load(ctx context.Context) ([]*models.WorkItem, error) {
	data, err := w.backend.Read(ctx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	items, skipped, err := decode(data)
	if err != nil {
		return nil, err
	}
	for _, reason := range skipped {
		w.logger.Warn("Skipped stored workspace entry", logger.String("reason", reason))
	}

	for _, it := range items {
		it.SourceHandle = w.createHandle(it.ID, it.Source)
		if it.Edited != nil {
			it.EditedHandle = w.createHandle(it.ID, *it.Edited)
		}
	}

	w.logger.Info("Workspace loaded", logger.Int("items", len(items)))
	return items, nil
}

// Save replaces the stored batch. An empty batch is written as [].
func (w *Workspace) Save(ctx context.Context, items []*models.WorkItem) error {
	data, err := encode(items)
	if err != nil {
		return err
	}
	return w.backend.Write(ctx, data)
}

func (w *Workspace) createHandle(id string, asset models.Asset) models.Handle {
	if asset.Empty() {
		return ""
	}
	h, err := w.handles.Create(asset.Data)
	if err != nil {
		w.logger.Warn("Failed to recreate display handle",
			logger.String("itemId", id),
			logger.Error(err),
		)
		return ""
	}
	return h
}
