package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
	"github.com/feichai0017/mutulens/pkg/queue"
)

// QueuedClient defers Create to the archive worker. List and Delete go straight to the store.
type QueuedClient struct {
	Client
	queue  queue.Queue
	logger logger.Logger
}

func NewQueuedClient(store Client, q queue.Queue, log logger.Logger) *QueuedClient {
	return &QueuedClient{Client: store, queue: q, logger: log}
}

func (c *QueuedClient) Create(ctx context.Context, rec models.ArchiveRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	task := &queue.Task{
		ID:        "archive-" + rec.ID,
		Type:      queue.TaskTypeArchiveCreate,
		Priority:  2,
		Payload:   payload,
		Metadata:  map[string]string{"recordId": rec.ID},
		CreatedAt: time.Now().UTC(),
	}
	if err := c.queue.Enqueue(ctx, task); err != nil {
		return err
	}

	c.logger.Debug("Archive write queued",
		logger.String("recordId", rec.ID),
		logger.String("taskId", task.ID),
	)
	return nil
}

// DecodeTask extracts the record carried by an archive:create task payload.
func DecodeTask(data []byte) (models.ArchiveRecord, error) {
	var task queue.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return models.ArchiveRecord{}, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if task.Type != queue.TaskTypeArchiveCreate {
		return models.ArchiveRecord{}, fmt.Errorf("unexpected task type %q", task.Type)
	}
	var rec models.ArchiveRecord
	if err := json.Unmarshal(task.Payload, &rec); err != nil {
		return models.ArchiveRecord{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	if rec.ID == "" {
		return models.ArchiveRecord{}, fmt.Errorf("invalid task data: missing record id")
	}
	return rec, nil
}
