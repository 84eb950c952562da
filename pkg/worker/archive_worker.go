package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/mutulens/internal/archive"
	"github.com/feichai0017/mutulens/pkg/logger"
	"github.com/feichai0017/mutulens/pkg/queue"
)

// ArchiveWorker applies queued archive writes to the backing store.
type ArchiveWorker struct {
	BaseWorker
	store archive.Client
}

func NewArchiveWorker(cfg *Config, store archive.Client, log logger.Logger) *ArchiveWorker {
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = queue.Queues()
	}
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &ArchiveWorker{
		BaseWorker: BaseWorker{
			server: server,
			mux:    asynq.NewServeMux(),
			logger: log,
		},
		store: store,
	}

	w.registerHandlers()
	return w
}

func (w *ArchiveWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeArchiveCreate, w.handleArchiveCreate)
}

func (w *ArchiveWorker) handleArchiveCreate(ctx context.Context, t *asynq.Task) error {
	rec, err := archive.DecodeTask(t.Payload())
	if err != nil {
		w.logger.Error("Invalid archive task", logger.Error(err))
		// a malformed payload will never succeed
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	if err := w.store.Create(ctx, rec); err != nil {
		w.logger.Error("Failed to archive record",
			logger.String("recordId", rec.ID),
			logger.Error(err),
		)
		return err
	}

	w.logger.Info("Archived record",
		logger.String("recordId", rec.ID),
		logger.Int64("latency", rec.Latency),
	)
	return nil
}
