package worker

import (
	"context"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/mutulens/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	RedisAddr   string
	RedisDB     int
	Concurrency int
	Queues      map[string]int
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopOnce sync.Once
}

// Start runs the server in the background until ctx is done or Stop is called.
func (w *BaseWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		w.server.Shutdown()
	})
	return nil
}
