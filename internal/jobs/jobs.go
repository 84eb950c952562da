package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/pkg/logger"
)

const DefaultSweepInterval = time.Hour

type ArchivePruner interface {
	PruneArchive(ctx context.Context) (int, error)
}

// StartJobs schedules the archive retention sweep. It returns nil when retention is disabled.
func StartJobs(ctx context.Context, pruner ArchivePruner, retention, interval time.Duration, log logger.Logger) (*gocron.Scheduler, error) {
	if retention <= 0 {
		log.Info("Archive retention is 0, scheduled prune is disabled")
		return nil, nil
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(interval).Do(func() {
		sweep(ctx, pruner, log)
	})
	if err != nil {
		return nil, err
	}

	log.Info("Scheduling archive prune",
		logger.Duration("retention", retention),
		logger.Duration("interval", interval),
	)
	s.StartAsync()
	return s, nil
}

func sweep(ctx context.Context, pruner ArchivePruner, log logger.Logger) {
	n, err := pruner.PruneArchive(ctx)
	switch {
	case errors.Is(err, extraction.ErrPruneUnsupported):
		log.Warn("Archive backend cannot prune, skipping sweep")
	case err != nil:
		log.Error("Scheduled prune failed", logger.Error(err))
	case n > 0:
		log.Info("Scheduled prune removed records", logger.Int("removed", n))
	}
}
