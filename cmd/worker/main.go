package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	cfg "github.com/feichai0017/mutulens/config"
	"github.com/feichai0017/mutulens/internal/archive"
	"github.com/feichai0017/mutulens/pkg/logger"
	"github.com/feichai0017/mutulens/pkg/queue"
	"github.com/feichai0017/mutulens/pkg/worker"
)

func main() {
	app, err := cfg.GetAppConfig()
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(app.Log.Level),
		logger.WithEncoding(app.Log.Encoding),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
		logger.WithInitialFields(map[string]interface{}{"service": "mutulens-worker"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建归档存储
	store, err := archive.NewStore(ctx, app.Archive, log)
	if err != nil {
		log.Error("Failed to create archive store", logger.Error(err))
		os.Exit(1)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	// 创建 worker 配置
	workerCfg := &worker.Config{
		RedisAddr:   app.Queue.RedisAddr,
		RedisDB:     app.Queue.RedisDB,
		Concurrency: app.Queue.Concurrency,
		Queues:      queue.Queues(),
	}

	archiveWorker := worker.NewArchiveWorker(workerCfg, store, log)

	// 启动 worker
	if err := archiveWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	archiveWorker.Stop()
	log.Info("Worker stopped")
}
