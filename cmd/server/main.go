package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/mutulens/api/handlers"
	"github.com/feichai0017/mutulens/api/routes"
	"github.com/feichai0017/mutulens/api/ws"
	cfg "github.com/feichai0017/mutulens/config"
	"github.com/feichai0017/mutulens/internal/ingest"
	"github.com/feichai0017/mutulens/internal/jobs"
	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/internal/utils/validator"
	"github.com/feichai0017/mutulens/pkg/logger"
)

func main() {
	app, err := cfg.GetAppConfig()
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(app.Log.Level),
		logger.WithEncoding(app.Log.Encoding),
		logger.WithOutputPaths(app.Log.OutputPaths),
		logger.WithInitialFields(map[string]interface{}{"service": "mutulens-server"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init extraction service (restores the stored workspace)
	svc, err := extraction.GetService(ctx, app, log)
	if err != nil {
		log.Fatal("Failed to get extraction service", logger.Error(err))
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error("Failed to close extraction service", logger.Error(err))
		}
	}()

	hub := ws.NewHub(log.Named("ws"))
	go hub.Run()
	defer hub.Stop()

	uploads := validator.NewImageValidator(log, &validator.ValidatorConfig{MaxFileSize: app.Server.MaxUploadBytes})
	h := handlers.NewHandlers(svc, uploads, hub, log)
	defer h.Events.Close()

	scheduler, err := jobs.StartJobs(ctx, svc, app.Archive.Retention, jobs.DefaultSweepInterval, log)
	if err != nil {
		log.Fatal("Failed to schedule jobs", logger.Error(err))
	}
	if scheduler != nil {
		defer scheduler.Stop()
	}

	if app.Watch.Dir != "" {
		watcher, err := ingest.NewWatcher(ingest.WatchConfig{
			Dir:               app.Watch.Dir,
			Debounce:          app.Watch.Debounce,
			InitialScan:       true,
			RemoveAfterSubmit: true,
		}, svc, log.Named("watch"))
		if err != nil {
			log.Fatal("Failed to start watch folder", logger.Error(err))
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Error("Watch folder stopped", logger.Error(err))
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = app.Server.MaxUploadBytes
	routes.SetupRoutes(r, h, log)

	srv := &http.Server{
		Addr:    app.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", app.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancel()

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
