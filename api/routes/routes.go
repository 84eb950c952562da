package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/mutulens/api/handlers"
	"github.com/feichai0017/mutulens/api/middleware"
	"github.com/feichai0017/mutulens/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger) {
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger(log))

	api := r.Group("/api")
	api.GET("/health", handlers.Health)

	extractions := api.Group("/extractions")
	{
		extractions.GET("", h.Archive.List)
		extractions.POST("", h.Archive.Create)
		extractions.DELETE("/:id", h.Archive.Delete)
	}

	ws := api.Group("/workspace")
	{
		ws.GET("", h.Workspace.GetBatch)
		ws.DELETE("", h.Workspace.Clear)
		ws.POST("/images", h.Workspace.UploadImages)
		ws.PUT("/items/:id/edited", h.Workspace.SetEdited)
		ws.DELETE("/items/:id/edited", h.Workspace.RevertEdited)
		ws.DELETE("/items/:id", h.Workspace.RemoveItem)
		ws.GET("/items/:id/download", h.Workspace.DownloadItem)
		ws.POST("/drain", h.Workspace.StartDrain)
		ws.GET("/export", h.Workspace.Export)
		ws.GET("/events", h.Events.Stream)
	}

	settings := api.Group("/settings")
	{
		settings.GET("", h.Settings.Get)
		settings.PUT("/credential", h.Settings.SetCredential)
	}
}
