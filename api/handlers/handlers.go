package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/mutulens/api/ws"
	"github.com/feichai0017/mutulens/internal/archive"
	"github.com/feichai0017/mutulens/internal/media"
	"github.com/feichai0017/mutulens/internal/pipeline"
	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/internal/utils/validator"
	"github.com/feichai0017/mutulens/pkg/logger"
)

type Handlers struct {
	Workspace *WorkspaceHandler
	Archive   *ArchiveHandler
	Settings  *SettingsHandler
	Events    *EventsHandler
}

func NewHandlers(
	service extraction.Service,
	uploads *validator.ImageValidator,
	hub *ws.Hub,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Workspace: NewWorkspaceHandler(service, uploads, log),
		Archive:   NewArchiveHandler(service, log),
		Settings:  NewSettingsHandler(service, log),
		Events:    NewEventsHandler(service, hub, log),
	}
}

// Health 健康检查
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorStatus maps service errors to a status code and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrMissingCredential):
		return http.StatusPreconditionFailed, "credential_required"
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, pipeline.ErrDrainInProgress):
		return http.StatusConflict, "drain_in_progress"
	case errors.Is(err, pipeline.ErrItemProcessing):
		return http.StatusConflict, "item_processing"
	case errors.Is(err, pipeline.ErrItemNotFound), errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, extraction.ErrNothingToExport):
		return http.StatusNotFound, "nothing_to_export"
	case errors.Is(err, media.ErrNormalize), errors.Is(err, validator.ErrInvalidUpload):
		return http.StatusUnprocessableEntity, "invalid_image"
	case errors.Is(err, extraction.ErrNoImages):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status, code := errorStatus(err)

	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{Error: code, Message: message}
	if err != nil {
		response.Message = err.Error()
	}
	c.JSON(status, response)
}

func badRequest(c *gin.Context, log logger.Logger, message string, err error) {
	log.Warn(message, logger.String("path", c.Request.URL.Path), logger.Error(err))
	response := ErrorResponse{Error: "bad_request", Message: message}
	if err != nil {
		response.Message = message + ": " + err.Error()
	}
	c.JSON(http.StatusBadRequest, response)
}
