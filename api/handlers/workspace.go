package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/internal/utils/validator"
	"github.com/feichai0017/mutulens/pkg/converters"
	"github.com/feichai0017/mutulens/pkg/logger"
)

type WorkspaceHandler struct {
	service extraction.Service
	uploads *validator.ImageValidator
	logger  logger.Logger
}

type DrainRequest struct {
	Instructions string `json:"instructions"`
}

func NewWorkspaceHandler(service extraction.Service, uploads *validator.ImageValidator, log logger.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{service: service, uploads: uploads, logger: log}
}

// GetBatch 返回当前批次
func (h *WorkspaceHandler) GetBatch(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Batch())
}

// UploadImages accepts multipart "files" as one submission group.
func (h *WorkspaceHandler) UploadImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, h.logger, "Invalid form data", err)
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		badRequest(c, h.logger, "No files provided", nil)
		return
	}

	raws, err := h.uploads.ReadFiles(files)
	if err != nil {
		handleError(c, h.logger, "Invalid upload", err)
		return
	}

	result, err := h.service.Submit(c.Request.Context(), raws)
	if err != nil {
		handleError(c, h.logger, "Failed to submit images", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// SetEdited replaces the item's input with the uploaded image (raw body or multipart "file").
func (h *WorkspaceHandler) SetEdited(c *gin.Context) {
	id := c.Param("id")

	var raw []byte
	if fh, err := c.FormFile("file"); err == nil {
		data, result, err := h.uploads.ReadFile(fh)
		if err != nil {
			badRequest(c, h.logger, "Invalid file upload", err)
			return
		}
		if !result.IsValid {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid_image", Message: result.Errors[0].Message})
			return
		}
		raw = data
	} else {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			badRequest(c, h.logger, "Failed to read body", err)
			return
		}
		if result := h.uploads.Validate("edited", data); !result.IsValid {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid_image", Message: result.Errors[0].Message})
			return
		}
		raw = data
	}

	if err := h.service.SetEdited(c.Request.Context(), id, raw); err != nil {
		handleError(c, h.logger, "Failed to set edited image", err)
		return
	}
	item, err := h.service.Item(id)
	if err != nil {
		handleError(c, h.logger, "Failed to get item", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": item.ID, "status": item.Status, "edited": item.Edited != nil})
}

func (h *WorkspaceHandler) RevertEdited(c *gin.Context) {
	if err := h.service.RevertEdited(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, h.logger, "Failed to revert edited image", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WorkspaceHandler) RemoveItem(c *gin.Context) {
	if err := h.service.Remove(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, h.logger, "Failed to remove item", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WorkspaceHandler) Clear(c *gin.Context) {
	h.service.Clear(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// StartDrain answers 202 once the drain is running; results arrive over the event stream.
func (h *WorkspaceHandler) StartDrain(c *gin.Context) {
	var req DrainRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.logger, "Invalid drain request", err)
			return
		}
	}

	if err := h.service.StartDrain(req.Instructions); err != nil {
		handleError(c, h.logger, "Failed to start drain", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"progress": h.service.Batch().Progress})
}

// Export 下载整批结果
func (h *WorkspaceHandler) Export(c *gin.Context) {
	format := converters.Format(c.DefaultQuery("format", string(converters.FormatText)))
	if _, err := converters.NewConverter(format); err != nil {
		badRequest(c, h.logger, "Unsupported export format", err)
		return
	}

	export, err := h.service.Export(format)
	if err != nil {
		handleError(c, h.logger, "Failed to export batch", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.Filename))
	c.Data(http.StatusOK, export.ContentType, export.Data)
}

// DownloadItem returns one completed item's text as .txt or .md.
func (h *WorkspaceHandler) DownloadItem(c *gin.Context) {
	format := converters.Format(c.DefaultQuery("format", string(converters.FormatText)))
	if format != converters.FormatText && format != converters.FormatMarkdown {
		badRequest(c, h.logger, "Unsupported download format", nil)
		return
	}
	converter, _ := converters.NewConverter(format)

	item, err := h.service.Item(c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to get item", err)
		return
	}
	if item.ExtractedText == "" {
		handleError(c, h.logger, "Item has no extracted text", extraction.ErrNothingToExport)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", converters.ItemFilename(item.ID, format)))
	c.Data(http.StatusOK, converter.ContentType(), []byte(item.ExtractedText))
}
