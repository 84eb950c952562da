package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/pkg/logger"
)

type ArchiveHandler struct {
	service extraction.Service
	logger  logger.Logger
}

// CreateExtractionRequest is the archive wire shape; created_at is optional.
type CreateExtractionRequest struct {
	ID            string    `json:"id" binding:"required"`
	ImageData     string    `json:"image_data" binding:"required"`
	ExtractedText string    `json:"extracted_text"`
	Latency       int64     `json:"latency" binding:"gte=0"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewArchiveHandler(service extraction.Service, log logger.Logger) *ArchiveHandler {
	return &ArchiveHandler{service: service, logger: log}
}

// List 按创建时间倒序返回
func (h *ArchiveHandler) List(c *gin.Context) {
	records, err := h.service.ListArchive(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, "Failed to fetch extractions", err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *ArchiveHandler) Create(c *gin.Context) {
	var req CreateExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid extraction", err)
		return
	}

	rec := models.ArchiveRecord{
		ID:            req.ID,
		ImageData:     req.ImageData,
		ExtractedText: req.ExtractedText,
		Latency:       req.Latency,
		CreatedAt:     req.CreatedAt,
	}
	if err := h.service.CreateArchive(c.Request.Context(), rec); err != nil {
		handleError(c, h.logger, "Failed to save extraction", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

func (h *ArchiveHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteArchive(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, h.logger, "Failed to delete extraction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
