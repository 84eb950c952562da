package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/pkg/logger"
)

type SettingsHandler struct {
	service extraction.Service
	logger  logger.Logger
}

// CredentialRequest sets the extraction credential; an empty value clears it.
type CredentialRequest struct {
	Credential string `json:"credential"`
}

func NewSettingsHandler(service extraction.Service, log logger.Logger) *SettingsHandler {
	return &SettingsHandler{service: service, logger: log}
}

func (h *SettingsHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"credentialConfigured": h.service.CredentialConfigured(),
		"credentialRequired":   h.service.Batch().CredentialRequired,
	})
}

func (h *SettingsHandler) SetCredential(c *gin.Context) {
	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid credential request", err)
		return
	}
	h.service.SetCredential(req.Credential)
	c.JSON(http.StatusOK, gin.H{"credentialConfigured": h.service.CredentialConfigured()})
}
