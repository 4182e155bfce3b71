package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ephemhq/ephem/config"
)

// SystemHandler handles system endpoints
type SystemHandler struct {
	config *config.Config
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(cfg *config.Config) *SystemHandler {
	return &SystemHandler{config: cfg}
}

// Health handles health check via GET /healthz
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "ephem",
		"version": h.config.Version,
	})
}
