package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DeviceHandler serves the device inventory.
type DeviceHandler struct {
	jobs   JobService
	logger *zap.Logger
}

func NewDeviceHandler(jobs JobService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{jobs: jobs, logger: logger}
}

// List handles GET /api/v1/devices
func (h *DeviceHandler) List(c *gin.Context) {
	devices, err := h.jobs.ListDevices(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "List devices failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// RefreshHealth handles POST /api/v1/devices/:id/health
func (h *DeviceHandler) RefreshHealth(c *gin.Context) {
	d, err := h.jobs.RefreshHealth(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Refresh health failed", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// Methods handles GET /api/v1/devices/:id/methods
func (h *DeviceHandler) Methods(c *gin.Context) {
	methods, err := h.jobs.ListMethods(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "List methods failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"methods": methods})
}
