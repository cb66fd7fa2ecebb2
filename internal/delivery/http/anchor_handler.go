package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AnchorHandler anchors certificates and reports ledger confirmation.
type AnchorHandler struct {
	jobs    JobService
	anchors AnchorService
	logger  *zap.Logger
}

func NewAnchorHandler(jobs JobService, anchors AnchorService, logger *zap.Logger) *AnchorHandler {
	return &AnchorHandler{jobs: jobs, anchors: anchors, logger: logger}
}

// Anchor handles POST /api/v1/jobs/:id/anchor
func (h *AnchorHandler) Anchor(c *gin.Context) {
	if h.anchors == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Anchoring is not configured"})
		return
	}
	id, ok := jobID(c)
	if !ok {
		return
	}
	cert, err := h.jobs.GetCertificate(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "Get certificate failed", err)
		return
	}
	receipt, err := h.anchors.Anchor(c.Request.Context(), cert)
	if err != nil {
		writeError(c, h.logger, "Anchor certificate failed", err)
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}

// Status handles GET /api/v1/anchors/:txRef
func (h *AnchorHandler) Status(c *gin.Context) {
	if h.anchors == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Anchoring is not configured"})
		return
	}
	receipt, err := h.anchors.CheckStatus(c.Request.Context(), c.Param("txRef"))
	if err != nil {
		writeError(c, h.logger, "Check anchor status failed", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}
