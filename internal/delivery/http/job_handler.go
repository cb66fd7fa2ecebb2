package http

import (
	"crypto/ed25519"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/certificate"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// JobHandler handles HTTP requests for wipe jobs.
type JobHandler struct {
	jobs      JobService
	signerKey ed25519.PublicKey
	logger    *zap.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(jobs JobService, signerKey ed25519.PublicKey, logger *zap.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, signerKey: signerKey, logger: logger}
}

// Start handles POST /api/v1/jobs
func (h *JobHandler) Start(c *gin.Context) {
	var req domain.StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}

	job, err := h.jobs.StartJob(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "Start job failed", err)
		return
	}

	c.JSON(http.StatusAccepted, domain.StartJobResponse{JobID: job.ID, State: job.State})
}

// Status handles GET /api/v1/jobs/:id
func (h *JobHandler) Status(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	status, err := h.jobs.GetJobStatus(id)
	if err != nil {
		writeError(c, h.logger, "Get job status failed", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Get handles GET /api/v1/jobs/:id/detail
func (h *JobHandler) Get(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.jobs.GetJob(id)
	if err != nil {
		writeError(c, h.logger, "Get job failed", err)
		return
	}
	// The seed reproduces the random passes; it stays server side.
	job.Seed = ""
	c.JSON(http.StatusOK, job)
}

// Cancel handles POST /api/v1/jobs/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	if err := h.jobs.CancelJob(id); err != nil {
		writeError(c, h.logger, "Cancel job failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "cancel_requested": true})
}

// Certificate handles GET /api/v1/jobs/:id/certificate
func (h *JobHandler) Certificate(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	cert, err := h.jobs.GetCertificate(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "Get certificate failed", err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

// Reissue handles POST /api/v1/jobs/:id/certificate/reissue
func (h *JobHandler) Reissue(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	cert, err := h.jobs.ReissueCertificate(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "Reissue certificate failed", err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

// VerifyCertificate handles GET /api/v1/jobs/:id/certificate/verify
func (h *JobHandler) VerifyCertificate(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	cert, err := h.jobs.GetCertificate(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "Get certificate failed", err)
		return
	}

	resp := gin.H{
		"certificate_id": cert.ID,
		"content_hash":   cert.ContentHash,
		"signed":         h.signerKey != nil && cert.Signature != "",
		"valid":          true,
	}
	if err := certificate.VerifyIntegrity(cert, h.signerKey); err != nil {
		resp["valid"] = false
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
