package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// statusOf maps the domain error taxonomy to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownMethod):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMethodNotApplicable),
		errors.Is(err, domain.ErrInvalidDevice),
		errors.Is(err, domain.ErrHiddenArea):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSystemVolumeConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, domain.ErrDeviceBusy),
		errors.Is(err, domain.ErrJobNotCancellable),
		errors.Is(err, domain.ErrCertificateNotReady),
		errors.Is(err, domain.ErrJobNotCertifiable),
		errors.Is(err, domain.ErrJobNotTerminal):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAnchorSubmissionFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// jobID parses the :id path parameter, answering 400 when it is not a UUID.
func jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID format"})
		return uuid.Nil, false
	}
	return id, true
}
