package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hostelhub/internal/attendance"
	"hostelhub/internal/face"
	"hostelhub/internal/stats"
)

// fail maps ledger and stats errors onto the {"error": ...} envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	var rej *attendance.Rejection
	switch {
	case errors.As(err, &rej):
		c.JSON(http.StatusBadRequest, gin.H{"error": rej.Message, "reason": rej.Reason})
	case errors.Is(err, attendance.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, attendance.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Attendance not found"})
	case errors.Is(err, stats.ErrInvalidPeriod), errors.Is(err, stats.ErrInvalidDay):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, face.ErrTimeout), errors.Is(err, face.ErrModelUnavailable):
		h.log.Error("face verification failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Face verification service error. Please try again."})
	default:
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
	}
}
