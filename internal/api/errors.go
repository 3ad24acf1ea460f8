package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aeropark-backend/internal/errs"
)

var categoryStatus = map[error]int{
	errs.ErrInvalidInput: http.StatusBadRequest,
	errs.ErrNotFound:     http.StatusNotFound,
	errs.ErrConflict:     http.StatusConflict,
	errs.ErrUnauthorized: http.StatusUnauthorized,
	errs.ErrForbidden:    http.StatusForbidden,
	errs.ErrPayment:      http.StatusPaymentRequired,
}

// statusOf maps an error category to an HTTP status.
func statusOf(err error) int {
	if status, ok := categoryStatus[errs.Category(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// fail writes the error response for err. Server errors are logged with
// their stack and hidden from the client.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	_ = c.Error(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", c.Request.URL.Path, "error", err, "stack", errs.ExtractStackLines(err, 12))
		c.JSON(status, gin.H{"error": "Erreur interne du serveur"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
