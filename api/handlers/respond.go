package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/logger"
)

// maxBodyBytes bounds request bodies: a room ciphertext plus envelope.
const maxBodyBytes = 1 << 20

// respondError writes err with the status its kind maps to. Internal
// failures are logged and reported without detail.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		msg := "Internal error"
		if errors.Is(err, apperr.ErrPaymentBackend) {
			msg = "No Payment Backend"
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindJSON decodes a bounded JSON body into v.
func bindJSON(c *gin.Context, v any) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.ErrPayloadTooLarge
		}
		return fmt.Errorf("%w: %v", apperr.ErrBadRequest, err)
	}
	return nil
}

// paymentBody is the body of the oracle's webhook calls and of the
// payment-confirming endpoints.
type paymentBody struct {
	PaymentHash string `json:"paymentHash"`
	SnakeHash   string `json:"payment_hash"`
}

func (b paymentBody) hash() string {
	if b.PaymentHash != "" {
		return b.PaymentHash
	}
	return b.SnakeHash
}
