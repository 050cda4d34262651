package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vimaru-ai/seatutor-backend/internal/handlers"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
)

// APIKeyAuth compares X-API-Key in constant time. An empty configured key
// disables auth, which is only sane in local development.
func APIKeyAuth(log *logger.Logger, apiKey string) gin.HandlerFunc {
	if apiKey == "" {
		log.Warn("API key auth disabled; no API_KEY configured")
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handlers.Envelope{
				Status: "error",
				Error:  &handlers.APIError{Code: "unauthorized", Message: "missing or invalid API key"},
			})
			return
		}
		c.Next()
	}
}
