package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
)

func RequestLog(log *logger.Logger) gin.HandlerFunc {
	reqLog := log.With("middleware", "RequestLog")
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		reqLog.Info("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(started).Milliseconds(),
		)
	}
}
