package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/mutulens/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags each request with an id and logs it once finished.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("requestId", id),
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			log.Error("Request failed", fields...)
			return
		}
		log.Debug("Request handled", fields...)
	}
}
