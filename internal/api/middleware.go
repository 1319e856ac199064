package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"docchat/internal/logging"
)

// RequestLogger logs one line per request through the global logger.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		evt := logging.Debug()
		if c.Writer.Status() >= 500 {
			evt = logging.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Str("session_id", c.Param("sid")).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
