package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/epts-reports/pkg/errors"
	"github.com/jwalitptl/epts-reports/pkg/httputil"
	"github.com/jwalitptl/epts-reports/pkg/logger"
)

// ErrorHandler logs errors attached with c.Error. When the handler did not write a response
// itself, the last error is rendered through httputil.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		for _, e := range c.Errors {
			event := log.ZL.Warn()
			if errors.IsDataAccess(e.Err) {
				event = log.ZL.Error()
			}
			event.
				Err(e.Err).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Msg("Request error")
		}

		if !c.Writer.Written() {
			httputil.RespondWithError(c, c.Errors.Last().Err)
		}
	}
}
