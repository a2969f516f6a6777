package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/epts-reports/pkg/errors"
	"github.com/jwalitptl/epts-reports/pkg/httputil"
)

// DefaultMaxBodySize fits an explicit cohort of a few hundred thousand patient IDs.
const DefaultMaxBodySize int64 = 4 << 20

// SizeLimit rejects bodies whose declared length exceeds limit and caps the rest while reading.
func SizeLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			httputil.RespondWithError(c, errors.BadRequest("request body too large", nil))
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
