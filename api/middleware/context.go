package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/customeros/mailpulse/internal/utils"
)

const RequestIdHeader = "X-Request-Id"

// CustomContextMiddleware stores the app source, request id and the :id
// path parameter in the request context.
func CustomContextMiddleware(appSource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.GetHeader(RequestIdHeader)
		if requestId == "" {
			requestId = uuid.NewString()
		}
		c.Set("RequestId", requestId)
		c.Header(RequestIdHeader, requestId)

		ctx := utils.WithCustomContextFromGinRequest(c, appSource)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
