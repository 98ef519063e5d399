package middleware

import (
	"time"

	"commlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware wraps every request in a span named after its
// route. The span context rides on c.Request, so handlers and the
// store layer below them attach as children.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath())
		c.Request = c.Request.WithContext(ctx)

		span.SetAttributes(
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.client_ip", c.ClientIP()),
			attribute.String("http.user_agent", c.Request.UserAgent()),
		)

		start := time.Now()
		defer func() {
			status := c.Writer.Status()
			span.SetAttributes(
				attribute.Int("http.status_code", status),
				attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
				attribute.Int("http.response_bytes", c.Writer.Size()),
			)
			if status >= 400 {
				span.SetStatus(codes.Error, c.Errors.String())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}()

		c.Next()
	}
}
