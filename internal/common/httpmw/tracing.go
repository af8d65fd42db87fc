package httpmw

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/scriptdeck/scriptdeck/internal/tracing"
)

// paramAttributes maps route parameters to span attribute keys, so a trace
// can be found by the process or repository it touched.
var paramAttributes = map[string]string{
	"id":     "process.id",
	"name":   "repository.name",
	"folder": "script.folder",
}

// OtelTracing wraps each request in a server span tagged with the route and
// the process, repository or folder it addresses. It is a no-op unless
// OTEL_EXPORTER_OTLP_ENDPOINT is set.
func OtelTracing(serverName string) gin.HandlerFunc {
	tracer := tracing.Tracer(serverName)

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := tracer.Start(c.Request.Context(),
			fmt.Sprintf("%s %s", c.Request.Method, route),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(routeAttributes(c)...),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPRequestMethodKey.String(c.Request.Method),
			semconv.HTTPRouteKey.String(route),
			semconv.HTTPResponseStatusCodeKey.Int(status),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}

func routeAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, p := range c.Params {
		if key, ok := paramAttributes[p.Key]; ok && p.Value != "" {
			attrs = append(attrs, attribute.String(key, p.Value))
		}
	}
	return attrs
}
