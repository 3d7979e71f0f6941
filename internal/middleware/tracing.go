package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/neogan74/rentguard/internal/identity"
)

// TraceIDKey is the locals key holding the active trace id.
const TraceIDKey = "trace_id"

// TraceIDHeader echoes the trace id back to the caller.
const TraceIDHeader = "X-Trace-Id"

// TracingMiddleware opens a server span per request, continuing any trace
// carried by the inbound headers. Once the chain returns the span is renamed
// after the matched route and tagged with the status and resolved subject.
func TracingMiddleware(serviceName string) fiber.Handler {
	tracer := otel.Tracer(serviceName)

	return func(c *fiber.Ctx) error {
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), headerCarrier{c})
		ctx, span := tracer.Start(ctx, c.Method(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(c.Method()),
				semconv.HTTPTarget(c.OriginalURL()),
				semconv.UserAgentOriginal(c.Get(fiber.HeaderUserAgent)),
				attribute.String("http.client_ip", ClientAddress(c)),
			),
		)
		defer span.End()
		c.SetUserContext(ctx)

		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Locals(TraceIDKey, sc.TraceID().String())
			c.Set(TraceIDHeader, sc.TraceID().String())
		}

		err := c.Next()

		// Routing has run now; rename from the raw path to the route pattern.
		route := routePath(c)
		span.SetName(c.Method() + " " + route)
		status := c.Response().StatusCode()
		span.SetAttributes(semconv.HTTPStatusCode(status), semconv.HTTPRoute(route))
		if p := identity.FromContext(c.UserContext()); !p.IsAnonymous() {
			span.SetAttributes(attribute.String("enduser.id", p.Subject))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		// Only server faults mark the span as failed; 4xx is the caller's problem.
		if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, fiber.ErrInternalServerError.Message)
		}
		return nil
	}
}

// GetTraceID returns the trace id stored by TracingMiddleware.
func GetTraceID(c *fiber.Ctx) string {
	id, _ := c.Locals(TraceIDKey).(string)
	return id
}

// headerCarrier exposes fiber request headers to OTel propagators.
type headerCarrier struct{ c *fiber.Ctx }

func (h headerCarrier) Get(key string) string { return h.c.Get(key) }

func (h headerCarrier) Set(key, value string) { h.c.Set(key, value) }

func (h headerCarrier) Keys() []string {
	var keys []string
	h.c.Request().Header.VisitAll(func(key, _ []byte) {
		keys = append(keys, string(key))
	})
	return keys
}
