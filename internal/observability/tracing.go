package observability

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
)

// W3C trace context only; baggage is not forwarded to the game server.
var propagator = propagation.TraceContext{}

// TraceHandler continues the caller's trace for requests to the control API.
func TraceHandler(next http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(next, operation, otelhttp.WithPropagators(propagator))
}

// TraceTransport forwards the trace carried by the request context to the
// game server.
func TraceTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base, otelhttp.WithPropagators(propagator))
}
