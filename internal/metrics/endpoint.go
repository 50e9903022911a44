package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type label string

// LabelPath is the context key holding the path label of a request.
const LabelPath label = "path"

const unknownPath = "unknown"

// EndpointMiddleware collects per endpoint HTTP request metrics.
type EndpointMiddleware struct {
	buckets  []float64
	registry prometheus.Registerer
}

// NewEndpointMiddleware creates a new EndpointMiddleware registering its collectors in registry.
func NewEndpointMiddleware(registry prometheus.Registerer) *EndpointMiddleware {
	return &EndpointMiddleware{
		// Request durations should stay far below the request timeout. Max of 10.24.
		buckets:  prometheus.ExponentialBuckets(0.005, 2, 12),
		registry: registry,
	}
}

// Wrap instruments handler with request count, duration and size collectors labelled with handlerName.
// The path label is only filled when the handler calls ApplyLabels, and is "unknown" otherwise.
//
// Each handler name can only be wrapped once per registry.
func (m *EndpointMiddleware) Wrap(handlerName string, handler http.Handler) http.HandlerFunc {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"handler": handlerName}, m.registry)
	labels := []string{"method", "code", string(LabelPath)}

	requestsTotal := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_endpoint_requests_total",
			Help: "Tracks the number of HTTP requests to the endpoint.",
		}, labels,
	)
	requestDuration := promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_endpoint_request_duration_seconds",
			Help:    "Tracks the latencies for HTTP requests to the endpoint.",
			Buckets: m.buckets,
		},
		labels,
	)
	requestSize := promauto.With(reg).NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "http_endpoint_request_size_bytes",
			Help: "Tracks the size of HTTP requests to the endpoint.",
		},
		labels,
	)

	pathOpt := promhttp.WithLabelFromCtx(string(LabelPath), pathLabelFromCtx)
	return promhttp.InstrumentHandlerCounter(
		requestsTotal,
		promhttp.InstrumentHandlerDuration(
			requestDuration,
			promhttp.InstrumentHandlerRequestSize(requestSize, handler, pathOpt),
			pathOpt,
		),
		pathOpt,
	)
}

func pathLabelFromCtx(ctx context.Context) string {
	if path, ok := ctx.Value(LabelPath).(string); ok {
		return path
	}
	return unknownPath
}

// ApplyLabels stores the path label in the request context.
// The route pattern matched by the mux is preferred over the raw path, so that
// reading identifiers and device names do not create new series.
func ApplyLabels(r *http.Request) {
	ctx := context.WithValue(r.Context(), LabelPath, pathLabel(r))
	*r = *r.WithContext(ctx)
}

// HandlerApplyLabels calls ApplyLabels before handing the request to handler.
func HandlerApplyLabels(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ApplyLabels(r)
		handler.ServeHTTP(w, r)
	})
}

func pathLabel(r *http.Request) string {
	if r.Pattern == "" {
		return r.URL.Path
	}
	// Patterns may be prefixed by a method and a host: "GET example.com/path".
	p := r.Pattern
	if _, after, found := strings.Cut(p, " "); found {
		p = strings.TrimLeft(after, " \t")
	}
	if i := strings.Index(p, "/"); i > 0 {
		p = p[i:]
	}
	return p
}
