package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests chi could not route. Raw paths never become labels.
const unmatchedRoute = "unmatched"

type statusWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.n += n
	return n, err
}

// Middleware records inflight, count, latency and response size per method, chi route and status.
// It installs an empty chi route context when none exists so the pattern chi fills in is
// visible here once the request returns.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.inflight.Inc()
		defer m.inflight.Dec()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		route := unmatchedRoute
		if p := chi.RouteContext(r.Context()).RoutePattern(); p != "" {
			route = p
		}
		m.observeRequest(r.Context(), methodLabel(r.Method), route, status, time.Since(start), sw.n)
	})
}

func (m *ServerMetrics) observeRequest(ctx context.Context, method, route string, status int, elapsed time.Duration, size int) {
	m.reqTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		m.errorsTotal.WithLabelValues(method, route).Inc()
	}

	dur := m.reqDur.WithLabelValues(method, route)
	if eo, ok := dur.(prometheus.ExemplarObserver); ok {
		if ex := traceExemplar(ctx); ex != nil {
			eo.ObserveWithExemplar(elapsed.Seconds(), ex)
		} else {
			dur.Observe(elapsed.Seconds())
		}
	} else {
		dur.Observe(elapsed.Seconds())
	}
	m.respBytes.WithLabelValues(method, route).Observe(float64(size))
}

// methodLabel folds anything the site does not serve into OTHER so scanners
// sending made-up verbs cannot grow the series count.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions:
		return method
	default:
		return "OTHER"
	}
}

// traceExemplar returns a trace_id exemplar for sampled spans, nil otherwise.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
