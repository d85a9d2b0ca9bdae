package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/miradorstack/mirador-chaos/internal/engine"
	"github.com/miradorstack/mirador-chaos/internal/metrics"
)

// latencyMiddleware records each request's duration into the rolling latency
// window and counts it on the request counter. Scrapes of /metrics are
// excluded so monitoring traffic cannot flip readiness.
func latencyMiddleware(eng *engine.Engine, sink engine.Sink) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			next.ServeHTTP(w, r)
			eng.RecordLatency(time.Since(start))

			endpoint := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					endpoint = tmpl
				}
			}
			sink.IncrementCounter(metrics.MetricHTTPRequestsTotal, map[string]string{
				"method":   r.Method,
				"endpoint": endpoint,
			})
		})
	}
}
