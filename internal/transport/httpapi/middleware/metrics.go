package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/example/fundflow/internal/metrics"
)

// Metrics records per-request latency labeled by service, method and status.
func Metrics(service string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			metrics.HTTPDuration.
				WithLabelValues(service, r.Method, strconv.Itoa(ww.Status())).
				Observe(time.Since(start).Seconds())
		})
	}
}
