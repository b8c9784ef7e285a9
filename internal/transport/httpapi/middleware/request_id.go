package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/example/fundflow/pkg/logger"
)

// RequestIDHeader carries the correlation id on requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestID adopts the caller's X-Request-ID or mints one, stores it in the
// request context for logging and outbound propagation, and echoes it on the
// response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
