package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"registrar/internal/metrics"
	"registrar/internal/transport/handler"
	"registrar/internal/transport/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RaftPath is appended to the configured context path for every peer route.
const RaftPath = "/raft"

// NewRouter builds the HTTP API under contextPath.
func NewRouter(contextPath string, engine handler.Engine, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)
	if timeout > 0 {
		r.Use(timeoutMiddleware(timeout))
	}

	base := strings.TrimRight(contextPath, "/") + RaftPath
	r.Route(base, func(r chi.Router) {
		handler.NewRaftHandler(engine).Register(r)
	})

	return r
}

// requestID keeps a caller supplied X-Request-ID or assigns a new one, and
// echoes it on the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(util.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(util.HeaderRequestID, id)
		}
		w.Header().Set(util.HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func logServeError(name string, err error) {
	if err != nil && err != http.ErrServerClosed {
		slog.Error("failed to serve listener", "server", name, "error", err)
	}
}
