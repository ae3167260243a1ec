// Package server implements the HTTP server and routing logic.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/maruel/memd/internal/models"
	"github.com/maruel/memd/internal/server/handlers"
	"github.com/maruel/memd/internal/server/ratelimit"
	"github.com/maruel/memd/internal/storage"
)

var errReadOnly = models.Forbidden("server is in read-only mode")

// Options configures the router.
type Options struct {
	Version string
	// ReadOnly rejects every mutation with 403. Derived from configuration:
	// a store with a remote but no push credential runs read-only.
	ReadOnly bool
	// Limiter rate-limits all API requests per client IP. Optional.
	Limiter *ratelimit.Limiter
	// SearchTimeout is the default per-search deadline. Zero uses the
	// search package default.
	SearchTimeout time.Duration
}

// NewRouter creates and configures the HTTP router.
func NewRouter(svc *storage.NodeService, opts Options) http.Handler {
	mux := &http.ServeMux{}

	nh := handlers.NewNodeHandler(svc)
	sh := handlers.NewSearchHandler(svc, opts.SearchTimeout)
	bh := handlers.NewBatchHandler(svc)
	hh := handlers.NewHealthHandler(opts.Version, opts.ReadOnly)
	sth := handlers.NewStatusHandler(svc, opts.ReadOnly)

	mux.Handle("GET /api/v1/health", Wrap(hh.Health))
	mux.Handle("GET /api/v1/status", Wrap(sth.Status))

	mux.Handle("GET /api/v1/memory", Wrap(nh.ListNodes))
	mux.Handle("GET /api/v1/memory/{path...}", Wrap(nh.GetNode))
	mux.Handle("PUT /api/v1/memory/{path...}", Wrap(nh.PutNode))
	mux.Handle("DELETE /api/v1/memory/{path...}", Wrap(nh.DeleteNode))
	mux.Handle("GET /api/v1/history/{path...}", Wrap(nh.History))

	mux.Handle("POST /api/v1/search", Wrap(sh.Search))
	mux.Handle("POST /api/v1/batch", Wrap(bh.Batch))

	var h http.Handler = mux
	if opts.ReadOnly {
		h = readOnlyMiddleware(h)
	}
	if opts.Limiter != nil {
		h = ratelimit.Middleware(opts.Limiter)(h)
	}
	return logMiddleware(h)
}

// isMutating returns true for HTTP methods that modify state.
func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}

// readOnlyMiddleware rejects mutations when the store runs without push
// credentials. Search is a POST but mutates nothing, so it passes.
func readOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMutating(r.Method) && r.URL.Path != "/api/v1/search" {
			writeError(r.Context(), w, errReadOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// newRequestID generates a random request correlation ID.
func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// logMiddleware logs one line per request. A client-supplied X-Request-ID is
// echoed back, otherwise one is generated.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.InfoContext(r.Context(), "Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Microsecond),
			"ip", ratelimit.ClientIP(r),
			"requestID", id,
		)
	})
}
