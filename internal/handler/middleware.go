package handler

import (
	"net/http"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/logging"
	"github.com/Shivanand-hulikatti/session-registration/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// CorrelationIDHeader carries a caller-supplied correlation ID.
const CorrelationIDHeader = "X-Correlation-ID"

// RequestContext copies chi's request ID and the caller's correlation ID (or
// a fresh one) into the context used by logging.Ctx.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimiddleware.GetReqID(ctx); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		if id := r.Header.Get(CorrelationIDHeader); id != "" {
			ctx = logging.ContextWithCorrelationID(ctx, id)
		} else {
			ctx = logging.ContextWithNewCorrelationID(ctx)
		}
		w.Header().Set(CorrelationIDHeader, logging.CorrelationIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger writes one structured access-log line per request.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logging.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

// Metrics records request count and latency per route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(r.Method, endpoint, status, time.Since(start))
	})
}

// CORS returns a go-chi/cors middleware for the given origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", CorrelationIDHeader},
		ExposedHeaders: []string{CorrelationIDHeader},
		MaxAge:         86400,
	})
}

// RateLimit limits each client IP to requests per window. Rejected requests
// receive the standard error envelope.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
		}),
	)
}
