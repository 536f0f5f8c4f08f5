package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"spesebook/internal/log"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// Recorder receives per-request metrics. *metrics.Metrics implements it.
type Recorder interface {
	RecordHTTPRequest(method, route, status string, d time.Duration)
}

// Middleware handles request tracing and logging
type Middleware struct {
	extractIP func(*http.Request) string
	logger    *log.StructuredLogger
	base      *log.Logger
	recorder  Recorder
	stats     *Stats
}

// Stats tracks request counters for health output.
type Stats struct {
	TotalRequests int64
	// LastDurationMs is the duration of the most recent request.
	LastDurationMs int64
}

// NewMiddleware creates a new trace middleware. recorder may be nil.
func NewMiddleware(logger *log.Logger, extractIP func(*http.Request) string, recorder Recorder) *Middleware {
	return &Middleware{
		extractIP: extractIP,
		logger:    log.NewStructuredLogger(logger),
		base:      logger,
		recorder:  recorder,
		stats:     &Stats{},
	}
}

// Middleware returns HTTP middleware for request tracing. It reuses the
// id set by chi's RequestID middleware when present.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = GenerateRequestID()
			r = r.WithContext(context.WithValue(r.Context(), middleware.RequestIDKey, requestID))
		}
		ctx := log.NewContext(r.Context(), m.base.With(log.FieldRequestID, requestID))
		r = r.WithContext(ctx)
		w.Header().Set(RequestIDHeader, requestID)

		m.logger.LogHTTPStart(ctx, r, clientIP)
		atomic.AddInt64(&m.stats.TotalRequests, 1)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		atomic.StoreInt64(&m.stats.LastDurationMs, duration.Milliseconds())

		m.logger.LogHTTPEnd(ctx, r, status, duration.Milliseconds(), clientIP)
		if m.recorder != nil {
			m.recorder.RecordHTTPRequest(r.Method, routePattern(r), strconv.Itoa(status), duration)
		}
	})
}

// routePattern keeps metric labels bounded: matched chi patterns are used
// as-is and everything else collapses to one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" && p != "/*" {
			return p
		}
	}
	return "other"
}

// GenerateRequestID creates a unique request ID for tracing
func GenerateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// GetStats returns current counters
func (m *Middleware) GetStats() Stats {
	return Stats{
		TotalRequests:  atomic.LoadInt64(&m.stats.TotalRequests),
		LastDurationMs: atomic.LoadInt64(&m.stats.LastDurationMs),
	}
}
