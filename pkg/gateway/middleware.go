package gateway

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/harun/chatproxy/internal/observability"
	"github.com/harun/chatproxy/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument attaches trace and request ids and records request metrics.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := r.Context()
		if traceID := r.Header.Get("X-Trace-Id"); traceID != "" {
			ctx = tracing.WithTraceID(ctx, traceID)
		}
		ctx, span := tracing.StartSpan(ctx, tracing.TracerGateway, r.Method+" "+route,
			attribute.String("http.route", route),
		)
		defer span.End()
		if tracing.GetTraceID(ctx) == "" {
			ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
		}
		ctx = tracing.WithRequestID(ctx, tracing.NewRequestID())
		w.Header().Set("X-Request-Id", tracing.GetRequestID(ctx))

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		observability.RecordHTTPRequest(route, rec.status, time.Since(start))
	})
}

// limit applies the per-client rate limit and tracks in-flight requests.
func (s *Server) limit(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.enter() {
			writeError(w, http.StatusServiceUnavailable, ErrorResponse{Error: "server is shutting down"})
			return
		}
		defer s.inFlightReqs.Done()

		if s.limiters != nil {
			limiter := s.limiters.Get(clientAddress(r))
			if ok, reason := limiter.Acquire(); !ok {
				s.logger.Warn().Str("ip", clientAddress(r)).Str("reason", reason).Msg("Request rejected by rate limiter")
				writeError(w, http.StatusTooManyRequests, ErrorResponse{Error: reason, Kind: "rate_limit"})
				return
			}
			defer limiter.RecordRequestEnd()
		}

		next(w, r)
	})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
