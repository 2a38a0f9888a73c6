package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fjtraindriver/proxy-one-api/internal/logging"
	"github.com/fjtraindriver/proxy-one-api/internal/ratelimit"
	"github.com/fjtraindriver/proxy-one-api/internal/tracing"
)

const requestIDHeader = "X-Request-Id"

// context key for the origin that ultimately served the request
type ctxKey int

const originKey ctxKey = 0

type originLabel struct {
	s string
}

func setOriginLabel(r *http.Request, label string) {
	if v := r.Context().Value(originKey); v != nil {
		if h, ok := v.(*originLabel); ok {
			h.s = label
		}
	}
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneapi_proxy_http_requests_total",
			Help: "Total number of HTTP requests handled by the proxy",
		},
		[]string{"method", "status", "origin"},
	)
	httpRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oneapi_proxy_http_request_latency_seconds",
			Help:    "Latency of HTTP requests handled by the proxy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "origin"},
	)
	httpRateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneapi_proxy_http_rate_limited_total",
			Help: "Total number of HTTP requests rejected by rate limiting",
		},
		[]string{"route"},
	)
)

// Server is the HTTP shell around the failover router: request IDs,
// tracing, rate limiting, metrics and the /metrics endpoint.
type Server struct {
	ListenAddr string
	// Handler routes the request; normally a *Router, or the fixed
	// configuration-error handler when startup configuration is invalid.
	Handler http.Handler
	// Optional rate limiter
	RateLimiter *ratelimit.RateLimiter

	srv *http.Server
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// Flush keeps streamed origin responses streaming through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// NewConfigErrorHandler returns a handler that answers every request with a
// fixed server error naming the configuration problem. Used instead of
// serving half-configured when an origin is missing.
func NewConfigErrorHandler(err error) http.Handler {
	msg := fmt.Sprintf("proxy is not configured: %v", err)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, msg, http.StatusInternalServerError)
	})
}

// Start runs the HTTP server and blocks until it stops. A graceful
// Shutdown is reported as a nil error.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    s.ListenAddr,
		Handler: mux,
	}

	logging.LogHTTPServerStart(s.ListenAddr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "proxy_request")
	defer span.End()

	span.SetAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("http.url", r.URL.String()),
		attribute.String("http.user_agent", r.UserAgent()),
	)

	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	r.Header.Set(requestIDHeader, requestID)
	w.Header().Set(requestIDHeader, requestID)

	if s.RateLimiter != nil {
		route := r.URL.Path
		if !s.RateLimiter.Allow(route) {
			httpRateLimitedTotal.WithLabelValues(route).Inc()
			logging.LogRateLimited(requestID, route)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	hold := &originLabel{s: "none"}
	r = r.Clone(context.WithValue(ctx, originKey, hold))

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: 200}
	s.Handler.ServeHTTP(rec, r)
	latency := time.Since(start)

	span.SetAttributes(
		attribute.String("origin", hold.s),
		attribute.Int("http.status_code", rec.status),
		attribute.Int64("http.response.size", int64(rec.size)),
		attribute.Float64("http.duration_ms", float64(latency.Milliseconds())),
	)
	if rec.status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(rec.status))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	logging.LogHTTPRequest(requestID, r.Method, r.URL.Path, hold.s, rec.status, latency, int64(rec.size))

	httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status), hold.s).Inc()
	httpRequestLatency.WithLabelValues(r.Method, hold.s).Observe(latency.Seconds())
}
