package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fjtraindriver/proxy-one-api/internal/config"
	"github.com/fjtraindriver/proxy-one-api/internal/healthstore"
	"github.com/fjtraindriver/proxy-one-api/internal/logging"
)

var (
	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneapi_proxy_probes_total",
			Help: "Health probes against the primary origin by outcome",
		},
		[]string{"outcome"},
	)
	primaryHealthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oneapi_proxy_primary_healthy",
			Help: "Last probed health of the primary origin (1 up, 0 down)",
		},
	)
	cachedRoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneapi_proxy_cached_routes_total",
			Help: "Requests routed from the cached health record by origin",
		},
		[]string{"origin"},
	)
	healthStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneapi_proxy_health_store_errors_total",
			Help: "Failed reads/writes of the shared health record",
		},
		[]string{"op"},
	)
)

const (
	originPrimary = "primary"
	originBackup  = "backup"
)

// Router decides which origin serves each request. One designated path (the
// health-check carrier) actively probes the primary and records the result;
// every other path routes purely from the cached record.
type Router struct {
	primary      string
	backup       string
	healthPath   string
	probeTimeout time.Duration
	recordTTL    time.Duration
	store        healthstore.Store
	exec         *Executor
}

// RouterConfig wires a Router. Store and origins are required; zero
// durations fall back to the package defaults.
type RouterConfig struct {
	PrimaryOrigin   string
	BackupOrigin    string
	HealthCheckPath string
	ProbeTimeout    time.Duration
	RecordTTL       time.Duration
	Store           healthstore.Store
	Executor        *Executor
}

// NewRouter creates the failover router.
func NewRouter(rc RouterConfig) *Router {
	if rc.HealthCheckPath == "" {
		rc.HealthCheckPath = config.DefaultHealthCheckPath
	}
	if rc.ProbeTimeout <= 0 {
		rc.ProbeTimeout = config.DefaultProbeTimeout
	}
	if rc.RecordTTL <= 0 {
		rc.RecordTTL = healthstore.DefaultTTL
	}
	if rc.Executor == nil {
		rc.Executor = NewExecutor()
	}
	return &Router{
		primary:      rc.PrimaryOrigin,
		backup:       rc.BackupOrigin,
		healthPath:   rc.HealthCheckPath,
		probeTimeout: rc.ProbeTimeout,
		recordTTL:    rc.RecordTTL,
		store:        rc.Store,
		exec:         rc.Executor,
	}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == rt.healthPath {
		rt.serveProbe(w, r)
		return
	}
	rt.serveCached(w, r)
}

// serveProbe handles the designated path: buffer the body, probe the
// primary with a bounded timeout, record the verdict, and fall back to the
// backup on failure by replaying the same body.
func (rt *Router) serveProbe(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(requestIDHeader)

	// The body may have to be replayed against the backup and a request
	// stream can only be consumed once, so it is buffered up front.
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
	}

	probeCtx, cancel := context.WithTimeout(r.Context(), rt.probeTimeout)
	defer cancel()

	out, err := buildOutbound(probeCtx, r, rt.primary, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	resp, err := rt.exec.Do(out)

	// Non-2xx, transport error and timeout are all the same verdict.
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	healthy := err == nil && status >= 200 && status < 300
	logging.LogProbeResult(requestID, rt.primary, healthy, status, err)

	if healthy {
		rt.recordStatus(healthstore.StatusUp)
		setOriginLabel(r, originPrimary)
		relay(w, resp)
		return
	}

	rt.recordStatus(healthstore.StatusDown)
	if resp != nil {
		// Discard the failed primary response before trying the backup.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	reason := fmt.Sprintf("status %d", status)
	if err != nil {
		reason = err.Error()
	}
	logging.LogFailover(requestID, rt.primary, rt.backup, reason)

	// Last resort: no timeout beyond the transport's own, and no tertiary
	// target behind it.
	out, err = buildOutbound(r.Context(), r, rt.backup, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	resp, err = rt.exec.Do(out)
	if err != nil {
		logging.LogUpstreamError(requestID, rt.backup, err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	setOriginLabel(r, originBackup)
	relay(w, resp)
}

// serveCached handles every other path: route from the cached record and
// stream the body straight through. This path never probes, never writes
// the record, and never retries against the other origin.
func (rt *Router) serveCached(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(requestIDHeader)

	status, err := rt.store.Status(r.Context())
	if err != nil {
		// Fail open: availability beats routing accuracy.
		healthStoreErrorsTotal.WithLabelValues("read").Inc()
		logging.LogHealthStoreError("read", err)
		status = healthstore.StatusUnknown
	}

	origin, label := rt.primary, originPrimary
	if !status.Healthy() {
		origin, label = rt.backup, originBackup
	}
	cachedRoutesTotal.WithLabelValues(label).Inc()

	out, err := buildOutbound(r.Context(), r, origin, r.Body)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	resp, err := rt.exec.Do(out)
	if err != nil {
		logging.LogUpstreamError(requestID, origin, err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	setOriginLabel(r, label)
	relay(w, resp)
}

// recordStatus persists the probe verdict without blocking the response.
// The write is fire-and-forget: its failure is logged and counted but never
// joins the request's own outcome.
func (rt *Router) recordStatus(s healthstore.Status) {
	probesTotal.WithLabelValues(s.String()).Inc()
	if s == healthstore.StatusUp {
		primaryHealthGauge.Set(1)
	} else {
		primaryHealthGauge.Set(0)
	}
	ttl := rt.recordTTL
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.store.SetStatus(ctx, s, ttl); err != nil {
			healthStoreErrorsTotal.WithLabelValues("write").Inc()
			logging.LogHealthStoreError("write", err)
		}
	}()
}

// relay copies the origin's response to the caller verbatim: status,
// headers (redirect Location included) and body.
func relay(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
