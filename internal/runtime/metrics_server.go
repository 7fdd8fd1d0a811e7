package runtime

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/biscuit/internal/telemetry"
)

// MetricsServer exposes a /metrics endpoint over a dedicated prometheus
// registry, grounded on the mux-plus-promhttp.HandlerFor wiring in
// orbas1-Synnergy's system health reporter.
type MetricsServer struct {
	srv *http.Server
}

// StartMetricsServer registers m's counters under a fresh registry and
// begins serving /metrics on addr in the background. A non-nil return
// value must eventually be Shutdown. Returns (nil, nil, nil) if addr is
// empty, the normal case for one-shot CLI invocations.
func StartMetricsServer(addr string) (*telemetry.Metrics, *MetricsServer, error) {
	if addr == "" {
		return nil, nil, nil
	}

	reg := prometheus.NewRegistry()
	m, err := telemetry.NewMetrics(reg)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		_ = srv.ListenAndServe()
	}()

	return m, &MetricsServer{srv: srv}, nil
}

// Shutdown stops the metrics listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
