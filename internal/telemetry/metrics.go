package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and gauges emitted across chain signing,
// resolution, and authorization. Register it against a caller-supplied
// prometheus.Registerer; a nil Metrics (zero value) is safe to call
// methods on and simply does nothing.
type Metrics struct {
	blocksAttenuated   prometheus.Counter
	thirdPartyBlocks   prometheus.Counter
	sealsIssued        prometheus.Counter
	resolutionFacts    prometheus.Gauge
	resolutionIters    prometheus.Gauge
	authorizationsOK   prometheus.Counter
	authorizationsFail *prometheus.CounterVec
}

// NewMetrics constructs and registers the full metric set under reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		blocksAttenuated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biscuit_blocks_attenuated_total",
			Help: "Number of blocks appended to tokens via attenuate.",
		}),
		thirdPartyBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biscuit_third_party_blocks_total",
			Help: "Number of third-party co-signed blocks appended.",
		}),
		sealsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biscuit_seals_total",
			Help: "Number of tokens sealed.",
		}),
		resolutionFacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biscuit_resolution_fact_count",
			Help: "Fact count reached by the most recent resolution run.",
		}),
		resolutionIters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biscuit_resolution_iterations",
			Help: "Fixpoint iterations taken by the most recent resolution run.",
		}),
		authorizationsOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biscuit_authorizations_allowed_total",
			Help: "Number of authorize() calls that reached an allow policy.",
		}),
		authorizationsFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biscuit_authorizations_denied_total",
			Help: "Number of authorize() calls that failed, by error code.",
		}, []string{"code"}),
	}

	collectors := []prometheus.Collector{
		m.blocksAttenuated, m.thirdPartyBlocks, m.sealsIssued,
		m.resolutionFacts, m.resolutionIters,
		m.authorizationsOK, m.authorizationsFail,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveAttenuation(thirdParty bool) {
	if m == nil {
		return
	}
	m.blocksAttenuated.Inc()
	if thirdParty {
		m.thirdPartyBlocks.Inc()
	}
}

func (m *Metrics) ObserveSeal() {
	if m == nil {
		return
	}
	m.sealsIssued.Inc()
}

func (m *Metrics) ObserveResolution(factCount, iterations int) {
	if m == nil {
		return
	}
	m.resolutionFacts.Set(float64(factCount))
	m.resolutionIters.Set(float64(iterations))
}

func (m *Metrics) ObserveAuthorization(allowed bool, code string) {
	if m == nil {
		return
	}
	if allowed {
		m.authorizationsOK.Inc()
		return
	}
	m.authorizationsFail.WithLabelValues(code).Inc()
}

var globalMetrics *Metrics

// SetGlobalMetrics installs the process-wide metrics instance. Callers
// that never call this get a nil *Metrics, whose methods are no-ops.
func SetGlobalMetrics(m *Metrics) { globalMetrics = m }

// GetGlobalMetrics returns the process-wide metrics instance, or nil if
// none has been installed.
func GetGlobalMetrics() *Metrics { return globalMetrics }
