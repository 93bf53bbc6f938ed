package generation

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	backendCalls *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	waiting      prometheus.Gauge
	outcomes     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mermaidgen_backend_calls_total",
			Help: "Backend completion calls by model and result.",
		}, []string{"model", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mermaidgen_generation_duration_seconds",
			Help:    "Wall time of generations by outcome kind.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45, 90, 180},
		}, []string{"kind"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mermaidgen_gate_in_flight",
			Help: "Generations holding an admission permit.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mermaidgen_gate_waiting",
			Help: "Generations queued at the admission gate.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mermaidgen_outcomes_total",
			Help: "Generation outcomes by kind.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{m.backendCalls, m.duration, m.inFlight, m.waiting, m.outcomes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) backendCall(model, result string) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(model, result).Inc()
}

func (m *Metrics) outcome(o Outcome) {
	if m == nil {
		return
	}
	kind := string(o.Kind)
	if kind == "" {
		kind = "ok"
	}
	m.outcomes.WithLabelValues(kind).Inc()
	m.duration.WithLabelValues(kind).Observe(o.Elapsed.Seconds())
}

func (m *Metrics) admitted(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}

func (m *Metrics) queued(delta float64) {
	if m == nil {
		return
	}
	m.waiting.Add(delta)
}
