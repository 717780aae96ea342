// Package metrics exposes Prometheus metrics of the trading cycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

// Recorder owns a private registry so several instances can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	outcomes      *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	available     prometheus.Gauge
	brokerCash    prometheus.Gauge
	lastCycle     prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sipbot_cycles_total", Help: "Trading cycles by trigger and result"},
			[]string{"trigger", "result"},
		),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sipbot_cycle_duration_seconds",
			Help:    "Wall time of completed cycles",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sipbot_outcomes_total", Help: "Instrument outcomes by status and side"},
			[]string{"status", "side"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sipbot_decisions_total", Help: "Oracle decisions by kind and flow"},
			[]string{"kind", "flow"},
		),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sipbot_pool_available",
			Help: "Spendable pool cash at the end of the last cycle",
		}),
		brokerCash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sipbot_broker_cash",
			Help: "Broker cash reported at the start of the last cycle",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sipbot_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle started",
		}),
	}

	r.registry.MustRegister(r.cycles, r.cycleDuration, r.outcomes, r.decisions, r.available, r.brokerCash, r.lastCycle)

	return r
}

// ObserveDecision counts an oracle verdict.
func (r *Recorder) ObserveDecision(d domain.Decision) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(string(d.Kind), string(d.Flow)).Inc()
}

// ObserveOutcome counts an instrument outcome.
func (r *Recorder) ObserveOutcome(o domain.Outcome) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(string(o.Status), string(o.Side)).Inc()
}

// ObserveCycle records a finished or aborted cycle.
func (r *Recorder) ObserveCycle(rep domain.CycleReport) {
	if r == nil {
		return
	}

	result := "done"
	if rep.Aborted() {
		result = "aborted"
	}
	r.cycles.WithLabelValues(string(rep.Trigger), result).Inc()
	r.lastCycle.Set(float64(rep.StartedAt.Unix()))

	if rep.Aborted() {
		return
	}
	r.cycleDuration.Observe(rep.Duration.Seconds())
	cash, _ := rep.BrokerCash.Float64()
	r.brokerCash.Set(cash)
	avail, _ := rep.Available.Float64()
	r.available.Set(avail)
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
