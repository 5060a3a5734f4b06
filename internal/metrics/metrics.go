// Package metrics exposes the client's Prometheus collectors behind a small
// Recorder interface so components can run without a registry.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives the events components report.
type Recorder interface {
	ProviderActive(provider string)
	ProviderSwitch(from, to string)
	ComputationsPending(kind string, n int)
	ComputationResolved(kind, outcome string)
	ComputationAbandoned(kind string)
	SettlementLeg(provider, leg, outcome string)
	ProofRequest(outcome string, d time.Duration)
}

// Nop discards every event.
type Nop struct{}

func (Nop) ProviderActive(string)                {}
func (Nop) ProviderSwitch(string, string)        {}
func (Nop) ComputationsPending(string, int)      {}
func (Nop) ComputationResolved(string, string)   {}
func (Nop) ComputationAbandoned(string)          {}
func (Nop) SettlementLeg(string, string, string) {}
func (Nop) ProofRequest(string, time.Duration)   {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Metrics is the Prometheus-backed Recorder.
type Metrics struct {
	ActiveProvider        *prometheus.GaugeVec
	ProviderSwitches      *prometheus.CounterVec
	PendingComputations   *prometheus.GaugeVec
	ResolvedComputations  *prometheus.CounterVec
	AbandonedComputations *prometheus.CounterVec
	SettlementLegs        *prometheus.CounterVec
	ProofLatency          *prometheus.HistogramVec

	mu     sync.Mutex
	active string
}

// NewMetrics creates the collectors under namespace and registers them.
func NewMetrics(namespace string, registry prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.ActiveProvider = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encryption",
		Name:      "active_provider",
		Help:      "1 for the encryption provider currently in use, 0 otherwise",
	}, []string{"provider"})

	m.ProviderSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encryption",
		Name:      "provider_switches_total",
		Help:      "Total number of active provider changes",
	}, []string{"from", "to"})

	m.PendingComputations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "pending_computations",
		Help:      "Computations awaiting a result",
	}, []string{"kind"})

	m.ResolvedComputations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "resolved_total",
		Help:      "Computations resolved from ledger events",
	}, []string{"kind", "outcome"})

	m.AbandonedComputations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "abandoned_total",
		Help:      "Computations swept after going stale",
	}, []string{"kind"})

	m.SettlementLegs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "legs_total",
		Help:      "Settlement legs attempted",
	}, []string{"provider", "leg", "outcome"})

	m.ProofLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "proof",
		Name:      "request_seconds",
		Help:      "Eligibility proof request latency in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
	}, []string{"outcome"})

	registry.MustRegister(
		m.ActiveProvider,
		m.ProviderSwitches,
		m.PendingComputations,
		m.ResolvedComputations,
		m.AbandonedComputations,
		m.SettlementLegs,
		m.ProofLatency,
	)
	return m
}

// ProviderActive marks provider as the active one.
func (m *Metrics) ProviderActive(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != "" {
		m.ActiveProvider.WithLabelValues(m.active).Set(0)
	}
	m.active = provider
	if provider != "" {
		m.ActiveProvider.WithLabelValues(provider).Set(1)
	}
}

func (m *Metrics) ProviderSwitch(from, to string) {
	m.ProviderSwitches.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ComputationsPending(kind string, n int) {
	m.PendingComputations.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) ComputationResolved(kind, outcome string) {
	m.ResolvedComputations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ComputationAbandoned(kind string) {
	m.AbandonedComputations.WithLabelValues(kind).Inc()
}

func (m *Metrics) SettlementLeg(provider, leg, outcome string) {
	m.SettlementLegs.WithLabelValues(provider, leg, outcome).Inc()
}

func (m *Metrics) ProofRequest(outcome string, d time.Duration) {
	m.ProofLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
