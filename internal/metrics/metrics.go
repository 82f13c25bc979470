// Package metrics exposes prometheus collectors for the arena. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	matchesStarted   prometheus.Counter
	matchesCompleted *prometheus.CounterVec
	roundsResolved   prometheus.Counter
	activeMatches    prometheus.Gauge
	lobbyWaiting     prometheus.Gauge
	connections      prometheus.Gauge
	persistRetries   *prometheus.CounterVec
	persistFailures  *prometheus.CounterVec
	persistLatency   *prometheus.HistogramVec
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		matchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "match",
			Name:      "started_total",
			Help:      "Matches created from lobby pairings",
		}),
		matchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "match",
			Name:      "completed_total",
			Help:      "Matches that reached a terminal outcome",
		}, []string{"result"}),
		roundsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "match",
			Name:      "rounds_resolved_total",
			Help:      "Rounds resolved across all matches",
		}),
		activeMatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Subsystem: "match",
			Name:      "active",
			Help:      "Matches currently held in memory",
		}),
		lobbyWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Subsystem: "lobby",
			Name:      "waiting",
			Help:      "Participants waiting in any tournament queue",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections",
		}),
		persistRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Retried persistence calls by operation",
		}, []string{"op"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "store",
			Name:      "failures_total",
			Help:      "Persistence calls that gave up, by operation",
		}, []string{"op"}),
		persistLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arena",
			Subsystem: "store",
			Name:      "call_seconds",
			Help:      "Persistence call latency including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.matchesStarted, m.matchesCompleted, m.roundsResolved,
			m.activeMatches, m.lobbyWaiting, m.connections,
			m.persistRetries, m.persistFailures, m.persistLatency,
		)
	}
	return m
}

func (m *Metrics) MatchStarted() {
	if m == nil {
		return
	}
	m.matchesStarted.Inc()
	m.activeMatches.Inc()
}

// MatchEnded records a match leaving memory. result is player1, player2, draw or failed.
func (m *Metrics) MatchEnded(result string) {
	if m == nil {
		return
	}
	m.matchesCompleted.WithLabelValues(result).Inc()
	m.activeMatches.Dec()
}

func (m *Metrics) RoundResolved() {
	if m == nil {
		return
	}
	m.roundsResolved.Inc()
}

func (m *Metrics) SetLobbyWaiting(n int) {
	if m == nil {
		return
	}
	m.lobbyWaiting.Set(float64(n))
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) PersistRetry(op string) {
	if m == nil {
		return
	}
	m.persistRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) PersistFailed(op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) ObservePersist(op string, seconds float64) {
	if m == nil {
		return
	}
	m.persistLatency.WithLabelValues(op).Observe(seconds)
}
