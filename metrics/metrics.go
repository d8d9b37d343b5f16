// Package metrics holds the Prometheus collectors exported by the server.
// Collectors are package level so any component can record into them; they
// are only exposed once Register has been called.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "tictactoe"

	opLabelName        = "op"
	resultLabelName    = "result"
	reasonLabelName    = "reason"
	topicKindLabelName = "topic_kind"
)

// Eviction reasons.
const (
	ReasonFinished  = "finished"
	ReasonAbandoned = "abandoned"
)

var (
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "game operations handled, by operation and result code",
		}, []string{opLabelName, resultLabelName})

	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "sessions removed by the eviction sweep",
		}, []string{reasonLabelName})

	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "connected websocket clients",
		})

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "session snapshots published, by topic kind",
		}, []string{topicKindLabelName})
)

// Register registers every collector plus a sessions gauge that reads the
// live session count on scrape.
func Register(r prometheus.Registerer, sessionCount func() int) {
	r.MustRegister(OperationsTotal)
	r.MustRegister(EvictionsTotal)
	r.MustRegister(WebsocketClients)
	r.MustRegister(NotificationsTotal)
	if sessionCount != nil {
		r.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions",
				Help:      "sessions currently held in the store",
			}, func() float64 {
				return float64(sessionCount())
			}))
	}
}

// ObserveOperation counts one handled operation. result is "ok" or an
// error code.
func ObserveOperation(op, result string) {
	OperationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveEviction counts one swept session.
func ObserveEviction(reason string) {
	EvictionsTotal.WithLabelValues(reason).Inc()
}

// ObserveNotification counts one published snapshot.
func ObserveNotification(topicKind string) {
	NotificationsTotal.WithLabelValues(topicKind).Inc()
}
