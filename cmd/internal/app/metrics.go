package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. It implements the
// lifecycle's metrics sink.
type Metrics struct {
	sessionsIssued  prometheus.Counter
	sessionsExpired prometheus.Counter
	scansRecorded   *prometheus.CounterVec
	scansRejected   *prometheus.CounterVec
}

// NewMetrics registers the service collectors on reg and, given a subscriber
// counter, a gauge tracking live websocket subscriptions.
func NewMetrics(reg prometheus.Registerer, clientCount func() int) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		sessionsIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "qrtrack",
			Name:      "sessions_issued_total",
			Help:      "QR sessions issued.",
		}),
		sessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "qrtrack",
			Name:      "sessions_expired_total",
			Help:      "QR sessions demoted to expired by the sweep.",
		}),
		scansRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrtrack",
			Name:      "scans_recorded_total",
			Help:      "Scan records appended to the ledger.",
		}, []string{"type"}),
		scansRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrtrack",
			Name:      "scans_rejected_total",
			Help:      "Scan submissions rejected, by wire reason.",
		}, []string{"reason"}),
	}

	if clientCount != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "qrtrack",
			Name:      "ws_subscriptions",
			Help:      "Live websocket group subscriptions.",
		}, func() float64 { return float64(clientCount()) })
	}

	return m
}

func (m *Metrics) SessionIssued()          { m.sessionsIssued.Inc() }
func (m *Metrics) SessionsExpired(n int64) { m.sessionsExpired.Add(float64(n)) }

func (m *Metrics) ScanRecorded(scanType string) {
	m.scansRecorded.WithLabelValues(scanType).Inc()
}

func (m *Metrics) ScanRejected(reason string) {
	m.scansRejected.WithLabelValues(reason).Inc()
}
