package flowbalance

import "github.com/prometheus/client_golang/prometheus"

// metrics are the Prometheus gauges the monitor updates on every poll
// tick, grounded on cuemby-warren/pkg/metrics's per-label gauge
// bundles (here labelled by nodeId/consumer rather than that teacher's
// resource/zone pair).
type metrics struct {
	lag              *prometheus.GaugeVec
	processingRate   *prometheus.GaugeVec
	ackRate          *prometheus.GaugeVec
	deliveryFailures *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	labels := []string{"node_id", "consumer"}
	m := &metrics{
		lag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "continuum",
			Subsystem: "flowbalance",
			Name:      "lag",
			Help:      "messages waiting minus acked, per consumer",
		}, labels),
		processingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "continuum",
			Subsystem: "flowbalance",
			Name:      "processing_rate",
			Help:      "delivered messages per second since the previous sample",
		}, labels),
		ackRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "continuum",
			Subsystem: "flowbalance",
			Name:      "ack_rate",
			Help:      "acked over delivered ratio",
		}, labels),
		deliveryFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "continuum",
			Subsystem: "flowbalance",
			Name:      "delivery_failures",
			Help:      "cumulative redelivery count",
		}, labels),
	}
	if reg != nil {
		reg.MustRegister(m.lag, m.processingRate, m.ackRate, m.deliveryFailures)
	}
	return m
}

func (m *metrics) observe(s Sample) {
	labels := prometheus.Labels{"node_id": s.Target.NodeID, "consumer": s.Target.Consumer}
	m.lag.With(labels).Set(float64(s.Lag))
	m.processingRate.With(labels).Set(s.ProcessingRate)
	m.ackRate.With(labels).Set(s.AckRate)
	m.deliveryFailures.With(labels).Set(float64(s.DeliveryFailures))
}
