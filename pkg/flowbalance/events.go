package flowbalance

// NodeDownPayload is the payload of a node.down event (spec §4.9).
type NodeDownPayload struct {
	NodeID     string     `json:"nodeId"`
	LagMetrics LagMetrics `json:"lagMetrics"`
	Pattern    Pattern    `json:"pattern"`
	Severity   string     `json:"severity"`
}

// SystemDownPayload is the payload of a system.down event (spec §4.9).
type SystemDownPayload struct {
	Level         string   `json:"level"`
	Pattern       Pattern  `json:"pattern"`
	AffectedNodes []string `json:"affectedNodes"`
	Metrics       []LagMetrics `json:"metrics"`
	Confidence    float64  `json:"confidence"`
}

// LagMetrics is the derived-metric snapshot carried on emitted events.
type LagMetrics struct {
	NodeID           string  `json:"nodeId"`
	Lag              uint64  `json:"lag"`
	ProcessingRate   float64 `json:"processingRate"`
	AckRate          float64 `json:"ackRate"`
	DeliveryFailures uint64  `json:"deliveryFailures"`
}

func lagMetricsFor(s Sample) LagMetrics {
	return LagMetrics{
		NodeID:           s.Target.NodeID,
		Lag:              s.Lag,
		ProcessingRate:   s.ProcessingRate,
		AckRate:          s.AckRate,
		DeliveryFailures: s.DeliveryFailures,
	}
}

const (
	EventNodeDown   = "node.down"
	EventSystemDown = "system.down"
)
