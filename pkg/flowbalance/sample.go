package flowbalance

import (
	"time"

	"github.com/arc-self/continuum/pkg/fabric"
)

// Sample is one consumer's derived metrics for a single poll tick
// (spec §4.9).
type Sample struct {
	Target           Target
	Lag              uint64
	ProcessingRate   float64 // delivered/sec since the previous sample
	AckRate          float64 // acked/delivered, 0 when nothing delivered yet
	DeliveryFailures uint64  // redelivered count, cumulative
	SampledAt        time.Time
}

// deriveSample computes a Sample from the current ConsumerInfo and the
// previous raw reading, per spec §4.9:
//
//	lag              = messagesWaiting - acked
//	processingRate    = Δdelivered / Δt
//	ackRate           = acked / delivered
//	deliveryFailures  = redelivered count
//
// "messagesWaiting" and "acked" are read against this admin surface's
// per-tick backlog counters (NumPending: not yet delivered;
// NumAckPending: delivered but not yet acked), not the cumulative
// Acked total — lag is the outstanding backlog at this instant, the
// quantity the monitor actually needs to threshold against.
func deriveSample(target Target, prev, cur fabric.ConsumerInfo) Sample {
	lag := cur.NumPending + cur.NumAckPending

	var rate float64
	dt := cur.SampledAt.Sub(prev.SampledAt).Seconds()
	if dt > 0 && cur.Delivered >= prev.Delivered {
		rate = float64(cur.Delivered-prev.Delivered) / dt
	}

	var ackRate float64
	if cur.Delivered > 0 {
		ackRate = float64(cur.Acked) / float64(cur.Delivered)
	}

	return Sample{
		Target:           target,
		Lag:              lag,
		ProcessingRate:   rate,
		AckRate:          ackRate,
		DeliveryFailures: cur.NumRedelivered,
		SampledAt:        cur.SampledAt,
	}
}
