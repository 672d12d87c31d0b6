package natsfabric

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arc-self/continuum/pkg/fabric"
)

// adminView implements fabric.Admin over a JetStream context, feeding
// pkg/flowbalance's per-consumer polling (spec §4.9).
type adminView struct {
	js nats.JetStreamContext
}

func (a *adminView) ConsumerInfo(ctx context.Context, stream, consumer string) (fabric.ConsumerInfo, error) {
	info, err := a.js.ConsumerInfo(stream, consumer, nats.Context(ctx))
	if err != nil {
		return fabric.ConsumerInfo{}, fmt.Errorf("fabric admin: consumer info %s/%s: %w", stream, consumer, err)
	}
	return fabric.ConsumerInfo{
		Stream:         stream,
		Consumer:       consumer,
		NumPending:     info.NumPending,
		NumAckPending:  uint64(info.NumAckPending),
		NumRedelivered: uint64(info.NumRedelivered),
		Delivered:      uint64(info.Delivered.Consumer),
		Acked:          uint64(info.AckFloor.Consumer),
		SampledAt:      time.Now(),
	}, nil
}

func (a *adminView) StreamInfo(ctx context.Context, stream string) (fabric.StreamInfo, error) {
	info, err := a.js.StreamInfo(stream, nats.Context(ctx))
	if err != nil {
		return fabric.StreamInfo{}, fmt.Errorf("fabric admin: stream info %s: %w", stream, err)
	}
	return fabric.StreamInfo{
		Name:     stream,
		Messages: info.State.Msgs,
		Bytes:    info.State.Bytes,
	}, nil
}

func (a *adminView) ListConsumers(ctx context.Context, stream string) ([]string, error) {
	names := []string{}
	for name := range a.js.ConsumerNames(stream) {
		select {
		case <-ctx.Done():
			return names, ctx.Err()
		default:
		}
		names = append(names, name)
	}
	return names, nil
}
