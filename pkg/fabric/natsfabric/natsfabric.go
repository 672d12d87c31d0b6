// Package natsfabric adapts github.com/nats-io/nats.go's JetStream
// client to the pkg/fabric.Fabric interface. It is adapted from
// packages/go-core/natsclient/{client,stream}.go: the same connect +
// JetStream-context + durable-stream-provisioning shape, generalised
// from a DOMAIN_EVENTS stream into a single CONTINUUM_EVENTS stream
// covering every persistent subject family, and from one hard-coded
// app logger into the fabric's own zap logger.
package natsfabric

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arc-self/continuum/pkg/fabric"
)

// StreamDurableEvents is the durable JetStream stream backing every
// persistent subject (spec §4.4: subjects under "state.", "events.",
// or containing ".persistent."). It mirrors
// packages/go-core/natsclient/stream.go's StreamDomainEvents.
const StreamDurableEvents = "CONTINUUM_EVENTS"

var persistentSubjects = []string{
	"state.>",
	"events.>",
	"*.persistent.>",
}

// Adapter implements fabric.Fabric over a NATS JetStream connection.
type Adapter struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger

	reconnecting bool
}

// Options configures an Adapter.
type Options struct {
	Servers []string
	User    string
	Pass    string
	Token   string
	Timeout time.Duration
}

// Connect dials NATS, opens a JetStream context, and provisions the
// durable stream. The first connect attempt is wrapped in an
// exponential back-off retry (at most 3 retries). After a later
// disconnect, nats.go reconnects on its own with a fixed one-second
// wait and no limit on the number of attempts; that reconnect loop
// does not back off exponentially.
func Connect(opts Options, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	natsOpts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.User, opts.Pass))
	}
	if opts.Token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.Token))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	natsOpts = append(natsOpts, nats.Timeout(timeout))

	a := &Adapter{logger: logger}
	a.conn = nil

	natsOpts = append(natsOpts,
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			a.reconnecting = true
			logger.Warn("fabric disconnected, publishes will fail fast", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			a.reconnecting = false
			logger.Info("fabric reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)

	servers := joinServers(opts.Servers)

	var conn *nats.Conn
	err := backoff.Retry(func() error {
		var connErr error
		conn, connErr = nats.Connect(servers, natsOpts...)
		return connErr
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	if err != nil {
		return nil, fmt.Errorf("fabric: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("fabric: jetstream init: %w", err)
	}
	a.conn = conn
	a.js = js

	if err := a.provisionStream(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("fabric connected", zap.Strings("servers", opts.Servers))
	return a, nil
}

// provisionStream idempotently ensures the durable stream exists,
// adapted from natsclient.Client.ProvisionStreams.
func (a *Adapter) provisionStream() error {
	_, err := a.js.StreamInfo(StreamDurableEvents)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("fabric: stream info: %w", err)
	}
	cfg := &nats.StreamConfig{
		Name:      StreamDurableEvents,
		Subjects:  persistentSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}
	if _, err := a.js.AddStream(cfg); err != nil {
		return fmt.Errorf("fabric: create stream: %w", err)
	}
	a.logger.Info("fabric stream provisioned",
		zap.String("stream", StreamDurableEvents),
		zap.Strings("subjects", persistentSubjects),
	)
	return nil
}

// Publish implements fabric.Fabric.
func (a *Adapter) Publish(ctx context.Context, subject string, payload []byte) error {
	if a.reconnecting {
		return fabric.ErrDisconnected
	}
	if fabric.IsPersistentSubject(subject) {
		_, err := a.js.Publish(subject, payload, nats.Context(ctx))
		if err != nil {
			return &fabric.TransportError{Op: "publish", Subject: subject, Err: err}
		}
		return nil
	}
	if err := a.conn.Publish(subject, payload); err != nil {
		return &fabric.TransportError{Op: "publish", Subject: subject, Err: err}
	}
	return nil
}

// Subscribe implements fabric.Fabric. Wildcard subjects map directly
// to NATS wildcard subscriptions (spec §4.4); the caller is
// responsible for local pattern filtering when a pattern has no
// direct NATS-wildcard equivalent (e.g. brace alternatives).
func (a *Adapter) Subscribe(ctx context.Context, subject string, handler fabric.MessageHandler) (fabric.Disposer, error) {
	sub, err := a.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(ctx, msg.Subject, msg.Data); err != nil {
			a.logger.Error("fabric subscriber handler error",
				zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return nil, &fabric.TransportError{Op: "subscribe", Subject: subject, Err: err}
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Request implements fabric.Fabric.
func (a *Adapter) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	msg, err := a.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return nil, &fabric.TransportError{Op: "request", Subject: subject, Err: err}
	}
	return msg.Data, nil
}

// Admin implements fabric.Fabric.
func (a *Adapter) Admin() (fabric.Admin, bool) {
	return &adminView{js: a.js}, true
}

// Close drains and closes the connection — Drain flushes in-flight
// publishes before closing, unlike Close which would drop them
// (adapted from natsclient.Client.Close).
func (a *Adapter) Close() error {
	if a.conn == nil {
		return nil
	}
	if err := a.conn.Drain(); err != nil {
		a.conn.Close()
		return fmt.Errorf("fabric: drain: %w", err)
	}
	return nil
}

func joinServers(servers []string) string {
	if len(servers) == 0 {
		return nats.DefaultURL
	}
	out := servers[0]
	for _, s := range servers[1:] {
		out += "," + s
	}
	return out
}
