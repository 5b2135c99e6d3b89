// Package natsdispatch is a dispatch.Dispatcher backed by NATS core
// pub/sub, grounded on the teacher's module.NATSBroker producer side
// (natsProducer.SendMessage -> conn.Publish).
package natsdispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/sagaflow/engine/dispatch"
)

// Dispatcher publishes outbox messages to NATS subjects.
type Dispatcher struct {
	url    string
	mu     sync.RWMutex
	conn   *nats.Conn
	logger *slog.Logger
}

// New creates a Dispatcher. The connection is established lazily on the
// first Dispatch call (mirrors NATSBroker.Start being decoupled from
// construction).
func New(url string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		url = nats.DefaultURL
	}
	return &Dispatcher{url: url, logger: logger}
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) connect() error {
	d.mu.RLock()
	connected := d.conn != nil
	d.mu.RUnlock()
	if connected {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return nil
	}
	conn, err := nats.Connect(d.url)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", d.url, err)
	}
	d.conn = conn
	return nil
}

func (d *Dispatcher) Dispatch(_ context.Context, msg dispatch.MessageContext) dispatch.Result {
	if err := d.connect(); err != nil {
		return dispatch.Result{Err: err}
	}

	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()

	if err := conn.Publish(msg.Topic, msg.Body); err != nil {
		return dispatch.Result{Err: fmt.Errorf("publish to %q: %w", msg.Topic, err)}
	}
	d.logger.Info("message published to NATS", "topic", msg.Topic)
	return dispatch.Result{Delivered: true}
}

// Close disconnects from NATS.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}
