// Package kafkadispatch is a dispatch.Dispatcher backed by Apache Kafka via
// IBM/sarama, grounded on the teacher's module.KafkaBroker producer side.
package kafkadispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/sagaflow/engine/dispatch"
)

// Dispatcher publishes outbox messages to Kafka topics using a synchronous
// producer so Dispatch only returns after the broker has acknowledged the
// write (matching the outbox drainer's at-least-once contract).
type Dispatcher struct {
	brokers  []string
	mu       sync.Mutex
	producer sarama.SyncProducer
	logger   *slog.Logger
}

// New creates a Dispatcher. The producer connects lazily on first Dispatch.
func New(brokers []string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{brokers: brokers, logger: logger}
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.producer != nil {
		return nil
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(d.brokers, cfg)
	if err != nil {
		return fmt.Errorf("create kafka producer: %w", err)
	}
	d.producer = producer
	return nil
}

func (d *Dispatcher) Dispatch(_ context.Context, msg dispatch.MessageContext) dispatch.Result {
	if err := d.connect(); err != nil {
		return dispatch.Result{Err: err}
	}

	headers := make([]sarama.RecordHeader, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	kmsg := &sarama.ProducerMessage{
		Topic:   msg.Topic,
		Key:     sarama.StringEncoder(msg.Key),
		Value:   sarama.ByteEncoder(msg.Body),
		Headers: headers,
	}

	d.mu.Lock()
	producer := d.producer
	d.mu.Unlock()

	partition, offset, err := producer.SendMessage(kmsg)
	if err != nil {
		return dispatch.Result{Err: fmt.Errorf("send to topic %q: %w", msg.Topic, err)}
	}
	d.logger.Info("message published to Kafka", "topic", msg.Topic, "partition", partition, "offset", offset)
	return dispatch.Result{Delivered: true}
}

// Close shuts down the underlying producer.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.producer != nil {
		return d.producer.Close()
	}
	return nil
}
