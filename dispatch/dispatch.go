// Package dispatch defines the outbound transport contract the outbox
// drainer uses to deliver messages, plus concrete adapters
// (dispatch/natsdispatch, dispatch/kafkadispatch, dispatch/memorydispatch)
// grounded on the teacher's module.NATSBroker / module.KafkaBroker /
// module.InMemoryMessageBroker producer side.
package dispatch

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// MessageContext carries W3C trace propagation headers alongside an
// outbound message so a downstream consumer's span links back to the saga
// step that produced it.
type MessageContext struct {
	Topic   string
	Key     string
	Body    []byte
	Headers map[string]string
}

// InjectTraceContext stamps the current span context onto Headers using
// the W3C traceparent/tracestate format, mirroring the teacher's
// observability/tracing middleware's use of a propagation.HeaderCarrier.
func (m *MessageContext) InjectTraceContext(ctx context.Context, propagator propagation.TextMapPropagator) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	propagator.Inject(ctx, propagation.MapCarrier(m.Headers))
}

// Result reports the outcome of a dispatch attempt.
type Result struct {
	Delivered bool
	Err       error
}

// Dispatcher delivers one message to an external transport. Outbox
// implementations call this once per pending message per drain cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg MessageContext) Result
}
