// Package memorydispatch is an in-process dispatch.Dispatcher for tests and
// single-node deployments, grounded on the teacher's InMemoryMessageBroker.
package memorydispatch

import (
	"context"
	"sync"

	"github.com/sagaflow/engine/dispatch"
)

// Dispatcher records every message it receives and optionally forwards it
// to a subscriber function, without any network transport.
type Dispatcher struct {
	mu       sync.Mutex
	messages []dispatch.MessageContext
	handler  func(dispatch.MessageContext)
}

// New creates an in-memory dispatcher. handler may be nil.
func New(handler func(dispatch.MessageContext)) *Dispatcher {
	return &Dispatcher{handler: handler}
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) Dispatch(_ context.Context, msg dispatch.MessageContext) dispatch.Result {
	d.mu.Lock()
	d.messages = append(d.messages, msg)
	d.mu.Unlock()

	if d.handler != nil {
		d.handler(msg)
	}
	return dispatch.Result{Delivered: true}
}

// Messages returns every message dispatched so far, for test assertions.
func (d *Dispatcher) Messages() []dispatch.MessageContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dispatch.MessageContext, len(d.messages))
	copy(out, d.messages)
	return out
}
