package compensation

// HandlerRegistry resolves compensation handlers by name, populated by the
// application wiring the coordinator to its domain logic.
type HandlerRegistry struct {
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty compensation handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register associates a handler name with its implementation.
func (r *HandlerRegistry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// CompensationHandler implements Lookup.
func (r *HandlerRegistry) CompensationHandler(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

var _ Lookup = (*HandlerRegistry)(nil)
