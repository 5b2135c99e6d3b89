package orchestrator

import "context"

// StepHandler executes the forward side of one saga step.
type StepHandler interface {
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// StepHandlerFunc adapts a plain function to StepHandler.
type StepHandlerFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

func (f StepHandlerFunc) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f(ctx, input)
}

// HandlerRegistry resolves step handlers by name, populated by the
// application wiring the coordinator to its domain logic.
type HandlerRegistry struct {
	handlers map[string]StepHandler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]StepHandler)}
}

// Register associates a handler name with its implementation.
func (r *HandlerRegistry) Register(name string, h StepHandler) {
	r.handlers[name] = h
}

// Get resolves a handler by name.
func (r *HandlerRegistry) Get(name string) (StepHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}
