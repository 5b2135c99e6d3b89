package saga

import (
	"fmt"
	"sync"

	"github.com/sagaflow/engine/sagaerr"
)

// Registry holds versioned saga definitions keyed by name. A saga instance
// is always started against a specific (name, version) pair so an in-flight
// instance is never affected by a later registration of the same name.
type Registry struct {
	mu    sync.RWMutex
	byKey map[registryKey]*Definition
	// latest tracks the highest registered version per name, for callers
	// that want "start against the current definition".
	latest map[string]int
	// triggers maps an event type to, per name, the highest registered
	// version that declares it in TriggerEvents; ResolveByTriggerEvent
	// keeps only entries that are also the name's current latest version.
	triggers map[string]map[string]*Definition
}

type registryKey struct {
	name    string
	version int
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:    make(map[registryKey]*Definition),
		latest:   make(map[string]int),
		triggers: make(map[string]map[string]*Definition),
	}
}

// Register validates and stores a definition. Registering the same
// (name, version) twice fails with ErrDuplicateDefinition -- callers pick a
// new Version to change a definition rather than overwrite one that may
// already have in-flight instances bound to it.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{def.Name, def.Version}
	if _, exists := r.byKey[key]; exists {
		return fmt.Errorf("saga definition %s v%d: %w", def.Name, def.Version, sagaerr.ErrDuplicateDefinition)
	}
	r.byKey[key] = def
	if cur, ok := r.latest[def.Name]; !ok || def.Version > cur {
		r.latest[def.Name] = def.Version
	}
	for _, evt := range def.TriggerEvents {
		byName, ok := r.triggers[evt]
		if !ok {
			byName = make(map[string]*Definition)
			r.triggers[evt] = byName
		}
		if cur, ok := byName[def.Name]; !ok || def.Version > cur.Version {
			byName[def.Name] = def
		}
	}
	return nil
}

// ResolveByTriggerEvent returns the current latest-version definitions that
// declare eventType as a trigger. Zero results means eventType is not a
// saga trigger; the coordinator then hands the event to its NotFoundHandler.
func (r *Registry) ResolveByTriggerEvent(eventType string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName := r.triggers[eventType]
	out := make([]*Definition, 0, len(byName))
	for name, def := range byName {
		if r.latest[name] == def.Version {
			out = append(out, def)
		}
	}
	return out
}

// Get looks up a definition by exact name and version.
func (r *Registry) Get(name string, version int) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byKey[registryKey{name, version}]
	if !ok {
		return nil, fmt.Errorf("saga definition %s v%d: %w", name, version, sagaerr.ErrNotFound)
	}
	return def, nil
}

// Latest returns the highest registered version of the named definition.
func (r *Registry) Latest(name string) (*Definition, error) {
	r.mu.RLock()
	v, ok := r.latest[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("saga definition %s: %w", name, sagaerr.ErrNotFound)
	}
	return r.Get(name, v)
}

// Names returns every distinct registered definition name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.latest))
	for name := range r.latest {
		names = append(names, name)
	}
	return names
}
