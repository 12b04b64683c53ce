package registry

import (
	"sort"
)

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the stage handlers of a single application instance.
type Registry struct {
	HandlerRegistry map[string]*Handler
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		HandlerRegistry: make(map[string]*Handler),
	}
}

// Kinds returns the registered stage kinds in lexical order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.HandlerRegistry))
	for k := range r.HandlerRegistry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
