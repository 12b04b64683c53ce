package registry

import (
	"fmt"
	"log/slog"

	"github.com/specialistvlad/stagerun/internal/workflow"
)

// Handler holds the compiled Go parts of a stage kind.
type Handler struct {
	// NewInput returns a pointer to a fresh config struct with `hcl` tags.
	// Nil means the kind takes no configuration.
	NewInput func() any
	Fn       workflow.Func
}

// RegisterHandler registers the Go implementation of a stage kind.
func (r *Registry) RegisterHandler(kind string, handler *Handler) {
	if _, exists := r.HandlerRegistry[kind]; exists {
		panic(fmt.Sprintf("stage handler for kind '%s' already registered", kind))
	}
	if handler == nil || handler.Fn == nil {
		panic(fmt.Sprintf("stage handler for kind '%s' has no function", kind))
	}
	slog.Debug("Registering stage handler.", "kind", kind)
	r.HandlerRegistry[kind] = handler
}

// Handler returns the handler of a stage kind.
func (r *Registry) Handler(kind string) (*Handler, bool) {
	h, ok := r.HandlerRegistry[kind]
	return h, ok
}
