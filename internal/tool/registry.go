// Package tool provides the static tool registry and the dispatcher that
// executes tool calls requested by the upstream model.
//
// A tool is a named domain action (product search, cart mutation, navigation,
// virtual try-on) with a JSON-Schema argument contract and a visibility policy
// that decides whether its result is re-injected into the model's context,
// pushed to the client UI, or both. The registry is populated once at process
// startup and read-only afterwards, so concurrent lookups from many sessions
// need no locking.
package tool

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/moalsayed95/zalanko/pkg/provider/realtime"
)

// Visibility decides which side(s) must receive a tool's result.
type Visibility int

const (
	// ToModel injects the result into the upstream model context only.
	ToModel Visibility = iota

	// ToClient pushes the result payload to the client UI only. The model
	// still receives a completion marker so its context never dangles.
	ToClient

	// ToBoth delivers the full result to the model context and the client.
	ToBoth
)

// String returns the human-readable name of the visibility policy.
func (v Visibility) String() string {
	switch v {
	case ToModel:
		return "to-model"
	case ToClient:
		return "to-client"
	case ToBoth:
		return "to-both"
	default:
		return "unknown"
	}
}

// IncludesModel reports whether the full result must reach the model context.
func (v Visibility) IncludesModel() bool { return v == ToModel || v == ToBoth }

// IncludesClient reports whether the result must reach the client.
func (v Visibility) IncludesClient() bool { return v == ToClient || v == ToBoth }

// Handler executes one tool call. Arguments have already been validated
// against the registration's schema. The returned value must be
// JSON-marshallable; a non-nil error is converted to a HandlerFailure result
// by the dispatcher and never terminates the session.
//
// Handlers must respect ctx cancellation: the session cancels outstanding
// calls when it terminates, and the dispatcher enforces a deadline. Side
// effects already committed before cancellation are not rolled back.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Registration is one entry in the registry: name, argument contract,
// handler, and result visibility. Read-only after Register.
type Registration struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler
	Visibility  Visibility

	// resolved is the compiled schema used for validation, built at
	// registration time so per-call validation does no resolution work.
	resolved *jsonschema.Resolved
}

// Registry maps tool names to registrations. Populate it during startup with
// Register; afterwards it is read-only and safe for concurrent Lookup.
type Registry struct {
	tools map[string]*Registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Registration)}
}

// Register adds a tool. It returns a DuplicateToolError if the name is
// already present and an error if the schema does not compile. Must only be
// called during startup, before any session exists.
func (r *Registry) Register(name, description string, schema *jsonschema.Schema, handler Handler, visibility Visibility) error {
	if name == "" {
		return fmt.Errorf("tool: register: name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool: register %q: handler must not be nil", name)
	}
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}

	reg := &Registration{
		Name:        name,
		Description: description,
		Schema:      schema,
		Handler:     handler,
		Visibility:  visibility,
	}
	if schema != nil {
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("tool: register %q: resolve schema: %w", name, err)
		}
		reg.resolved = resolved
	}

	r.tools[name] = reg
	return nil
}

// Lookup returns the registration for name, or an UnknownToolError.
func (r *Registry) Lookup(name string) (*Registration, error) {
	reg, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return reg, nil
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the registered tools as upstream function declarations,
// sorted by name so the session.update frame is deterministic.
func (r *Registry) Definitions() []realtime.ToolDefinition {
	defs := make([]realtime.ToolDefinition, 0, len(r.tools))
	for _, name := range r.Names() {
		reg := r.tools[name]
		defs = append(defs, realtime.ToolDefinition{
			Type:        "function",
			Name:        reg.Name,
			Description: reg.Description,
			Parameters:  reg.Schema,
		})
	}
	return defs
}
