// Package actions implements the name-indexed capability registry the
// reasoning loop dispatches into. Capability names come verbatim from model
// output, so lookups must tolerate unknown and invalid names without
// failing the run.
package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// State is the conversational state handed to a capability
type State struct {
	AgentID   string
	RoomID    string
	WorldID   string
	EntityID  string
	MessageID string
	Content   string
	Metadata  map[string]any
}

// Result is the outcome of one capability invocation
type Result struct {
	Success bool
	Text    string
	Error   string
}

// Action is a pluggable capability
type Action interface {
	Name() string
	Validate(ctx context.Context, st State) bool
	Invoke(ctx context.Context, st State) Result
}

// Registry maps capability names to actions
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// Register adds an action; a duplicate name is an error
func (r *Registry) Register(a Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if name == "" {
		return fmt.Errorf("action name cannot be empty")
	}
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("action %s already registered", name)
	}
	r.actions[name] = a
	return nil
}

// Names returns the registered capability names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named capability. Unknown names, failed validation and
// panicking capabilities all come back as failed Results, never as errors:
// the loop records them in the trace and keeps going.
func (r *Registry) Invoke(ctx context.Context, name string, st State) (result Result) {
	r.mu.RLock()
	action, exists := r.actions[name]
	r.mu.RUnlock()

	if !exists {
		return Result{Success: false, Error: fmt.Sprintf("unknown action: %s", name)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = Result{Success: false, Error: fmt.Sprintf("action %s panicked: %v", name, rec)}
		}
	}()

	if !action.Validate(ctx, st) {
		return Result{Success: false, Error: fmt.Sprintf("action %s rejected the current state", name)}
	}

	return action.Invoke(ctx, st)
}
