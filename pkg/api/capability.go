package api

import (
	"context"
	"fmt"
	"sync"
)

// MethodFunc is one named operation on a capability. It receives the
// execution context of the running flow and returns the step's output.
type MethodFunc func(ctx context.Context, ec *ExecutionContext) (any, error)

// Capability is a pluggable component exposing named operations. The
// method map is explicit so dispatch never relies on reflection.
type Capability interface {
	Name() string
	Methods() map[string]MethodFunc
	HealthCheck(ctx context.Context) error
}

// ConfigValidator is implemented by capabilities that accept per-method
// step configuration. ValidateConfig is called once, when a flow
// definition referencing the method is registered.
type ConfigValidator interface {
	ValidateConfig(method string, cfg StepConfig) error
}

// Registry resolves capabilities by name. It is populated once by the
// composition root; there is no package-level default instance.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]Capability),
	}
}

// Register adds a capability under its own name.
func (r *Registry) Register(c Capability) error {
	if c == nil || c.Name() == "" {
		return fmt.Errorf("capability must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.capabilities[c.Name()]; exists {
		return fmt.Errorf("capability already registered: %s", c.Name())
	}

	r.capabilities[c.Name()] = c
	return nil
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.capabilities[name]
	if !ok {
		return nil, &CapabilityNotFoundError{Capability: name}
	}
	return c, nil
}

// Resolve returns the handler for a capability method.
func (r *Registry) Resolve(capability, method string) (MethodFunc, error) {
	c, err := r.Get(capability)
	if err != nil {
		return nil, err
	}

	fn, ok := c.Methods()[method]
	if !ok || fn == nil {
		return nil, &MethodNotFoundError{Capability: capability, Method: method}
	}
	return fn, nil
}

// Invoke dispatches one capability method call.
func (r *Registry) Invoke(ctx context.Context, capability, method string, ec *ExecutionContext) (any, error) {
	fn, err := r.Resolve(capability, method)
	if err != nil {
		return nil, err
	}
	return fn(ctx, ec)
}

// ValidateStep checks that a step resolves and that its config is
// acceptable to the capability. Used at flow registration time.
func (r *Registry) ValidateStep(step FlowStep) error {
	c, err := r.Get(step.Capability)
	if err != nil {
		return err
	}

	if _, ok := c.Methods()[step.Method]; !ok {
		return &MethodNotFoundError{Capability: step.Capability, Method: step.Method}
	}

	if step.Config != nil {
		if err := step.Config.Validate(); err != nil {
			return NewConfigurationError("step %s.%s: %v", step.Capability, step.Method, err)
		}
	}
	if cv, ok := c.(ConfigValidator); ok {
		if err := cv.ValidateConfig(step.Method, step.Config); err != nil {
			return NewConfigurationError("step %s.%s: %v", step.Capability, step.Method, err)
		}
	}
	return nil
}

// HealthCheck probes every registered capability and reports name->ok.
// A capability's own failure (error or panic) is reported as false,
// never propagated.
func (r *Registry) HealthCheck(ctx context.Context) map[string]bool {
	r.mu.RLock()
	caps := make(map[string]Capability, len(r.capabilities))
	for name, c := range r.capabilities {
		caps[name] = c
	}
	r.mu.RUnlock()

	out := make(map[string]bool, len(caps))
	for name, c := range caps {
		out[name] = probe(ctx, c)
	}
	return out
}

func probe(ctx context.Context, c Capability) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return c.HealthCheck(ctx) == nil
}

// Names returns the registered capability names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	return names
}
