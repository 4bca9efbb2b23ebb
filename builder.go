package taskbridge

import (
	"fmt"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// FlowBuilder provides a fluent API for defining flows:
//
//	flow := taskbridge.NewFlow("nightly-sync").
//	    Step("sync", "sync_all", SyncConfig{Direction: "bidirectional"},
//	        taskbridge.Retry(2).WithTimeout(5*time.Minute)).
//	    Step("staging", "review_batch", ReviewConfig{BatchSize: 50})
//
//	if err := flow.Register(executor); err != nil {
//	    log.Fatal(err)
//	}
type FlowBuilder struct {
	def api.FlowDefinition
}

// NewFlow creates a new flow builder with the given name.
func NewFlow(name string) *FlowBuilder {
	return &FlowBuilder{
		def: api.FlowDefinition{
			Name:  name,
			Steps: make([]api.FlowStep, 0),
		},
	}
}

// Name returns the flow name.
func (b *FlowBuilder) Name() string {
	return b.def.Name
}

// Definition returns the underlying FlowDefinition.
// Typically used when interacting with lower-level APIs.
func (b *FlowBuilder) Definition() api.FlowDefinition {
	return b.def
}

// Step appends a step invoking the named capability method. opts
// configure retries and timeouts for this step; by default a step
// runs once with no timeout.
func (b *FlowBuilder) Step(capability, method string, config api.StepConfig, opts ...StepOption) *FlowBuilder {
	if capability == "" {
		panic("taskbridge: step capability must not be empty")
	}
	if method == "" {
		panic(fmt.Sprintf("taskbridge: step for capability %q has no method", capability))
	}

	step := api.FlowStep{
		Capability: capability,
		Method:     method,
		Config:     config,
	}
	for _, opt := range opts {
		opt.applyStep(&step)
	}
	b.def.Steps = append(b.def.Steps, step)
	return b
}

// Register registers the built flow with the given executor.
func (b *FlowBuilder) Register(exec FlowRegistrar) error {
	return exec.RegisterFlow(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(exec FlowRegistrar) {
	if err := b.Register(exec); err != nil {
		panic(err)
	}
}

// FlowRegistrar accepts flow definitions. Satisfied by engine.Executor.
type FlowRegistrar interface {
	RegisterFlow(def api.FlowDefinition) error
}
