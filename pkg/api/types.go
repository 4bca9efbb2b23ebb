package api

import (
	"time"
)

// Status represents the lifecycle state of a flow execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SyncStatus represents the staging lifecycle state of a task.
//
// Legal transitions are pending -> enriched -> promoted, or any
// non-promoted state -> error (retryable back to pending). A promoted
// task never regresses.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncEnriched SyncStatus = "enriched"
	SyncPromoted SyncStatus = "promoted"
	SyncError    SyncStatus = "error"
)

// StepConfig is a per-capability, per-method configuration value carried
// by a FlowStep. Concrete types live next to the capability that consumes
// them and are validated when the flow definition is registered, not when
// the step runs.
type StepConfig interface {
	Validate() error
}

// FlowStep names one unit of work within a flow: the capability to
// resolve, the method to invoke on it, and the execution policy.
type FlowStep struct {
	Capability string
	Method     string
	Config     StepConfig
	// Retries is the number of re-attempts after the first failure,
	// so a step is attempted at most Retries+1 times.
	Retries int
	// Timeout bounds a single attempt. Zero means no per-attempt bound.
	Timeout time.Duration
}

// FlowDefinition is a named, ordered sequence of steps. Definitions are
// immutable once registered.
type FlowDefinition struct {
	Name  string
	Steps []FlowStep
}

// Request carries the caller's input into a flow execution.
type Request struct {
	TaskID   string            `json:"taskId,omitempty"`
	Config   map[string]any    `json:"config,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StepResult records the outcome of one successfully completed step.
type StepResult struct {
	Step     string        `json:"step"`
	Output   any           `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExecutionContext is threaded through every step of one flow execution.
// Results always holds the outputs of the prefix of steps that have
// completed so far, in order.
type ExecutionContext struct {
	FlowID    string
	FlowName  string
	Request   Request
	Results   []StepResult
	StepIndex int
	// Config is the current step's configuration, already validated at
	// flow registration time. Nil when the step declares none.
	Config    StepConfig
	StartedAt time.Time
}

// LastOutput returns the output of the most recently completed step, or
// nil before any step has completed.
func (ec *ExecutionContext) LastOutput() any {
	if len(ec.Results) == 0 {
		return nil
	}
	return ec.Results[len(ec.Results)-1].Output
}

// FlowResult is the envelope returned for every flow execution. The API
// boundary never surfaces a raw error: failures are reported through
// Success=false and Error, with any partial results preserved.
type FlowResult struct {
	Success        bool          `json:"success"`
	FlowID         string        `json:"flowId"`
	FlowName       string        `json:"flowName"`
	Results        []StepResult  `json:"results,omitempty"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime time.Duration `json:"processingTime"`
	Timestamp      time.Time     `json:"timestamp"`
}

// FlowStatusRecord is the persisted observability record for one flow
// execution. UpdatedAt never decreases across writes for the same FlowID.
type FlowStatusRecord struct {
	FlowID      string            `json:"flowId"`
	FlowName    string            `json:"flowName"`
	CurrentStep string            `json:"currentStep"`
	State       Status            `json:"state"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// SyncOperationSummary records what happened during one sync run.
// Success is true exactly when Errors is empty.
type SyncOperationSummary struct {
	Direction           string        `json:"direction"`
	ProjectsSynced      int           `json:"projectsSynced"`
	TasksSynced         int           `json:"tasksSynced"`
	TasksCreated        int           `json:"tasksCreated"`
	TasksUpdated        int           `json:"tasksUpdated"`
	ConflictsFound      int           `json:"conflictsFound"`
	ConflictsResolved   int           `json:"conflictsResolved"`
	ConflictsUnresolved int           `json:"conflictsUnresolved"`
	// PromotedConflicts counts remote changes observed on tasks that were
	// already promoted locally. Promotion is final, so the rows are left
	// alone, but the divergence is reported.
	PromotedConflicts int           `json:"promotedConflicts"`
	Errors            []string      `json:"errors,omitempty"`
	Duration          time.Duration `json:"duration"`
	Success           bool          `json:"success"`
	StartedAt         time.Time     `json:"startedAt"`
}
