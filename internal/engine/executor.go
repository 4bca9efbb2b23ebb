// Package engine runs flows: ordered capability method calls with
// per-step retry and timeout policy.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskbridge/taskbridge/internal/persistence"
	"github.com/taskbridge/taskbridge/pkg/api"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	backoffMultiplier     = 2.0
)

// Executor runs registered flows against the capability registry. Each
// execution is an isolated unit of work; the executor keeps no state
// between runs beyond the immutable flow table.
type Executor struct {
	flows    *flowTable
	registry *api.Registry
	ledger   persistence.LedgerStore
	observer api.Observer
	logger   *zap.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithObserver attaches an observer to the executor.
func WithObserver(obs api.Observer) Option {
	return func(e *Executor) {
		if obs != nil {
			e.observer = obs
		}
	}
}

// WithBackoff overrides the retry backoff bounds. Test hook.
func WithBackoff(initial, max time.Duration) Option {
	return func(e *Executor) {
		e.initialBackoff = initial
		e.maxBackoff = max
	}
}

// NewExecutor builds an executor over a registry and a ledger.
func NewExecutor(registry *api.Registry, ledger persistence.LedgerStore, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		flows:          newFlowTable(),
		registry:       registry,
		ledger:         ledger,
		observer:       api.NoopObserver{},
		logger:         logger,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterFlow validates a definition against the registry and adds it
// to the flow table. Validation happens here, at load time: a step
// naming an unknown capability or method, or carrying a config its
// capability rejects, never becomes runnable.
func (e *Executor) RegisterFlow(def api.FlowDefinition) error {
	for i, step := range def.Steps {
		if step.Retries < 0 {
			return api.NewConfigurationError("flow %s step %d: retries must be >= 0", def.Name, i)
		}
		if err := e.registry.ValidateStep(step); err != nil {
			return fmt.Errorf("flow %s step %d: %w", def.Name, i, err)
		}
	}
	return e.flows.Register(def)
}

// Flows returns the registered flow names.
func (e *Executor) Flows() []string {
	return e.flows.Names()
}

// ExecuteFlow runs one flow to completion. The returned FlowResult is
// an envelope: step failures surface as Success=false with the error
// message and any partial results, not as a returned error. The error
// return is reserved for an unknown flow name.
func (e *Executor) ExecuteFlow(ctx context.Context, flowName string, req api.Request) (*api.FlowResult, error) {
	def, err := e.flows.Get(flowName)
	if err != nil {
		return nil, err
	}

	ec := &api.ExecutionContext{
		FlowID:    uuid.NewString(),
		FlowName:  def.Name,
		Request:   req,
		Results:   make([]api.StepResult, 0, len(def.Steps)),
		StartedAt: time.Now(),
	}

	e.observer.OnFlowStart(ctx, ec)
	e.saveStatus(ctx, ec, "", api.StatusRunning, "")

	for i, step := range def.Steps {
		ec.StepIndex = i
		ec.Config = step.Config
		stepName := step.Capability + "." + step.Method

		e.saveStatus(ctx, ec, stepName, api.StatusRunning, "")
		e.observer.OnStepStart(ctx, ec, step)

		stepStart := time.Now()
		output, attempts, err := e.runStep(ctx, step, ec)
		stepDuration := time.Since(stepStart)
		e.observer.OnStepCompleted(ctx, ec, step, attempts, err, stepDuration)

		if err != nil {
			// Abort the flow, preserving the results of the steps that
			// did complete.
			e.observer.OnFlowFailed(ctx, ec, err)
			e.saveStatus(ctx, ec, stepName, api.StatusFailed, err.Error())
			return e.result(ec, err), nil
		}

		ec.Results = append(ec.Results, api.StepResult{
			Step:     stepName,
			Output:   output,
			Duration: stepDuration,
		})
	}

	e.observer.OnFlowCompleted(ctx, ec)
	e.saveStatus(ctx, ec, "", api.StatusCompleted, "")
	return e.result(ec, nil), nil
}

// FlowStatus returns the persisted status record for a flow id.
func (e *Executor) FlowStatus(ctx context.Context, flowID string) (*api.FlowStatusRecord, error) {
	return e.ledger.GetFlowStatus(ctx, flowID)
}

// runStep attempts one step up to Retries+1 times with exponential
// backoff between attempts. It returns the successful output and the
// number of attempts made.
func (e *Executor) runStep(ctx context.Context, step api.FlowStep, ec *api.ExecutionContext) (any, int, error) {
	maxAttempts := step.Retries + 1
	backoff := e.initialBackoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, attempt - 1, ctx.Err()
		default:
		}

		output, err := e.attempt(ctx, step, ec)
		if err == nil {
			return output, attempt, nil
		}

		lastErr = err
		if api.Fatal(err) {
			// Programmer or configuration error: retrying cannot help.
			return nil, attempt, err
		}
		if attempt == maxAttempts {
			break
		}

		e.logger.Warn("step attempt failed",
			zap.String("flow_id", ec.FlowID),
			zap.String("capability", step.Capability),
			zap.String("method", step.Method),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(backoff):
		}

		next := time.Duration(float64(backoff) * backoffMultiplier)
		if next > e.maxBackoff {
			next = e.maxBackoff
		}
		backoff = next
	}

	return nil, maxAttempts, lastErr
}

// attempt makes a single invocation, bounded by the step's timeout. The
// invocation runs in its own goroutine: if the deadline passes first,
// the attempt counts as failed, the child context is cancelled so a
// cooperative callee can stop early, and whatever result eventually
// arrives is discarded.
func (e *Executor) attempt(ctx context.Context, step api.FlowStep, ec *api.ExecutionContext) (any, error) {
	if step.Timeout <= 0 {
		return e.registry.Invoke(ctx, step.Capability, step.Method, ec)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		output any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		output, err := e.registry.Invoke(attemptCtx, step.Capability, step.Method, ec)
		done <- outcome{output: output, err: err}
	}()

	timer := time.NewTimer(step.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.output, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &api.TimeoutError{
			Step:    step.Capability + "." + step.Method,
			Timeout: step.Timeout,
		}
	}
}

func (e *Executor) result(ec *api.ExecutionContext, err error) *api.FlowResult {
	res := &api.FlowResult{
		Success:        err == nil,
		FlowID:         ec.FlowID,
		FlowName:       ec.FlowName,
		Results:        ec.Results,
		ProcessingTime: time.Since(ec.StartedAt),
		Timestamp:      time.Now().UTC(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// saveStatus persists a FlowStatusRecord. Ledger failures are logged
// and swallowed: observability must not take down the flow itself.
func (e *Executor) saveStatus(ctx context.Context, ec *api.ExecutionContext, stepName string, state api.Status, errMsg string) {
	rec := &api.FlowStatusRecord{
		FlowID:      ec.FlowID,
		FlowName:    ec.FlowName,
		CurrentStep: stepName,
		State:       state,
		Error:       errMsg,
		Metadata: map[string]string{
			"started_at": ec.StartedAt.UTC().Format(time.RFC3339Nano),
		},
		UpdatedAt: time.Now(),
	}
	if err := e.ledger.SaveFlowStatus(ctx, rec); err != nil {
		e.logger.Error("persisting flow status failed",
			zap.String("flow_id", ec.FlowID),
			zap.Error(err),
		)
	}
}
