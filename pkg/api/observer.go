package api

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Observer receives callbacks from the flow executor for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay flow execution.
type Observer interface {
	// OnFlowStart is called once when a flow execution starts, before
	// the first step is attempted.
	OnFlowStart(ctx context.Context, ec *ExecutionContext)

	// OnFlowCompleted is called when a flow execution reaches
	// StatusCompleted.
	OnFlowCompleted(ctx context.Context, ec *ExecutionContext)

	// OnFlowFailed is called when a flow execution transitions to
	// StatusFailed.
	OnFlowFailed(ctx context.Context, ec *ExecutionContext, err error)

	// OnStepStart is called before each attempt sequence for a step.
	OnStepStart(ctx context.Context, ec *ExecutionContext, step FlowStep)

	// OnStepCompleted is called after a step's attempt sequence has a
	// terminal outcome, for both successes and failures (err != nil).
	// attempts is the number of attempts actually made.
	OnStepCompleted(ctx context.Context, ec *ExecutionContext, step FlowStep, attempts int, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnFlowStart(ctx context.Context, ec *ExecutionContext)                {}
func (NoopObserver) OnFlowCompleted(ctx context.Context, ec *ExecutionContext)            {}
func (NoopObserver) OnFlowFailed(ctx context.Context, ec *ExecutionContext, err error)    {}
func (NoopObserver) OnStepStart(ctx context.Context, ec *ExecutionContext, step FlowStep) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, ec *ExecutionContext, step FlowStep, attempts int, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnFlowStart(ctx context.Context, ec *ExecutionContext) {
	for _, o := range c.observers {
		o.OnFlowStart(ctx, ec)
	}
}

func (c *CompositeObserver) OnFlowCompleted(ctx context.Context, ec *ExecutionContext) {
	for _, o := range c.observers {
		o.OnFlowCompleted(ctx, ec)
	}
}

func (c *CompositeObserver) OnFlowFailed(ctx context.Context, ec *ExecutionContext, err error) {
	for _, o := range c.observers {
		o.OnFlowFailed(ctx, ec, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, ec *ExecutionContext, step FlowStep) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, ec, step)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, ec *ExecutionContext, step FlowStep, attempts int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, ec, step, attempts, err, d)
	}
}

// LoggingObserver writes structured logs for flow and step lifecycle
// events.
type LoggingObserver struct {
	logger *zap.Logger
}

// NewLoggingObserver creates an Observer that logs lifecycle events with
// the provided logger. If logger is nil, zap.NewNop() is used.
func NewLoggingObserver(logger *zap.Logger) Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) OnFlowStart(ctx context.Context, ec *ExecutionContext) {
	o.logger.Info("flow_start",
		zap.String("flow", ec.FlowName),
		zap.String("flow_id", ec.FlowID),
	)
}

func (o *LoggingObserver) OnFlowCompleted(ctx context.Context, ec *ExecutionContext) {
	o.logger.Info("flow_completed",
		zap.String("flow", ec.FlowName),
		zap.String("flow_id", ec.FlowID),
		zap.Int("steps", len(ec.Results)),
		zap.Duration("duration", time.Since(ec.StartedAt)),
	)
}

func (o *LoggingObserver) OnFlowFailed(ctx context.Context, ec *ExecutionContext, err error) {
	o.logger.Error("flow_failed",
		zap.String("flow", ec.FlowName),
		zap.String("flow_id", ec.FlowID),
		zap.Int("completed_steps", len(ec.Results)),
		zap.Error(err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, ec *ExecutionContext, step FlowStep) {
	o.logger.Debug("step_start",
		zap.String("flow", ec.FlowName),
		zap.String("flow_id", ec.FlowID),
		zap.String("capability", step.Capability),
		zap.String("method", step.Method),
		zap.Int("step_index", ec.StepIndex),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, ec *ExecutionContext, step FlowStep, attempts int, err error, d time.Duration) {
	fields := []zap.Field{
		zap.String("flow", ec.FlowName),
		zap.String("flow_id", ec.FlowID),
		zap.String("capability", step.Capability),
		zap.String("method", step.Method),
		zap.Int("step_index", ec.StepIndex),
		zap.Int("attempts", attempts),
		zap.Duration("duration", d),
	}
	if err != nil {
		o.logger.Error("step_failed", append(fields, zap.Error(err))...)
		return
	}
	o.logger.Debug("step_completed", fields...)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	flowsStarted      atomic.Int64
	flowsCompleted    atomic.Int64
	flowsFailed       atomic.Int64
	stepsCompleted    atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	FlowsStarted   int64
	FlowsCompleted int64
	FlowsFailed    int64
	RunningFlows   int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnFlowStart(ctx context.Context, ec *ExecutionContext) {
	m.flowsStarted.Add(1)
}

func (m *BasicMetrics) OnFlowCompleted(ctx context.Context, ec *ExecutionContext) {
	m.flowsCompleted.Add(1)
}

func (m *BasicMetrics) OnFlowFailed(ctx context.Context, ec *ExecutionContext, err error) {
	m.flowsFailed.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, ec *ExecutionContext, step FlowStep, attempts int, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.flowsStarted.Load()
	completed := m.flowsCompleted.Load()
	failed := m.flowsFailed.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		FlowsStarted:    started,
		FlowsCompleted:  completed,
		FlowsFailed:     failed,
		RunningFlows:    started - completed - failed,
		StepsCompleted:  steps,
		AvgStepDuration: avg,
	}
}
