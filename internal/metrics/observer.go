// Package metrics exposes flow execution metrics to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// Observer implements api.Observer over Prometheus collectors.
type Observer struct {
	flowsStarted   *prometheus.CounterVec
	flowsCompleted *prometheus.CounterVec
	flowsFailed    *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepAttempts   *prometheus.HistogramVec
}

var _ api.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		flowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskbridge",
			Name:      "flows_started_total",
			Help:      "Flow executions started.",
		}, []string{"flow"}),
		flowsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskbridge",
			Name:      "flows_completed_total",
			Help:      "Flow executions that completed successfully.",
		}, []string{"flow"}),
		flowsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskbridge",
			Name:      "flows_failed_total",
			Help:      "Flow executions that failed.",
		}, []string{"flow"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskbridge",
			Name:      "step_duration_seconds",
			Help:      "Step attempt-sequence duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow", "capability", "method", "outcome"}),
		stepAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskbridge",
			Name:      "step_attempts",
			Help:      "Attempts needed per step.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"flow", "capability", "method"}),
	}

	reg.MustRegister(o.flowsStarted, o.flowsCompleted, o.flowsFailed, o.stepDuration, o.stepAttempts)
	return o
}

func (o *Observer) OnFlowStart(ctx context.Context, ec *api.ExecutionContext) {
	o.flowsStarted.WithLabelValues(ec.FlowName).Inc()
}

func (o *Observer) OnFlowCompleted(ctx context.Context, ec *api.ExecutionContext) {
	o.flowsCompleted.WithLabelValues(ec.FlowName).Inc()
}

func (o *Observer) OnFlowFailed(ctx context.Context, ec *api.ExecutionContext, err error) {
	o.flowsFailed.WithLabelValues(ec.FlowName).Inc()
}

func (o *Observer) OnStepStart(ctx context.Context, ec *api.ExecutionContext, step api.FlowStep) {
}

func (o *Observer) OnStepCompleted(ctx context.Context, ec *api.ExecutionContext, step api.FlowStep, attempts int, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	o.stepDuration.WithLabelValues(ec.FlowName, step.Capability, step.Method, outcome).Observe(d.Seconds())
	o.stepAttempts.WithLabelValues(ec.FlowName, step.Capability, step.Method).Observe(float64(attempts))
}
