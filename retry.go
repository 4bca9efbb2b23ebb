package taskbridge

import (
	"time"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// StepOption configures a single flow step.
type StepOption interface {
	applyStep(*api.FlowStep)
}

// RetryOption carries retry settings built with Retry.
type RetryOption struct {
	retries int
	timeout time.Duration
}

// Retry allows the step to be re-attempted up to retries extra times
// after the first failure. Retry(0) means a single attempt.
//
// Example:
//
//	taskbridge.Retry(2).WithTimeout(30 * time.Second)
func Retry(retries int) RetryOption {
	if retries < 0 {
		retries = 0
	}
	return RetryOption{retries: retries}
}

// WithTimeout bounds each individual attempt of the step. A timed-out
// attempt counts against the retry budget.
func (r RetryOption) WithTimeout(timeout time.Duration) RetryOption {
	r.timeout = timeout
	return r
}

func (r RetryOption) applyStep(step *api.FlowStep) {
	step.Retries = r.retries
	step.Timeout = r.timeout
}

// TimeoutOption bounds each attempt of a step without enabling retries.
type TimeoutOption time.Duration

// Timeout builds a TimeoutOption for FlowBuilder.Step.
func Timeout(d time.Duration) TimeoutOption {
	return TimeoutOption(d)
}

func (t TimeoutOption) applyStep(step *api.FlowStep) {
	step.Timeout = time.Duration(t)
}
