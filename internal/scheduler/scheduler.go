// Package scheduler triggers periodic flow executions.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskbridge/taskbridge/internal/engine"
	"github.com/taskbridge/taskbridge/pkg/api"
)

// Trigger fires one named flow on a fixed interval. An interval of
// zero disables the trigger.
type Trigger struct {
	FlowName string
	Interval time.Duration
	Request  api.Request
}

// Scheduler runs registered triggers until its context is cancelled.
// Each trigger gets its own goroutine; a slow flow execution delays
// the next tick of that trigger rather than overlapping it.
type Scheduler struct {
	executor *engine.Executor
	logger   *zap.Logger
	triggers []Trigger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(executor *engine.Executor, logger *zap.Logger, triggers ...Trigger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{executor: executor, logger: logger, triggers: triggers}
}

// Start launches the trigger loops. It is a no-op when called twice.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	var wg sync.WaitGroup
	for _, trig := range s.triggers {
		if trig.Interval <= 0 {
			s.logger.Info("trigger disabled", zap.String("flow", trig.FlowName))
			continue
		}
		wg.Add(1)
		go func(trig Trigger) {
			defer wg.Done()
			s.run(ctx, trig)
		}(trig)
	}

	go func() {
		wg.Wait()
		close(s.done)
	}()
}

// Stop cancels the trigger loops and waits for in-flight executions.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context, trig Trigger) {
	ticker := time.NewTicker(trig.Interval)
	defer ticker.Stop()

	s.logger.Info("trigger armed",
		zap.String("flow", trig.FlowName),
		zap.Duration("interval", trig.Interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, trig)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, trig Trigger) {
	result, err := s.executor.ExecuteFlow(ctx, trig.FlowName, trig.Request)
	if err != nil {
		s.logger.Error("scheduled flow did not run",
			zap.String("flow", trig.FlowName), zap.Error(err))
		return
	}
	if !result.Success {
		s.logger.Warn("scheduled flow failed",
			zap.String("flow", trig.FlowName),
			zap.String("flow_id", result.FlowID),
			zap.String("error", result.Error))
		return
	}
	s.logger.Info("scheduled flow completed",
		zap.String("flow", trig.FlowName),
		zap.String("flow_id", result.FlowID),
		zap.Int("steps", len(result.Results)))
}
