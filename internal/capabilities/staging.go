package capabilities

import (
	"context"
	"fmt"
	"strconv"

	"github.com/taskbridge/taskbridge/internal/staging"
	"github.com/taskbridge/taskbridge/pkg/api"
)

// ReviewConfig configures staging.review_batch and staging.list_pending
// steps. BatchSize <= 0 means no limit.
type ReviewConfig struct {
	BatchSize int
}

func (c ReviewConfig) Validate() error { return nil }

// StagingCapability exposes the staged-task lifecycle to flows.
type StagingCapability struct {
	manager *staging.Manager
}

var (
	_ api.Capability      = (*StagingCapability)(nil)
	_ api.ConfigValidator = (*StagingCapability)(nil)
)

// NewStagingCapability wraps a lifecycle manager.
func NewStagingCapability(manager *staging.Manager) *StagingCapability {
	return &StagingCapability{manager: manager}
}

func (s *StagingCapability) Name() string { return "staging" }

func (s *StagingCapability) Methods() map[string]api.MethodFunc {
	return map[string]api.MethodFunc{
		"review_batch": s.reviewBatch,
		"list_pending": s.listPending,
		"promote_task": s.promoteTask,
	}
}

func (s *StagingCapability) ValidateConfig(method string, cfg api.StepConfig) error {
	switch method {
	case "review_batch", "list_pending":
		if _, ok := cfg.(ReviewConfig); cfg != nil && !ok {
			return fmt.Errorf("%s expects ReviewConfig, got %T", method, cfg)
		}
	case "promote_task":
		if cfg != nil {
			return fmt.Errorf("promote_task takes its task id from the request")
		}
	}
	return nil
}

func (s *StagingCapability) HealthCheck(ctx context.Context) error {
	return s.manager.HealthCheck(ctx)
}

func (s *StagingCapability) reviewBatch(ctx context.Context, ec *api.ExecutionContext) (any, error) {
	limit := 0
	if cfg, ok := ec.Config.(ReviewConfig); ok {
		limit = cfg.BatchSize
	}
	return s.manager.ReviewBatch(ctx, limit)
}

func (s *StagingCapability) listPending(ctx context.Context, ec *api.ExecutionContext) (any, error) {
	limit := 0
	if cfg, ok := ec.Config.(ReviewConfig); ok {
		limit = cfg.BatchSize
	}
	return s.manager.ListPending(ctx, limit)
}

// promoteTask validates and promotes the single task named by the
// request. Unlike a batch review, a gate failure here is the step's
// result, so it surfaces as an error.
func (s *StagingCapability) promoteTask(ctx context.Context, ec *api.ExecutionContext) (any, error) {
	task, err := requestedTask(ctx, ec, s.manager)
	if err != nil {
		return nil, err
	}

	if err := s.manager.Validate(task); err != nil {
		return nil, err
	}
	if err := s.manager.Promote(ctx, task); err != nil {
		return nil, err
	}
	if err := s.manager.MarkPromoted(ctx, task.ID); err != nil {
		return nil, err
	}

	task.SyncStatus = api.SyncPromoted
	return task, nil
}

// requestedTask resolves Request.TaskID to a staged task row.
func requestedTask(ctx context.Context, ec *api.ExecutionContext, m *staging.Manager) (*api.StagedTask, error) {
	if ec.Request.TaskID == "" {
		return nil, api.NewConfigurationError("request is missing taskId")
	}
	id, err := strconv.ParseInt(ec.Request.TaskID, 10, 64)
	if err != nil {
		return nil, api.NewConfigurationError("invalid taskId %q: %v", ec.Request.TaskID, err)
	}
	return m.GetTask(ctx, id)
}
