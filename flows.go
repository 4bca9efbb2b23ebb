package taskbridge

import (
	"time"

	"github.com/taskbridge/taskbridge/internal/capabilities"
	tbsync "github.com/taskbridge/taskbridge/internal/sync"
)

// Built-in flow names.
const (
	FlowFullSync    = "full-sync"
	FlowPullSync    = "pull-sync"
	FlowReviewBatch = "review-staged"
	FlowPromoteTask = "promote-task"
)

// RegisterBuiltinFlows installs the standard flows on an executor whose
// registry already holds the sync, enrichment and staging capabilities.
//
// full-sync pulls, pushes and reconciles, then reviews the staged
// backlog. pull-sync is the cheap variant scheduled between full runs.
func RegisterBuiltinFlows(exec FlowRegistrar, direction tbsync.Direction, batchSize int) error {
	if err := NewFlow(FlowFullSync).
		Step("sync", "sync_all", capabilities.SyncConfig{Direction: direction},
			Retry(2).WithTimeout(10*time.Minute)).
		Step("staging", "review_batch", capabilities.ReviewConfig{BatchSize: batchSize},
			Timeout(5*time.Minute)).
		Register(exec); err != nil {
		return err
	}

	if err := NewFlow(FlowPullSync).
		Step("sync", "pull", nil,
			Retry(2).WithTimeout(5*time.Minute)).
		Register(exec); err != nil {
		return err
	}

	if err := NewFlow(FlowReviewBatch).
		Step("staging", "review_batch", capabilities.ReviewConfig{BatchSize: batchSize},
			Timeout(5*time.Minute)).
		Register(exec); err != nil {
		return err
	}

	// promote-task enriches the requested task first so a manually
	// promoted row never skips the enrichment gate.
	return NewFlow(FlowPromoteTask).
		Step("enrichment", "enrich_task", nil, Timeout(time.Minute)).
		Step("staging", "promote_task", nil).
		Register(exec)
}
