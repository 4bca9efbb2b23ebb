// Package capabilities adapts the domain components to the capability
// registry: explicit method maps, typed per-method configs, health
// checks.
package capabilities

import (
	"context"
	"fmt"

	tbsync "github.com/taskbridge/taskbridge/internal/sync"
	"github.com/taskbridge/taskbridge/pkg/api"
)

// SyncConfig configures sync.sync_all steps.
type SyncConfig struct {
	Direction tbsync.Direction
}

func (c SyncConfig) Validate() error {
	if !c.Direction.Valid() {
		return fmt.Errorf("unknown sync direction %q", c.Direction)
	}
	return nil
}

// ProjectConfig configures sync.sync_project steps. ProjectID may be
// empty, in which case the id comes from the request config at run
// time.
type ProjectConfig struct {
	ProjectID string
}

func (c ProjectConfig) Validate() error { return nil }

// SyncCapability exposes the synchronization coordinator to flows.
type SyncCapability struct {
	coordinator *tbsync.Coordinator
}

var (
	_ api.Capability      = (*SyncCapability)(nil)
	_ api.ConfigValidator = (*SyncCapability)(nil)
)

// NewSyncCapability wraps a coordinator.
func NewSyncCapability(coordinator *tbsync.Coordinator) *SyncCapability {
	return &SyncCapability{coordinator: coordinator}
}

func (s *SyncCapability) Name() string { return "sync" }

func (s *SyncCapability) Methods() map[string]api.MethodFunc {
	return map[string]api.MethodFunc{
		"sync_all":     s.syncAll,
		"pull":         s.pull,
		"sync_project": s.syncProject,
	}
}

func (s *SyncCapability) ValidateConfig(method string, cfg api.StepConfig) error {
	switch method {
	case "sync_all":
		if _, ok := cfg.(SyncConfig); cfg != nil && !ok {
			return fmt.Errorf("sync_all expects SyncConfig, got %T", cfg)
		}
	case "sync_project":
		if _, ok := cfg.(ProjectConfig); cfg != nil && !ok {
			return fmt.Errorf("sync_project expects ProjectConfig, got %T", cfg)
		}
	case "pull":
		if cfg != nil {
			return fmt.Errorf("pull takes no config")
		}
	}
	return nil
}

func (s *SyncCapability) HealthCheck(ctx context.Context) error {
	return s.coordinator.HealthCheck(ctx)
}

func (s *SyncCapability) syncAll(ctx context.Context, ec *api.ExecutionContext) (any, error) {
	direction := tbsync.DirectionBidirectional
	if cfg, ok := ec.Config.(SyncConfig); ok {
		direction = cfg.Direction
	}
	return s.coordinator.SyncAll(ctx, direction)
}

func (s *SyncCapability) pull(ctx context.Context, ec *api.ExecutionContext) (any, error) {
	return s.coordinator.SyncAll(ctx, tbsync.DirectionPull)
}

func (s *SyncCapability) syncProject(ctx context.Context, ec *api.ExecutionContext) (any, error) {
	var projectID string
	if cfg, ok := ec.Config.(ProjectConfig); ok {
		projectID = cfg.ProjectID
	}
	if projectID == "" {
		if v, ok := ec.Request.Config["projectId"].(string); ok {
			projectID = v
		}
	}
	if projectID == "" {
		return nil, api.NewConfigurationError("sync_project requires a project id")
	}
	return s.coordinator.SyncProject(ctx, projectID)
}
