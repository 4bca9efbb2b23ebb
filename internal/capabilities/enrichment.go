package capabilities

import (
	"context"
	"fmt"

	"github.com/taskbridge/taskbridge/internal/enrich"
	"github.com/taskbridge/taskbridge/internal/staging"
	"github.com/taskbridge/taskbridge/pkg/api"
)

// EnrichmentCapability exposes single-task enrichment to flows.
type EnrichmentCapability struct {
	manager  *staging.Manager
	strategy enrich.Strategy
}

var (
	_ api.Capability      = (*EnrichmentCapability)(nil)
	_ api.ConfigValidator = (*EnrichmentCapability)(nil)
)

// NewEnrichmentCapability wraps the lifecycle manager and the strategy
// it enriches with.
func NewEnrichmentCapability(manager *staging.Manager, strategy enrich.Strategy) *EnrichmentCapability {
	return &EnrichmentCapability{manager: manager, strategy: strategy}
}

func (e *EnrichmentCapability) Name() string { return "enrichment" }

func (e *EnrichmentCapability) Methods() map[string]api.MethodFunc {
	return map[string]api.MethodFunc{
		"enrich_task": e.enrichTask,
	}
}

func (e *EnrichmentCapability) ValidateConfig(method string, cfg api.StepConfig) error {
	if cfg != nil {
		return fmt.Errorf("%s takes no config", method)
	}
	return nil
}

// HealthCheck runs the strategy against a throwaway task; a strategy
// that cannot enrich anything is unhealthy.
func (e *EnrichmentCapability) HealthCheck(ctx context.Context) error {
	_, err := e.strategy.Enrich(ctx, &api.StagedTask{
		ExternalID: "health-check",
		ProjectRef: "health-check",
		Title:      "health check probe",
	})
	return err
}

func (e *EnrichmentCapability) enrichTask(ctx context.Context, ec *api.ExecutionContext) (any, error) {
	task, err := requestedTask(ctx, ec, e.manager)
	if err != nil {
		return nil, err
	}

	if !e.manager.NeedsEnrichment(task) {
		return task, nil
	}
	if err := e.manager.Enrich(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}
