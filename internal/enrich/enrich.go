// Package enrich fills missing descriptive fields on staged tasks.
package enrich

import (
	"context"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// Strategy produces an enrichment payload for a staged task. The output
// schema is fixed (api.EnrichmentPayload) so callers never depend on the
// strategy in use; an AI-backed implementation can be swapped in behind
// the same interface.
type Strategy interface {
	Name() string
	Enrich(ctx context.Context, task *api.StagedTask) (*api.EnrichmentPayload, error)
}
