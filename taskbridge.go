// Package taskbridge synchronizes tasks between a remote project
// service and a local staging database, enriches them, and promotes
// reviewed tasks through configurable multi-step flows.
//
// The root package re-exports the public surface of pkg/api so most
// callers only import taskbridge.
package taskbridge

import (
	"github.com/taskbridge/taskbridge/pkg/api"
)

// Core flow types.
type (
	FlowDefinition   = api.FlowDefinition
	FlowStep         = api.FlowStep
	FlowResult       = api.FlowResult
	StepResult       = api.StepResult
	Request          = api.Request
	ExecutionContext = api.ExecutionContext
	StepConfig       = api.StepConfig
)

// Capability plumbing.
type (
	Capability = api.Capability
	MethodFunc = api.MethodFunc
	Registry   = api.Registry
	Observer   = api.Observer
)

// Staged-task domain types.
type (
	StagedTask           = api.StagedTask
	PromotedTask         = api.PromotedTask
	Project              = api.Project
	EnrichmentPayload    = api.EnrichmentPayload
	SyncOperationSummary = api.SyncOperationSummary
)

// Lifecycle states.
const (
	SyncPending  = api.SyncPending
	SyncEnriched = api.SyncEnriched
	SyncPromoted = api.SyncPromoted
	SyncError    = api.SyncError
)

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return api.NewRegistry()
}

// ErrDuplicatePromotion reports a promotion that already happened.
var ErrDuplicatePromotion = api.ErrDuplicatePromotion
