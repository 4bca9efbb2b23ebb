// Package staging owns the staged-task lifecycle: enrichment, the
// validation gate, and promotion.
package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskbridge/taskbridge/internal/enrich"
	"github.com/taskbridge/taskbridge/internal/persistence"
	"github.com/taskbridge/taskbridge/pkg/api"
)

// Manager drives staged tasks through pending -> enriched -> promoted.
// All state lives in the staging store; Manager itself is stateless and
// safe to use from overlapping flow executions.
type Manager struct {
	store    persistence.StagingStore
	enricher enrich.Strategy
	logger   *zap.Logger
}

// NewManager builds a lifecycle manager around a store and an enrichment
// strategy.
func NewManager(store persistence.StagingStore, enricher enrich.Strategy, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, enricher: enricher, logger: logger}
}

// ReviewSummary reports one review pass over the staging store.
type ReviewSummary struct {
	TasksReviewed int      `json:"tasksReviewed"`
	TasksEnriched int      `json:"tasksEnriched"`
	TasksPromoted int      `json:"tasksPromoted"`
	Errors        []string `json:"errors,omitempty"`
}

// GetTask loads one staged task by its local id.
func (m *Manager) GetTask(ctx context.Context, id int64) (*api.StagedTask, error) {
	return m.store.GetStagedTask(ctx, id)
}

// ListPending returns staged tasks awaiting review, oldest first.
func (m *Manager) ListPending(ctx context.Context, limit int) ([]*api.StagedTask, error) {
	return m.store.ListPending(ctx, limit)
}

// NeedsEnrichment reports whether a task is missing any of the fields
// enrichment supplies: description, unit tests, tags, an effort
// estimate, or success criteria.
func (m *Manager) NeedsEnrichment(t *api.StagedTask) bool {
	if t.Description == "" || len(t.Tags) == 0 || t.Enrichment == "" {
		return true
	}

	var p api.EnrichmentPayload
	if err := json.Unmarshal([]byte(t.Enrichment), &p); err != nil {
		return true
	}
	return len(p.UnitTests) == 0 || p.EffortHours <= 0 || p.Description == ""
}

// Enrich runs the strategy for a task and applies the payload in a
// single-statement merge, advancing the task to enriched.
//
// Enrichment failures are non-fatal by contract: the task's sync status
// is left unchanged and the error is returned for the caller to record.
func (m *Manager) Enrich(ctx context.Context, t *api.StagedTask) error {
	payload, err := m.enricher.Enrich(ctx, t)
	if err != nil {
		return fmt.Errorf("enrichment (%s) for task %d: %w", m.enricher.Name(), t.ID, err)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding enrichment payload for task %d: %w", t.ID, err)
	}

	if err := m.ApplyEnrichment(ctx, t.ID, payload.Description, payload.Tags, string(encoded)); err != nil {
		return err
	}

	// Mirror the merge locally so the caller sees what the store now has.
	if t.Description == "" {
		t.Description = payload.Description
	}
	if len(t.Tags) == 0 {
		t.Tags = payload.Tags
	}
	t.Enrichment = string(encoded)
	t.SyncStatus = api.SyncEnriched
	return nil
}

// ApplyEnrichment stores a serialized payload against a task and marks
// it enriched.
func (m *Manager) ApplyEnrichment(ctx context.Context, id int64, description string, tags []string, payload string) error {
	return m.store.ApplyEnrichment(ctx, id, description, tags, payload)
}

// Validate is the promotion gate: a task must carry a title, a project
// reference, an external id and a status.
func (m *Manager) Validate(t *api.StagedTask) error {
	switch {
	case t.Title == "":
		return &api.ValidationError{Field: "title", Reason: "must not be empty"}
	case t.ProjectRef == "":
		return &api.ValidationError{Field: "project_ref", Reason: "must not be empty"}
	case t.ExternalID == "":
		return &api.ValidationError{Field: "external_id", Reason: "must not be empty"}
	case t.Status == "":
		return &api.ValidationError{Field: "status", Reason: "must not be empty"}
	}
	return nil
}

// Promote appends the task's promoted record. A concurrent retry that
// loses the race against the store's uniqueness constraint is treated as
// a benign no-op: the task is promoted, which is what the caller wanted.
func (m *Manager) Promote(ctx context.Context, t *api.StagedTask) error {
	promoted := &api.PromotedTask{
		ExternalID:  t.ExternalID,
		ProjectRef:  t.ProjectRef,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Enrichment:  t.Enrichment,
	}

	err := m.store.InsertPromotedTask(ctx, promoted)
	if errors.Is(err, api.ErrDuplicatePromotion) {
		m.logger.Debug("duplicate promotion ignored",
			zap.String("external_id", t.ExternalID),
			zap.String("project_ref", t.ProjectRef),
		)
		return nil
	}
	return err
}

// MarkPromoted terminally marks the staged row.
func (m *Manager) MarkPromoted(ctx context.Context, id int64) error {
	return m.store.SetSyncStatus(ctx, id, api.SyncPromoted, "")
}

// ReviewBatch takes one pass over pending and enriched tasks: enrich
// what is missing fields, validate, promote what passes. A task failing
// validation or enrichment is logged and left in place for the next
// pass; it never aborts the batch.
func (m *Manager) ReviewBatch(ctx context.Context, limit int) (*ReviewSummary, error) {
	tasks, err := m.store.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending tasks: %w", err)
	}

	summary := &ReviewSummary{}
	for _, t := range tasks {
		summary.TasksReviewed++

		if m.NeedsEnrichment(t) {
			if err := m.Enrich(ctx, t); err != nil {
				m.logger.Warn("enrichment failed, task left for next pass",
					zap.Int64("task_id", t.ID),
					zap.Error(err),
				)
				summary.Errors = append(summary.Errors, err.Error())
				continue
			}
			summary.TasksEnriched++
		}

		if err := m.Validate(t); err != nil {
			m.logger.Warn("task failed validation",
				zap.Int64("task_id", t.ID),
				zap.String("external_id", t.ExternalID),
				zap.Error(err),
			)
			summary.Errors = append(summary.Errors, fmt.Sprintf("task %d: %v", t.ID, err))
			if serr := m.store.SetSyncStatus(ctx, t.ID, t.SyncStatus, err.Error()); serr != nil {
				m.logger.Warn("recording validation error failed", zap.Int64("task_id", t.ID), zap.Error(serr))
			}
			continue
		}

		if err := m.Promote(ctx, t); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("promoting task %d: %v", t.ID, err))
			continue
		}
		if err := m.MarkPromoted(ctx, t.ID); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("marking task %d promoted: %v", t.ID, err))
			continue
		}
		summary.TasksPromoted++
	}

	return summary, nil
}

// HealthCheck verifies the staging store answers queries.
func (m *Manager) HealthCheck(ctx context.Context) error {
	_, err := m.store.ListPending(ctx, 1)
	return err
}
