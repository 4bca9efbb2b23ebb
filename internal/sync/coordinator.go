// Package sync reconciles the staging store with the remote tracker.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskbridge/taskbridge/internal/persistence"
	"github.com/taskbridge/taskbridge/internal/remote"
	"github.com/taskbridge/taskbridge/pkg/api"
)

// Direction selects which phases a sync run performs.
type Direction string

const (
	// DirectionPull only pulls remote state into the staging store.
	DirectionPull Direction = "pull"
	// DirectionPush pulls, then pushes locally modified tasks out.
	DirectionPush Direction = "push"
	// DirectionBidirectional adds conflict detection and resolution.
	DirectionBidirectional Direction = "bidirectional"
)

// Valid reports whether d names a supported direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionPull, DirectionPush, DirectionBidirectional:
		return true
	}
	return false
}

// RemoteAPI is the slice of the remote client the coordinator needs.
type RemoteAPI interface {
	ListProjects(ctx context.Context) ([]remote.Project, error)
	GetProject(ctx context.Context, id string) (*remote.Project, error)
	ListTasks(ctx context.Context, projectID string) ([]remote.Task, error)
	CreateTask(ctx context.Context, t remote.Task) (*remote.Task, error)
	UpdateTask(ctx context.Context, t remote.Task) (*remote.Task, error)
	Ping(ctx context.Context) error
}

// ProjectSyncResult reports one project's pull.
type ProjectSyncResult struct {
	ProjectRef        string   `json:"projectRef"`
	TasksSynced       int      `json:"tasksSynced"`
	TasksCreated      int      `json:"tasksCreated"`
	PromotedConflicts int      `json:"promotedConflicts"`
	Errors            []string `json:"errors,omitempty"`

	// conflicts holds tasks that were locally modified while the remote
	// side also changed, captured against the pre-pull row state.
	conflicts []Conflict
}

// Coordinator runs pull, push and conflict phases against the staging
// store. It is stateless; overlapping runs are safe because every write
// is an idempotent upsert keyed by (external id, project ref).
type Coordinator struct {
	remote   RemoteAPI
	store    persistence.StagingStore
	ledger   persistence.LedgerStore
	resolver ConflictResolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewCoordinator wires a coordinator. A nil resolver defaults to
// last-write-wins.
func NewCoordinator(remoteAPI RemoteAPI, store persistence.StagingStore, ledger persistence.LedgerStore, resolver ConflictResolver, logger *zap.Logger) *Coordinator {
	if resolver == nil {
		resolver = LastWriteWins{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		remote:   remoteAPI,
		store:    store,
		ledger:   ledger,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// SyncAll pulls every remote project, then runs the push and conflict
// phases the direction asks for. Per-entity failures land in the
// summary's error list and never abort the batch. The summary is
// persisted to the ledger before returning, success or not.
func (c *Coordinator) SyncAll(ctx context.Context, direction Direction) (*api.SyncOperationSummary, error) {
	if !direction.Valid() {
		return nil, api.NewConfigurationError("unknown sync direction %q", direction)
	}

	summary := &api.SyncOperationSummary{
		Direction: string(direction),
		StartedAt: c.now(),
	}

	conflictByKey := make(map[string]Conflict)

	projects, err := c.remote.ListProjects(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("listing projects: %v", err))
	}

	for _, p := range projects {
		res, err := c.SyncProject(ctx, p.ID)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("project %s: %v", p.ID, err))
			continue
		}
		summary.ProjectsSynced++
		summary.TasksSynced += res.TasksSynced
		summary.PromotedConflicts += res.PromotedConflicts
		summary.Errors = append(summary.Errors, res.Errors...)

		for _, cf := range res.conflicts {
			conflictByKey[cf.Task.ProjectRef+"/"+cf.Task.ExternalID] = cf
		}
	}

	if direction == DirectionPush || direction == DirectionBidirectional {
		c.pushPhase(ctx, summary, conflictByKey, direction == DirectionBidirectional)
	}

	summary.Duration = c.now().Sub(summary.StartedAt)
	summary.Success = len(summary.Errors) == 0

	if err := c.ledger.SaveSyncSummary(ctx, summary); err != nil {
		// The sync itself worked; a ledger write failure must not undo
		// that verdict, but it has to be visible.
		c.logger.Error("persisting sync summary failed", zap.Error(err))
	}

	c.logger.Info("sync completed",
		zap.String("direction", string(direction)),
		zap.Int("projects", summary.ProjectsSynced),
		zap.Int("tasks", summary.TasksSynced),
		zap.Int("errors", len(summary.Errors)),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// SyncProject pulls one project's detail and tasks into the staging
// store. Each remote task is upserted by its natural key; rows already
// promoted keep their status, and a remote change on such a row is
// counted as a promoted conflict instead of applied.
func (c *Coordinator) SyncProject(ctx context.Context, projectID string) (*ProjectSyncResult, error) {
	detail, err := c.remote.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("fetching project: %w", err)
	}

	if err := c.store.UpsertProject(ctx, &api.Project{
		ExternalID:      detail.ID,
		Name:            detail.Name,
		Description:     detail.Description,
		RemoteUpdatedAt: detail.UpdatedAt,
	}); err != nil {
		return nil, fmt.Errorf("storing project: %w", err)
	}

	tasks, err := c.remote.ListTasks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("fetching tasks: %w", err)
	}

	res := &ProjectSyncResult{ProjectRef: projectID}
	for _, rt := range tasks {
		// Conflicts have to be caught against the row as it was before
		// this pull overwrites its remote timestamp.
		if prev, err := c.store.GetStagedTaskByKey(ctx, rt.ID, projectID); err == nil {
			if prev.Enrichment != "" && prev.SyncStatus != api.SyncPromoted && remoteChangedSincePull(prev, rt) {
				res.conflicts = append(res.conflicts, Conflict{
					Task:            prev,
					LocalUpdatedAt:  prev.UpdatedAt,
					RemoteUpdatedAt: derefTime(rt.UpdatedAt),
				})
			}
		}

		outcome, err := c.store.UpsertStagedTask(ctx, stagedFromRemote(rt))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("task %s: %v", rt.ID, err))
			continue
		}
		res.TasksSynced++
		if outcome.Created {
			res.TasksCreated++
		}
		if outcome.PromotedPreserved {
			res.PromotedConflicts++
		}
	}
	return res, nil
}

// pushPhase sends locally modified (enriched) tasks to the remote
// service. In bidirectional mode, a task that also changed remotely
// since our last pull goes through the conflict resolver first.
func (c *Coordinator) pushPhase(ctx context.Context, summary *api.SyncOperationSummary, conflictByKey map[string]Conflict, bidirectional bool) {
	modified, err := c.store.ListLocallyModified(ctx, 0)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("listing modified tasks: %v", err))
		return
	}

	for _, t := range modified {
		if bidirectional {
			if conflict, ok := conflictByKey[t.ProjectRef+"/"+t.ExternalID]; ok {
				summary.ConflictsFound++
				switch c.resolver.Resolve(conflict) {
				case KeepRemote:
					// The pull already wrote the remote version; dropping
					// the push is the resolution.
					summary.ConflictsResolved++
					continue
				case Unresolved:
					summary.ConflictsUnresolved++
					continue
				case KeepLocal:
					summary.ConflictsResolved++
				}
			}
		}

		if err := c.pushTask(ctx, summary, t); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("pushing task %d: %v", t.ID, err))
			if serr := c.store.SetSyncStatus(ctx, t.ID, api.SyncError, err.Error()); serr != nil {
				c.logger.Warn("marking errored task failed",
					zap.Int64("task_id", t.ID), zap.Error(serr))
			}
		}
	}
}

func (c *Coordinator) pushTask(ctx context.Context, summary *api.SyncOperationSummary, t *api.StagedTask) error {
	rt := remoteFromStaged(t)

	if t.ExternalID == "" {
		created, err := c.remote.CreateTask(ctx, rt)
		if err != nil {
			return err
		}
		summary.TasksCreated++
		if err := c.store.AssignExternalID(ctx, t.ID, created.ID); err != nil {
			return err
		}
		return c.recordPushedTimestamp(ctx, t.ID, created.UpdatedAt)
	}

	updated, err := c.remote.UpdateTask(ctx, rt)
	if err != nil {
		return err
	}
	summary.TasksUpdated++
	return c.recordPushedTimestamp(ctx, t.ID, updated.UpdatedAt)
}

// recordPushedTimestamp stores the remote's post-push modification time
// on the row. Without it the next pull would read the daemon's own push
// as a remote change and report a phantom conflict.
func (c *Coordinator) recordPushedTimestamp(ctx context.Context, id int64, at *time.Time) error {
	if at == nil {
		return nil
	}
	return c.store.SetRemoteUpdatedAt(ctx, id, *at)
}

// HealthCheck verifies the remote service is reachable.
func (c *Coordinator) HealthCheck(ctx context.Context) error {
	return c.remote.Ping(ctx)
}

func stagedFromRemote(rt remote.Task) *api.StagedTask {
	return &api.StagedTask{
		ExternalID:      rt.ID,
		ProjectRef:      rt.ProjectID,
		Title:           rt.Title,
		Description:     rt.Description,
		Status:          rt.Status,
		Priority:        rt.Priority,
		Assignees:       rt.Assignees,
		Tags:            rt.Tags,
		DueDate:         rt.DueDate,
		RemoteUpdatedAt: rt.UpdatedAt,
	}
}

func remoteFromStaged(t *api.StagedTask) remote.Task {
	rt := remote.Task{
		ID:          t.ExternalID,
		ProjectID:   t.ProjectRef,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Assignees:   t.Assignees,
		Tags:        t.Tags,
		DueDate:     t.DueDate,
	}

	// Prefer the enriched description when the staged row still has none.
	if rt.Description == "" && t.Enrichment != "" {
		var p api.EnrichmentPayload
		if err := json.Unmarshal([]byte(t.Enrichment), &p); err == nil {
			rt.Description = p.Description
		}
	}
	return rt
}

// remoteChangedSincePull reports whether the remote task moved past the
// modification time we recorded on the last pull of this row.
func remoteChangedSincePull(t *api.StagedTask, rt remote.Task) bool {
	if rt.UpdatedAt == nil || t.RemoteUpdatedAt == nil {
		return false
	}
	return rt.UpdatedAt.After(*t.RemoteUpdatedAt)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
