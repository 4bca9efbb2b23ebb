// Package persistence implements the staging store and the execution
// ledger over SQLite.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/taskbridge/taskbridge/pkg/api"
)

var (
	// ErrTaskNotFound is returned when a staged task is not found.
	ErrTaskNotFound = errors.New("staged task not found")

	// ErrFlowStatusNotFound is returned when no status record exists for
	// a flow id.
	ErrFlowStatusNotFound = errors.New("flow status not found")
)

// UpsertOutcome describes what a staged-task upsert did, so the sync
// coordinator can count creations and promoted-row conflicts without a
// separate read.
type UpsertOutcome struct {
	Created bool
	// PromotedPreserved is true when the row was already promoted and the
	// upsert therefore left its sync status untouched.
	PromotedPreserved bool
}

// StagingStore handles staged and promoted task rows. All writes are
// single-statement and idempotent; exclusion comes from the store's
// atomic row operations, never from in-process locks.
type StagingStore interface {
	// UpsertStagedTask inserts or refreshes a staged task keyed by
	// (external id, project ref). A refresh resets sync_status to
	// pending unless the row is already promoted.
	UpsertStagedTask(ctx context.Context, t *api.StagedTask) (UpsertOutcome, error)

	GetStagedTask(ctx context.Context, id int64) (*api.StagedTask, error)
	GetStagedTaskByKey(ctx context.Context, externalID, projectRef string) (*api.StagedTask, error)

	// ListPending returns tasks with sync_status pending or enriched,
	// FIFO by creation time. limit <= 0 means no limit.
	ListPending(ctx context.Context, limit int) ([]*api.StagedTask, error)

	// ListBySyncStatus returns tasks in the given state, FIFO by
	// creation time.
	ListBySyncStatus(ctx context.Context, status api.SyncStatus, limit int) ([]*api.StagedTask, error)

	// ListLocallyModified returns tasks carrying local changes (an
	// enrichment payload) that have not been promoted yet. A routine
	// pull resets such rows to pending without clearing the payload, so
	// this is the push phase's working set.
	ListLocallyModified(ctx context.Context, limit int) ([]*api.StagedTask, error)

	// ApplyEnrichment merges the serialized enrichment payload into the
	// row and moves it to sync_status enriched, in one statement.
	ApplyEnrichment(ctx context.Context, id int64, description string, tags []string, payload string) error

	// SetSyncStatus updates a row's sync status and last error.
	SetSyncStatus(ctx context.Context, id int64, status api.SyncStatus, lastError string) error

	// AssignExternalID records the remote id handed out when a locally
	// staged task is first pushed to the remote service.
	AssignExternalID(ctx context.Context, id int64, externalID string) error

	// SetRemoteUpdatedAt records the remote modification time observed
	// after a push, so the next pull does not mistake the daemon's own
	// write for a remote change.
	SetRemoteUpdatedAt(ctx context.Context, id int64, at time.Time) error

	// InsertPromotedTask appends a promoted record. If a record with the
	// same (external id, project ref) already exists, it returns
	// api.ErrDuplicatePromotion and writes nothing.
	InsertPromotedTask(ctx context.Context, p *api.PromotedTask) error

	GetPromotedTask(ctx context.Context, externalID, projectRef string) (*api.PromotedTask, error)
	CountPromoted(ctx context.Context) (int, error)

	UpsertProject(ctx context.Context, p *api.Project) error
	ListProjects(ctx context.Context) ([]*api.Project, error)
}

// LedgerStore persists flow status and sync summary records for
// observability.
type LedgerStore interface {
	// SaveFlowStatus inserts or updates the status record for a flow id.
	// The stored updated_at never decreases, even under concurrent
	// writers.
	SaveFlowStatus(ctx context.Context, rec *api.FlowStatusRecord) error

	GetFlowStatus(ctx context.Context, flowID string) (*api.FlowStatusRecord, error)

	SaveSyncSummary(ctx context.Context, s *api.SyncOperationSummary) error

	// ListSyncSummaries returns the most recent summaries, newest first.
	ListSyncSummaries(ctx context.Context, limit int) ([]*api.SyncOperationSummary, error)
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time
