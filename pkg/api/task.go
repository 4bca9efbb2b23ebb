package api

import "time"

// StagedTask is a work item pulled from the remote tracker and held in
// the staging store while it is enriched, validated and promoted.
// It is uniquely identified by (ExternalID, ProjectRef).
type StagedTask struct {
	ID          int64      `json:"id"`
	ExternalID  string     `json:"externalId"`
	ProjectRef  string     `json:"projectRef"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	Assignees   []string   `json:"assignees,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	SyncStatus  SyncStatus `json:"syncStatus"`
	// Enrichment is the serialized EnrichmentPayload, empty until the
	// task has been enriched.
	Enrichment string `json:"enrichment,omitempty"`
	// LastError holds the most recent validation, enrichment or push
	// failure.
	LastError string `json:"lastError,omitempty"`
	// RemoteUpdatedAt is the modification time reported by the remote
	// service on the last pull, used for conflict detection.
	RemoteUpdatedAt *time.Time `json:"remoteUpdatedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// PromotedTask is the finalized, append-only record produced when a
// staged task passes the promotion gate. The (ExternalID, ProjectRef)
// pair is enforced unique by the store, which is what makes concurrent
// double-promotion a detectable no-op.
type PromotedTask struct {
	ID          int64     `json:"id"`
	ExternalID  string    `json:"externalId"`
	ProjectRef  string    `json:"projectRef"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    int       `json:"priority"`
	Enrichment  string    `json:"enrichment,omitempty"`
	PromotedAt  time.Time `json:"promotedAt"`
}

// Project is a locally cached remote project record.
type Project struct {
	ExternalID      string     `json:"externalId"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	RemoteUpdatedAt *time.Time `json:"remoteUpdatedAt,omitempty"`
	SyncedAt        time.Time  `json:"syncedAt"`
}

// EnrichmentPayload is the output schema every enrichment strategy must
// produce, so the staging lifecycle stays strategy-agnostic.
type EnrichmentPayload struct {
	Description string   `json:"description"`
	UnitTests   []string `json:"unit_tests"`
	// Priority is 1 (highest) through 5 (lowest).
	Priority     int      `json:"priority"`
	EffortHours  float64  `json:"effort_hours"`
	Dependencies []string `json:"dependencies,omitempty"`
	Assignees    []string `json:"assignee_suggestions,omitempty"`
	Tags         []string `json:"tags"`
	// Confidence is a completeness heuristic in [0,1], not a probability.
	Confidence float64 `json:"confidence_score"`
}
