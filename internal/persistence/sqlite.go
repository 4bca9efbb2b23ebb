package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// SQLiteStore implements StagingStore and LedgerStore on a single SQLite
// database. Timestamps are stored as unix nanoseconds so ordering
// comparisons happen in the store.
type SQLiteStore struct {
	db  *sql.DB
	now Clock
}

var (
	_ StagingStore = (*SQLiteStore)(nil)
	_ LedgerStore  = (*SQLiteStore)(nil)
)

// OpenDatabase opens (creating if necessary) the SQLite database at
// path with WAL mode and foreign keys enabled. The connection pool is
// capped at one connection: SQLite allows a single writer and the
// store's guarantees rest on serialized statements.
func OpenDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStore initializes the schema and returns a store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the store's time source. Test hook.
func (s *SQLiteStore) WithClock(now Clock) *SQLiteStore {
	s.now = now
	return s
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS staged_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL,
			project_ref TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			assignees TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '[]',
			due_date INTEGER,
			enrichment TEXT NOT NULL DEFAULT '',
			sync_status TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT NOT NULL DEFAULT '',
			remote_updated_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (external_id, project_ref)
		);

		CREATE TABLE IF NOT EXISTS promoted_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL,
			project_ref TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			enrichment TEXT NOT NULL DEFAULT '',
			promoted_at INTEGER NOT NULL,
			UNIQUE (external_id, project_ref)
		);

		CREATE TABLE IF NOT EXISTS projects (
			external_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			remote_updated_at INTEGER,
			synced_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS flow_status (
			flow_id TEXT PRIMARY KEY,
			flow_name TEXT NOT NULL,
			current_step TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sync_summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			direction TEXT NOT NULL,
			projects_synced INTEGER NOT NULL,
			tasks_synced INTEGER NOT NULL,
			tasks_created INTEGER NOT NULL,
			tasks_updated INTEGER NOT NULL,
			conflicts_found INTEGER NOT NULL,
			conflicts_resolved INTEGER NOT NULL,
			conflicts_unresolved INTEGER NOT NULL,
			promoted_conflicts INTEGER NOT NULL,
			errors TEXT NOT NULL DEFAULT '[]',
			duration_ns INTEGER NOT NULL,
			success INTEGER NOT NULL,
			started_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) UpsertStagedTask(ctx context.Context, t *api.StagedTask) (UpsertOutcome, error) {
	assignees, err := encodeStrings(t.Assignees)
	if err != nil {
		return UpsertOutcome{}, err
	}
	tags, err := encodeStrings(t.Tags)
	if err != nil {
		return UpsertOutcome{}, err
	}

	now := s.now().UnixNano()

	// Single-statement upsert: a refresh resets the row to pending unless
	// it is already promoted, so a routine pull can never regress a
	// promoted task. RETURNING lets us observe what happened without a
	// second read.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO staged_tasks
			(external_id, project_ref, title, description, status, priority,
			 assignees, tags, due_date, sync_status, remote_updated_at,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?)
		ON CONFLICT(external_id, project_ref) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			assignees = excluded.assignees,
			tags = excluded.tags,
			due_date = excluded.due_date,
			remote_updated_at = excluded.remote_updated_at,
			sync_status = CASE
				WHEN staged_tasks.sync_status = 'promoted' THEN 'promoted'
				ELSE 'pending'
			END,
			updated_at = excluded.updated_at
		RETURNING id, sync_status, created_at`,
		t.ExternalID, t.ProjectRef, t.Title, t.Description, t.Status, t.Priority,
		assignees, tags, nullTime(t.DueDate), nullTime(t.RemoteUpdatedAt),
		now, now,
	)

	var (
		id        int64
		status    string
		createdAt int64
	)
	if err := row.Scan(&id, &status, &createdAt); err != nil {
		return UpsertOutcome{}, err
	}

	t.ID = id
	t.SyncStatus = api.SyncStatus(status)
	t.CreatedAt = time.Unix(0, createdAt)
	t.UpdatedAt = time.Unix(0, now)

	return UpsertOutcome{
		Created:           createdAt == now,
		PromotedPreserved: status == string(api.SyncPromoted),
	}, nil
}

const stagedTaskColumns = `id, external_id, project_ref, title, description, status,
	priority, assignees, tags, due_date, enrichment, sync_status, last_error,
	remote_updated_at, created_at, updated_at`

func (s *SQLiteStore) GetStagedTask(ctx context.Context, id int64) (*api.StagedTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stagedTaskColumns+` FROM staged_tasks WHERE id = ?`, id)
	return scanStagedTask(row)
}

func (s *SQLiteStore) GetStagedTaskByKey(ctx context.Context, externalID, projectRef string) (*api.StagedTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stagedTaskColumns+` FROM staged_tasks WHERE external_id = ? AND project_ref = ?`,
		externalID, projectRef)
	return scanStagedTask(row)
}

func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]*api.StagedTask, error) {
	return s.listTasks(ctx,
		`SELECT `+stagedTaskColumns+` FROM staged_tasks
		 WHERE sync_status IN ('pending', 'enriched')
		 ORDER BY created_at, id`, limit)
}

func (s *SQLiteStore) ListBySyncStatus(ctx context.Context, status api.SyncStatus, limit int) ([]*api.StagedTask, error) {
	return s.listTasks(ctx,
		`SELECT `+stagedTaskColumns+` FROM staged_tasks
		 WHERE sync_status = ?
		 ORDER BY created_at, id`, limit, string(status))
}

func (s *SQLiteStore) ListLocallyModified(ctx context.Context, limit int) ([]*api.StagedTask, error) {
	return s.listTasks(ctx,
		`SELECT `+stagedTaskColumns+` FROM staged_tasks
		 WHERE enrichment != '' AND sync_status IN ('pending', 'enriched')
		 ORDER BY created_at, id`, limit)
}

func (s *SQLiteStore) listTasks(ctx context.Context, query string, limit int, args ...any) ([]*api.StagedTask, error) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*api.StagedTask
	for rows.Next() {
		t, err := scanStagedTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) ApplyEnrichment(ctx context.Context, id int64, description string, tags []string, payload string) error {
	encTags, err := encodeStrings(tags)
	if err != nil {
		return err
	}

	// One-statement merge: fill only what is missing, attach the payload
	// and advance to enriched. Promoted and errored rows are not touched.
	res, err := s.db.ExecContext(ctx, `
		UPDATE staged_tasks SET
			description = CASE WHEN description = '' THEN ? ELSE description END,
			tags = CASE WHEN tags = '[]' THEN ? ELSE tags END,
			enrichment = ?,
			last_error = '',
			sync_status = 'enriched',
			updated_at = ?
		WHERE id = ? AND sync_status IN ('pending', 'enriched')`,
		description, encTags, payload, s.now().UnixNano(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) SetSyncStatus(ctx context.Context, id int64, status api.SyncStatus, lastError string) error {
	// The guard keeps a promoted row from ever being moved backwards,
	// even by a buggy caller racing a concurrent promotion.
	res, err := s.db.ExecContext(ctx, `
		UPDATE staged_tasks SET sync_status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND (sync_status != 'promoted' OR ? = 'promoted')`,
		string(status), lastError, s.now().UnixNano(), id, string(status),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) AssignExternalID(ctx context.Context, id int64, externalID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE staged_tasks SET external_id = ?, updated_at = ? WHERE id = ?`,
		externalID, s.now().UnixNano(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) SetRemoteUpdatedAt(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE staged_tasks SET remote_updated_at = ?, updated_at = ? WHERE id = ?`,
		at.UnixNano(), s.now().UnixNano(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) InsertPromotedTask(ctx context.Context, p *api.PromotedTask) error {
	if p.PromotedAt.IsZero() {
		p.PromotedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO promoted_tasks
			(external_id, project_ref, title, description, status, priority, enrichment, promoted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ExternalID, p.ProjectRef, p.Title, p.Description, p.Status, p.Priority,
		p.Enrichment, p.PromotedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return api.ErrDuplicatePromotion
		}
		return err
	}

	if id, err := res.LastInsertId(); err == nil {
		p.ID = id
	}
	return nil
}

func (s *SQLiteStore) GetPromotedTask(ctx context.Context, externalID, projectRef string) (*api.PromotedTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, project_ref, title, description, status, priority, enrichment, promoted_at
		FROM promoted_tasks WHERE external_id = ? AND project_ref = ?`,
		externalID, projectRef)

	var (
		p          api.PromotedTask
		promotedAt int64
	)
	err := row.Scan(&p.ID, &p.ExternalID, &p.ProjectRef, &p.Title, &p.Description,
		&p.Status, &p.Priority, &p.Enrichment, &promotedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	p.PromotedAt = time.Unix(0, promotedAt)
	return &p, nil
}

func (s *SQLiteStore) CountPromoted(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM promoted_tasks`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) UpsertProject(ctx context.Context, p *api.Project) error {
	if p.SyncedAt.IsZero() {
		p.SyncedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (external_id, name, description, remote_updated_at, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			remote_updated_at = excluded.remote_updated_at,
			synced_at = excluded.synced_at`,
		p.ExternalID, p.Name, p.Description, nullTime(p.RemoteUpdatedAt), p.SyncedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*api.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, name, description, remote_updated_at, synced_at
		FROM projects ORDER BY external_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*api.Project
	for rows.Next() {
		var (
			p        api.Project
			remote   sql.NullInt64
			syncedAt int64
		)
		if err := rows.Scan(&p.ExternalID, &p.Name, &p.Description, &remote, &syncedAt); err != nil {
			return nil, err
		}
		p.RemoteUpdatedAt = timePtr(remote)
		p.SyncedAt = time.Unix(0, syncedAt)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) SaveFlowStatus(ctx context.Context, rec *api.FlowStatusRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}

	// MAX keeps updated_at monotonic even if two writers race with
	// out-of-order wall clocks.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_status (flow_id, flow_name, current_step, state, error, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(flow_id) DO UPDATE SET
			flow_name = excluded.flow_name,
			current_step = excluded.current_step,
			state = excluded.state,
			error = excluded.error,
			metadata = excluded.metadata,
			updated_at = MAX(flow_status.updated_at, excluded.updated_at)`,
		rec.FlowID, rec.FlowName, rec.CurrentStep, string(rec.State), rec.Error,
		string(metadata), rec.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) GetFlowStatus(ctx context.Context, flowID string) (*api.FlowStatusRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT flow_id, flow_name, current_step, state, error, metadata, updated_at
		FROM flow_status WHERE flow_id = ?`, flowID)

	var (
		rec       api.FlowStatusRecord
		state     string
		metadata  string
		updatedAt int64
	)
	err := row.Scan(&rec.FlowID, &rec.FlowName, &rec.CurrentStep, &state, &rec.Error, &metadata, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFlowStatusNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.State = api.Status(state)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) SaveSyncSummary(ctx context.Context, sum *api.SyncOperationSummary) error {
	errs, err := encodeStrings(sum.Errors)
	if err != nil {
		return err
	}

	if sum.StartedAt.IsZero() {
		sum.StartedAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_summaries
			(direction, projects_synced, tasks_synced, tasks_created, tasks_updated,
			 conflicts_found, conflicts_resolved, conflicts_unresolved, promoted_conflicts,
			 errors, duration_ns, success, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.Direction, sum.ProjectsSynced, sum.TasksSynced, sum.TasksCreated, sum.TasksUpdated,
		sum.ConflictsFound, sum.ConflictsResolved, sum.ConflictsUnresolved, sum.PromotedConflicts,
		errs, sum.Duration.Nanoseconds(), boolToInt(sum.Success), sum.StartedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) ListSyncSummaries(ctx context.Context, limit int) ([]*api.SyncOperationSummary, error) {
	query := `
		SELECT direction, projects_synced, tasks_synced, tasks_created, tasks_updated,
		       conflicts_found, conflicts_resolved, conflicts_unresolved, promoted_conflicts,
		       errors, duration_ns, success, started_at
		FROM sync_summaries ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*api.SyncOperationSummary
	for rows.Next() {
		var (
			sum        api.SyncOperationSummary
			errsJSON   string
			durationNs int64
			success    int
			startedAt  int64
		)
		if err := rows.Scan(&sum.Direction, &sum.ProjectsSynced, &sum.TasksSynced,
			&sum.TasksCreated, &sum.TasksUpdated, &sum.ConflictsFound, &sum.ConflictsResolved,
			&sum.ConflictsUnresolved, &sum.PromotedConflicts, &errsJSON, &durationNs,
			&success, &startedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(errsJSON), &sum.Errors); err != nil {
			return nil, err
		}
		sum.Duration = time.Duration(durationNs)
		sum.Success = success != 0
		sum.StartedAt = time.Unix(0, startedAt)
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanStagedTask(row scanner) (*api.StagedTask, error) {
	var (
		t          api.StagedTask
		assignees  string
		tags       string
		dueDate    sql.NullInt64
		syncStatus string
		remote     sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)

	err := row.Scan(&t.ID, &t.ExternalID, &t.ProjectRef, &t.Title, &t.Description,
		&t.Status, &t.Priority, &assignees, &tags, &dueDate, &t.Enrichment,
		&syncStatus, &t.LastError, &remote, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(assignees), &t.Assignees); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, err
	}

	t.SyncStatus = api.SyncStatus(syncStatus)
	t.DueDate = timePtr(dueDate)
	t.RemoteUpdatedAt = timePtr(remote)
	t.CreatedAt = time.Unix(0, createdAt)
	t.UpdatedAt = time.Unix(0, updatedAt)
	return &t, nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
