package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/orbweave/coordinator/internal/model"
)

// SQLiteStore implements Store on top of database/sql + go-sqlite3.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open creates (or opens) the coordinator's single store file under
// dataDir, per §6's "single store file under a configurable data
// directory."
func Open(dataDir, fileName string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, fileName)

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; this also keeps run_number and
	// sequence assignment trivially serializable without extra locking.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(schemaDDL)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalJSONMap(s string, out interface{}) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func ptrString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func ptrTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// ---- Blueprints ----

func (s *SQLiteStore) CreateBlueprint(ctx context.Context, bp *model.Blueprint) error {
	now := time.Now().UTC()
	bp.CreatedAt = now
	bp.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blueprints (name, type, description, parameters_schema, output_schema, system_prompt, mcp_servers, hooks, demands, executor_profile, owner_runner_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, bp.Name, bp.Type, bp.Description, marshalJSON(bp.ParametersSchema), marshalJSON(bp.OutputSchema), bp.SystemPrompt, marshalJSON(bp.MCPServers), marshalJSON(bp.Hooks), marshalJSON(bp.Demands), bp.ExecutorProfile, bp.OwnerRunnerID, bp.CreatedAt, bp.UpdatedAt)
	return err
}

func (s *SQLiteStore) UpdateBlueprint(ctx context.Context, bp *model.Blueprint) error {
	bp.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE blueprints SET type=?, description=?, parameters_schema=?, output_schema=?, system_prompt=?, mcp_servers=?, hooks=?, demands=?, executor_profile=?, updated_at=?
		WHERE name=?
	`, bp.Type, bp.Description, marshalJSON(bp.ParametersSchema), marshalJSON(bp.OutputSchema), bp.SystemPrompt, marshalJSON(bp.MCPServers), marshalJSON(bp.Hooks), marshalJSON(bp.Demands), bp.ExecutorProfile, bp.UpdatedAt, bp.Name)
	if err != nil {
		return err
	}
	return expectOneRow(result, "blueprint", bp.Name)
}

func (s *SQLiteStore) scanBlueprint(row interface {
	Scan(dest ...interface{}) error
}) (*model.Blueprint, error) {
	bp := &model.Blueprint{}
	var paramsSchema, outputSchema, hooks, demands, mcpServers sql.NullString
	err := row.Scan(&bp.Name, &bp.Type, &bp.Description, &paramsSchema, &outputSchema, &bp.SystemPrompt, &mcpServers, &hooks, &demands, &bp.ExecutorProfile, &bp.OwnerRunnerID, &bp.CreatedAt, &bp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if paramsSchema.Valid && paramsSchema.String != "" {
		unmarshalJSONMap(paramsSchema.String, &bp.ParametersSchema)
	}
	if outputSchema.Valid && outputSchema.String != "" {
		unmarshalJSONMap(outputSchema.String, &bp.OutputSchema)
	}
	if hooks.Valid && hooks.String != "" {
		unmarshalJSONMap(hooks.String, &bp.Hooks)
	}
	if demands.Valid && demands.String != "" {
		unmarshalJSONMap(demands.String, &bp.Demands)
	}
	unmarshalJSONMap(mcpServers.String, &bp.MCPServers)
	return bp, nil
}

func (s *SQLiteStore) GetBlueprint(ctx context.Context, name string) (*model.Blueprint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, type, description, parameters_schema, output_schema, system_prompt, mcp_servers, hooks, demands, executor_profile, owner_runner_id, created_at, updated_at
		FROM blueprints WHERE name = ?
	`, name)
	bp, err := s.scanBlueprint(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return bp, err
}

func (s *SQLiteStore) DeleteBlueprint(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM blueprints WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return expectOneRow(result, "blueprint", name)
}

func (s *SQLiteStore) ListBlueprints(ctx context.Context) ([]*model.Blueprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, description, parameters_schema, output_schema, system_prompt, mcp_servers, hooks, demands, executor_profile, owner_runner_id, created_at, updated_at
		FROM blueprints ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Blueprint
	for rows.Next() {
		bp, err := s.scanBlueprint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteBlueprintsByOwner(ctx context.Context, ownerRunnerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blueprints WHERE owner_runner_id = ?`, ownerRunnerID)
	return err
}

// ---- Runners ----

func (s *SQLiteStore) UpsertRunner(ctx context.Context, r *model.Runner) error {
	if r.RegisteredAt.IsZero() {
		r.RegisteredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runners (id, hostname, project_dir, tags, executor_profile, require_matching_tags, declared_agents, metadata, last_heartbeat, lifecycle, registered_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			hostname=excluded.hostname,
			project_dir=excluded.project_dir,
			tags=excluded.tags,
			executor_profile=excluded.executor_profile,
			require_matching_tags=excluded.require_matching_tags,
			declared_agents=excluded.declared_agents,
			metadata=excluded.metadata,
			last_heartbeat=excluded.last_heartbeat,
			lifecycle=excluded.lifecycle
	`, r.ID, r.Hostname, r.ProjectDir, marshalJSON(r.Tags), r.ExecutorProfile, r.RequireMatchingTags, marshalJSON(r.DeclaredAgents), marshalJSON(r.Metadata), r.LastHeartbeat, r.Lifecycle, r.RegisteredAt)
	return err
}

func (s *SQLiteStore) scanRunner(row interface {
	Scan(dest ...interface{}) error
}) (*model.Runner, error) {
	r := &model.Runner{}
	var tags, declared, metadata sql.NullString
	err := row.Scan(&r.ID, &r.Hostname, &r.ProjectDir, &tags, &r.ExecutorProfile, &r.RequireMatchingTags, &declared, &metadata, &r.LastHeartbeat, &r.Lifecycle, &r.RegisteredAt)
	if err != nil {
		return nil, err
	}
	unmarshalJSONMap(tags.String, &r.Tags)
	unmarshalJSONMap(declared.String, &r.DeclaredAgents)
	unmarshalJSONMap(metadata.String, &r.Metadata)
	return r, nil
}

const runnerColumns = `id, hostname, project_dir, tags, executor_profile, require_matching_tags, declared_agents, metadata, last_heartbeat, lifecycle, registered_at`

func (s *SQLiteStore) GetRunner(ctx context.Context, id string) (*model.Runner, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runnerColumns+` FROM runners WHERE id = ?`, id)
	r, err := s.scanRunner(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) ListRunners(ctx context.Context) ([]*model.Runner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runnerColumns+` FROM runners ORDER BY registered_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Runner
	for rows.Next() {
		r, err := s.scanRunner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListRunnersByLifecycle(ctx context.Context, lifecycle model.RunnerLifecycle) ([]*model.Runner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runnerColumns+` FROM runners WHERE lifecycle = ? ORDER BY registered_at`, lifecycle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Runner
	for rows.Next() {
		r, err := s.scanRunner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateRunnerHeartbeat(ctx context.Context, id string, ts time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE runners SET last_heartbeat = ?, lifecycle = ? WHERE id = ?`, ts, model.RunnerActive, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, "runner", id)
}

func (s *SQLiteStore) UpdateRunnerLifecycle(ctx context.Context, id string, lifecycle model.RunnerLifecycle) error {
	result, err := s.db.ExecContext(ctx, `UPDATE runners SET lifecycle = ? WHERE id = ?`, lifecycle, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, "runner", id)
}

func (s *SQLiteStore) DeleteRunner(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runners WHERE id = ?`, id)
	return err
}

// FindRunnerOwningAgent returns the active runner that has already
// declared agentName, if any — used for the registration-time collision
// check in §4.3.
func (s *SQLiteStore) FindRunnerOwningAgent(ctx context.Context, agentName string) (*model.Runner, error) {
	runners, err := s.ListRunnersByLifecycle(ctx, model.RunnerActive)
	if err != nil {
		return nil, err
	}
	stale, err := s.ListRunnersByLifecycle(ctx, model.RunnerStale)
	if err != nil {
		return nil, err
	}
	runners = append(runners, stale...)
	for _, r := range runners {
		for _, a := range r.DeclaredAgents {
			if a == agentName {
				return r, nil
			}
		}
	}
	return nil, nil
}

// ---- Sessions ----

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, display_name, agent_name, status, parent_session_id, execution_mode, project_dir, hostname, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, sess.ID, sess.DisplayName, sess.AgentName, sess.Status, sess.ParentSessionID, sess.ExecutionMode, sess.ProjectDir, sess.Hostname, sess.CreatedAt)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess := &model.Session{}
	var parent, projectDir, hostname sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, agent_name, status, parent_session_id, execution_mode, project_dir, hostname, created_at
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.DisplayName, &sess.AgentName, &sess.Status, &parent, &sess.ExecutionMode, &projectDir, &hostname, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.ParentSessionID = ptrString(parent)
	sess.ProjectDir = ptrString(projectDir)
	sess.Hostname = ptrString(hostname)
	return sess, nil
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, "session", id)
}

// ---- Runs ----

// CreateRunWithNumber assigns run.RunNumber as max(existing)+1 for the
// session and inserts the row, all within one transaction — the store-side
// half of the per-session lock guaranteeing run_number monotonicity (§4.7).
// The caller (internal/session) still holds an in-process per-session lock
// so that no two goroutines enter this transaction concurrently for the
// same session; the UNIQUE(session_id, run_number) constraint is the
// store's own backstop against a race slipping through.
func (s *SQLiteStore) CreateRunWithNumber(ctx context.Context, r *model.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxNum sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(run_number) FROM runs WHERE session_id = ?`, r.SessionID).Scan(&maxNum); err != nil {
		return err
	}
	r.RunNumber = int(maxNum.Int64) + 1
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, session_id, run_number, type, agent_name, parameters, scope, status, runner_id, created_at, started_at, completed_at, error, resolved_blueprint)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, r.ID, r.SessionID, r.RunNumber, r.Type, r.AgentName, marshalJSON(r.Parameters), marshalJSON(r.Scope), r.Status, r.RunnerID, r.CreatedAt, nullTime(r.StartedAt), nullTime(r.CompletedAt), nullString(r.Error), marshalJSON(r.ResolvedBlueprint))
	if err != nil {
		return err
	}
	return tx.Commit()
}

const runColumns = `id, session_id, run_number, type, agent_name, parameters, scope, status, runner_id, created_at, started_at, completed_at, error, resolved_blueprint`

func (s *SQLiteStore) scanRun(row interface {
	Scan(dest ...interface{}) error
}) (*model.Run, error) {
	r := &model.Run{}
	var params, scope, resolved sql.NullString
	var runnerID, errStr sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.SessionID, &r.RunNumber, &r.Type, &r.AgentName, &params, &scope, &r.Status, &runnerID, &r.CreatedAt, &startedAt, &completedAt, &errStr, &resolved)
	if err != nil {
		return nil, err
	}
	unmarshalJSONMap(params.String, &r.Parameters)
	if scope.Valid && scope.String != "" {
		unmarshalJSONMap(scope.String, &r.Scope)
	}
	if resolved.Valid && resolved.String != "" {
		unmarshalJSONMap(resolved.String, &r.ResolvedBlueprint)
	}
	r.RunnerID = ptrString(runnerID)
	r.Error = ptrString(errStr)
	r.StartedAt = ptrTime(startedAt)
	r.CompletedAt = ptrTime(completedAt)
	return r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := s.scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, r *model.Run) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status=?, runner_id=?, started_at=?, completed_at=?, error=?, resolved_blueprint=?, parameters=?, scope=?
		WHERE id=?
	`, r.Status, r.RunnerID, nullTime(r.StartedAt), nullTime(r.CompletedAt), nullString(r.Error), marshalJSON(r.ResolvedBlueprint), marshalJSON(r.Parameters), marshalJSON(r.Scope), r.ID)
	if err != nil {
		return err
	}
	return expectOneRow(result, "run", r.ID)
}

func (s *SQLiteStore) ListRunsBySession(ctx context.Context, sessionID string) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE session_id = ? ORDER BY run_number`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestRunBySession(ctx context.Context, sessionID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE session_id = ? ORDER BY run_number DESC LIMIT 1`, sessionID)
	r, err := s.scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) ListPendingRuns(ctx context.Context) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY created_at`, model.RunPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListActiveRunsByRunner(ctx context.Context, runnerID string) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE runner_id = ? AND status IN (?,?,?)
	`, runnerID, model.RunClaimed, model.RunRunning, model.RunStopping)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClaimRun atomically transitions a pending run to claimed for runnerID.
// Returns false (no error) if another runner already claimed it first.
func (s *SQLiteStore) ClaimRun(ctx context.Context, runID, runnerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, runner_id = ? WHERE id = ? AND status = ?
	`, model.RunClaimed, runnerID, runID, model.RunPending)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ---- Events ----

// AppendEvent assigns the next monotonic sequence for sessionID and
// persists the event within one transaction, so persistence is always
// visible before any broadcast the caller performs afterward (§4.2
// durability-first contract).
func (s *SQLiteStore) AppendEvent(ctx context.Context, sessionID string, ev *model.Event) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx, `SELECT next_sequence FROM session_sequences WHERE session_id = ?`, sessionID).Scan(&next)
	if err == sql.ErrNoRows {
		next = 1
		if _, err := tx.ExecContext(ctx, `INSERT INTO session_sequences (session_id, next_sequence) VALUES (?, ?)`, sessionID, next+1); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE session_sequences SET next_sequence = ? WHERE session_id = ?`, next+1, sessionID); err != nil {
			return 0, err
		}
	}

	ev.Sequence = next
	ev.SessionID = sessionID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, session_id, sequence, event_type, timestamp, run_id, payload)
		VALUES (?,?,?,?,?,?,?)
	`, ev.ID, ev.SessionID, ev.Sequence, ev.EventType, ev.Timestamp, ev.RunID, marshalJSON(ev.Payload))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *SQLiteStore) scanEvent(row interface {
	Scan(dest ...interface{}) error
}) (*model.Event, error) {
	ev := &model.Event{}
	var runID sql.NullString
	var payload sql.NullString
	err := row.Scan(&ev.ID, &ev.SessionID, &ev.Sequence, &ev.EventType, &ev.Timestamp, &runID, &payload)
	if err != nil {
		return nil, err
	}
	ev.RunID = ptrString(runID)
	unmarshalJSONMap(payload.String, &ev.Payload)
	return ev, nil
}

const eventColumns = `id, session_id, sequence, event_type, timestamp, run_id, payload`

func (s *SQLiteStore) ListEventsSince(ctx context.Context, sessionID string, since int64) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events WHERE session_id = ? AND sequence > ? ORDER BY sequence
	`, sessionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Event
	for rows.Next() {
		ev, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestEventOfType(ctx context.Context, sessionID string, runID string, eventType model.EventType) (*model.Event, error) {
	var row *sql.Row
	if runID != "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT `+eventColumns+` FROM events WHERE session_id = ? AND run_id = ? AND event_type = ? ORDER BY sequence DESC LIMIT 1
		`, sessionID, runID, eventType)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT `+eventColumns+` FROM events WHERE session_id = ? AND event_type = ? ORDER BY sequence DESC LIMIT 1
		`, sessionID, eventType)
	}
	ev, err := s.scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return ev, err
}

// ---- Callbacks ----

func (s *SQLiteStore) CreateCallback(ctx context.Context, cb *model.Callback) error {
	if cb.CreatedAt.IsZero() {
		cb.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO callbacks (id, parent_session_id, child_session_id, child_run_id, child_result, status, created_at, delivered_at, resume_run_id)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, cb.ID, cb.ParentSessionID, cb.ChildSessionID, cb.ChildRunID, marshalJSON(cb.ChildResult), cb.Status, cb.CreatedAt, nullTime(cb.DeliveredAt), cb.ResumeRunID)
	return err
}

func (s *SQLiteStore) GetCallbackByChildRun(ctx context.Context, childRunID string) (*model.Callback, error) {
	cb := &model.Callback{}
	var result sql.NullString
	var delivered sql.NullTime
	var resumeRunID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, parent_session_id, child_session_id, child_run_id, child_result, status, created_at, delivered_at, resume_run_id
		FROM callbacks WHERE child_run_id = ?
	`, childRunID).Scan(&cb.ID, &cb.ParentSessionID, &cb.ChildSessionID, &cb.ChildRunID, &result, &cb.Status, &cb.CreatedAt, &delivered, &resumeRunID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	unmarshalJSONMap(result.String, &cb.ChildResult)
	cb.DeliveredAt = ptrTime(delivered)
	cb.ResumeRunID = ptrString(resumeRunID)
	return cb, nil
}

func (s *SQLiteStore) MarkCallbackDelivered(ctx context.Context, id string, resumeRunID string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE callbacks SET status = ?, delivered_at = ?, resume_run_id = ? WHERE id = ? AND status = ?
	`, model.CallbackDelivered, now, resumeRunID, id, model.CallbackPending)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("callback %s already delivered or not found", id)
	}
	return nil
}

// ---- Hook records ----

func (s *SQLiteStore) CreateHookRecord(ctx context.Context, hr *model.HookRecord) error {
	if hr.StartedAt.IsZero() {
		hr.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hook_records (id, run_id, hook_type, target, started_at, finished_at, outcome, block_reason, error)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, hr.ID, hr.RunID, hr.HookType, hr.Target, hr.StartedAt, nullTime(hr.FinishedAt), hr.Outcome, nullString(hr.BlockReason), nullString(hr.Error))
	return err
}

func (s *SQLiteStore) UpdateHookRecord(ctx context.Context, hr *model.HookRecord) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE hook_records SET finished_at = ?, outcome = ?, block_reason = ?, error = ? WHERE id = ?
	`, nullTime(hr.FinishedAt), hr.Outcome, nullString(hr.BlockReason), nullString(hr.Error), hr.ID)
	if err != nil {
		return err
	}
	return expectOneRow(result, "hook_record", hr.ID)
}

func (s *SQLiteStore) ListHookRecordsByRun(ctx context.Context, runID string) ([]*model.HookRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, hook_type, target, started_at, finished_at, outcome, block_reason, error
		FROM hook_records WHERE run_id = ? ORDER BY started_at
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.HookRecord
	for rows.Next() {
		hr := &model.HookRecord{}
		var finished sql.NullTime
		var blockReason, errStr sql.NullString
		if err := rows.Scan(&hr.ID, &hr.RunID, &hr.HookType, &hr.Target, &hr.StartedAt, &finished, &hr.Outcome, &blockReason, &errStr); err != nil {
			return nil, err
		}
		hr.FinishedAt = ptrTime(finished)
		hr.BlockReason = ptrString(blockReason)
		hr.Error = ptrString(errStr)
		out = append(out, hr)
	}
	return out, rows.Err()
}

func expectOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", resource, id)
	}
	return nil
}
