package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS blueprints (
	name TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	description TEXT DEFAULT '',
	parameters_schema TEXT,
	output_schema TEXT,
	system_prompt TEXT DEFAULT '',
	mcp_servers TEXT DEFAULT '[]',
	hooks TEXT,
	demands TEXT,
	executor_profile TEXT DEFAULT '',
	owner_runner_id TEXT DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blueprints_owner ON blueprints(owner_runner_id);

CREATE TABLE IF NOT EXISTS runners (
	id TEXT PRIMARY KEY,
	hostname TEXT NOT NULL,
	project_dir TEXT DEFAULT '',
	tags TEXT DEFAULT '[]',
	executor_profile TEXT DEFAULT '',
	require_matching_tags INTEGER DEFAULT 0,
	declared_agents TEXT DEFAULT '[]',
	metadata TEXT DEFAULT '{}',
	last_heartbeat DATETIME NOT NULL,
	lifecycle TEXT NOT NULL,
	registered_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runners_lifecycle ON runners(lifecycle);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	display_name TEXT DEFAULT '',
	agent_name TEXT NOT NULL,
	status TEXT NOT NULL,
	parent_session_id TEXT,
	execution_mode TEXT DEFAULT '',
	project_dir TEXT,
	hostname TEXT,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (parent_session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions(parent_session_id);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	run_number INTEGER NOT NULL,
	type TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	parameters TEXT DEFAULT '{}',
	scope TEXT,
	status TEXT NOT NULL,
	runner_id TEXT,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME,
	error TEXT,
	resolved_blueprint TEXT,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
	UNIQUE (session_id, run_number)
);

CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_runner ON runs(runner_id);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	run_id TEXT,
	payload TEXT DEFAULT '{}',
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
	UNIQUE (session_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_events_session_sequence ON events(session_id, sequence);
CREATE INDEX IF NOT EXISTS idx_events_type_session ON events(event_type, session_id);

CREATE TABLE IF NOT EXISTS callbacks (
	id TEXT PRIMARY KEY,
	parent_session_id TEXT NOT NULL,
	child_session_id TEXT NOT NULL,
	child_run_id TEXT NOT NULL,
	child_result TEXT,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	delivered_at DATETIME,
	resume_run_id TEXT,
	FOREIGN KEY (parent_session_id) REFERENCES sessions(id),
	FOREIGN KEY (child_session_id) REFERENCES sessions(id),
	UNIQUE (child_run_id)
);

CREATE INDEX IF NOT EXISTS idx_callbacks_parent ON callbacks(parent_session_id);

CREATE TABLE IF NOT EXISTS hook_records (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	hook_type TEXT NOT NULL,
	target TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	outcome TEXT NOT NULL,
	block_reason TEXT,
	error TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_hook_records_run ON hook_records(run_id);

CREATE TABLE IF NOT EXISTS session_sequences (
	session_id TEXT PRIMARY KEY,
	next_sequence INTEGER NOT NULL DEFAULT 1
);
`
