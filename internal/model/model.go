// Package model defines the coordinator's core entities: agent blueprints,
// runners, sessions, runs, events, callback records and hook records.
package model

import "time"

// AgentType distinguishes free-form autonomous agents from fixed-procedure
// procedural agents.
type AgentType string

const (
	AgentTypeAutonomous AgentType = "autonomous"
	AgentTypeProcedural AgentType = "procedural"
)

// ImplicitPromptSchema is applied to autonomous agents that declare no
// explicit parameters_schema.
var ImplicitPromptSchema = map[string]interface{}{
	"required": []interface{}{"prompt"},
	"properties": map[string]interface{}{
		"prompt": map[string]interface{}{
			"type":      "string",
			"minLength": float64(1),
		},
	},
}

// HookType is the kind of hook attached to a blueprint.
type HookType string

const (
	HookTypeAgent HookType = "agent"
	HookTypeHTTP  HookType = "http"
)

// HookOnError controls behaviour when a hook invocation itself errors.
type HookOnError string

const (
	HookOnErrorBlock  HookOnError = "block"
	HookOnErrorIgnore HookOnError = "ignore"
)

// HookSpec is one declared hook on a blueprint (on_run_start or on_run_finish).
type HookSpec struct {
	Type      HookType    `json:"type"`
	AgentName string      `json:"agent_name,omitempty"`
	URL       string      `json:"url,omitempty"`
	OnError   HookOnError `json:"on_error,omitempty"`
}

// Hooks groups the two hook points a blueprint may declare.
type Hooks struct {
	OnRunStart  *HookSpec `json:"on_run_start,omitempty"`
	OnRunFinish *HookSpec `json:"on_run_finish,omitempty"`
}

// Demands are capability requirements a run places on a candidate runner.
type Demands struct {
	Hostname        string   `json:"hostname,omitempty"`
	ProjectDir      string   `json:"project_dir,omitempty"`
	ExecutorProfile string   `json:"executor_profile,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// Blueprint is the static definition of an agent: name, type, schemas,
// prompt, demands, hooks, owner.
type Blueprint struct {
	Name             string                 `json:"name"`
	Type             AgentType              `json:"type"`
	Description      string                 `json:"description,omitempty"`
	ParametersSchema map[string]interface{} `json:"parameters_schema,omitempty"`
	OutputSchema     map[string]interface{} `json:"output_schema,omitempty"`
	SystemPrompt     string                 `json:"system_prompt,omitempty"`
	MCPServers       []string               `json:"mcp_servers,omitempty"`
	Hooks            *Hooks                 `json:"hooks,omitempty"`
	Demands          *Demands               `json:"demands,omitempty"`
	ExecutorProfile  string                 `json:"executor_profile,omitempty"`

	// OwnerRunnerID is empty for globally owned, file-backed blueprints.
	// Non-empty means the blueprint was declared by a runner at
	// registration and is removed when that runner disconnects.
	OwnerRunnerID string `json:"owner_runner_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveParametersSchema returns the schema to validate run parameters
// against: the declared schema, or the implicit prompt schema for
// autonomous agents that declared none.
func (b *Blueprint) EffectiveParametersSchema() map[string]interface{} {
	if b.ParametersSchema != nil {
		return b.ParametersSchema
	}
	if b.Type == AgentTypeAutonomous {
		return ImplicitPromptSchema
	}
	return nil
}

// RunnerLifecycle is the health state of a registered runner.
type RunnerLifecycle string

const (
	RunnerActive  RunnerLifecycle = "active"
	RunnerStale   RunnerLifecycle = "stale"
	RunnerRemoved RunnerLifecycle = "removed"
)

// Runner is a registered worker process.
type Runner struct {
	ID                  string            `json:"id"`
	Hostname            string            `json:"hostname"`
	ProjectDir          string            `json:"project_dir,omitempty"`
	Tags                []string          `json:"tags,omitempty"`
	ExecutorProfile     string            `json:"executor_profile,omitempty"`
	RequireMatchingTags bool              `json:"require_matching_tags"`
	DeclaredAgents      []string          `json:"declared_agents"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	LastHeartbeat       time.Time         `json:"last_heartbeat"`
	Lifecycle           RunnerLifecycle   `json:"lifecycle"`
	RegisteredAt        time.Time         `json:"registered_at"`
}

// SessionStatus is the status derived from a session's runs.
type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionRunning  SessionStatus = "running"
	SessionFinished SessionStatus = "finished"
	SessionFailed   SessionStatus = "failed"
	SessionStopped  SessionStatus = "stopped"
)

// ExecutionMode controls whether a child session's completion triggers a
// callback on its parent.
type ExecutionMode string

const (
	ExecutionModeSync          ExecutionMode = "sync"
	ExecutionModeAsyncCallback ExecutionMode = "async_callback"
)

// Session is a conversational container for 1..N runs.
type Session struct {
	ID              string        `json:"id"`
	DisplayName     string        `json:"display_name,omitempty"`
	AgentName       string        `json:"agent_name"`
	Status          SessionStatus `json:"status"`
	ParentSessionID *string       `json:"parent_session_id,omitempty"`
	ExecutionMode   ExecutionMode `json:"execution_mode,omitempty"`
	ProjectDir      *string       `json:"project_dir,omitempty"`
	Hostname        *string       `json:"hostname,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// RunType distinguishes starting a new conversation vs. resuming one.
type RunType string

const (
	RunTypeStartSession  RunType = "start_session"
	RunTypeResumeSession RunType = "resume_session"
)

// RunStatus is a run's position in the state machine (§4.7).
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunClaimed   RunStatus = "claimed"
	RunRunning   RunStatus = "running"
	RunStopping  RunStatus = "stopping"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// Terminal reports whether status is a terminal (non-active) run status.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunStopped:
		return true
	default:
		return false
	}
}

// Active reports whether status is non-terminal (pending, claimed, running
// or stopping) — i.e. the run occupies the session's "at most one
// non-terminal run" slot. Pending runs are not yet occupying a runner but
// still count as the session's single active run.
func (s RunStatus) Active() bool {
	return !s.Terminal()
}

// Run is a single unit of work within a session.
type Run struct {
	ID                 string                 `json:"id"`
	SessionID          string                 `json:"session_id"`
	RunNumber          int                    `json:"run_number"`
	Type               RunType                `json:"type"`
	AgentName          string                 `json:"agent_name"`
	Parameters         map[string]interface{} `json:"parameters"`
	Scope              map[string]string      `json:"scope,omitempty"`
	Status             RunStatus              `json:"status"`
	RunnerID           *string                `json:"runner_id,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
	Error              *string                `json:"error,omitempty"`
	ResolvedBlueprint  map[string]interface{} `json:"resolved_blueprint,omitempty"`
}

// EventType enumerates the required event types from §6.
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
	EventRunStopped   EventType = "run_stopped"
	EventPreTool      EventType = "pre_tool"
	EventPostTool     EventType = "post_tool"
	EventMessage      EventType = "message"
	EventResult       EventType = "result"
	EventHookStart    EventType = "hook_start"
	EventHookComplete EventType = "hook_complete"
	EventHookFailed   EventType = "hook_failed"
	EventHookBlocked  EventType = "hook_blocked"
	EventGap          EventType = "gap"
)

// Event is an append-only record keyed by (session_id, sequence).
type Event struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Sequence  int64                  `json:"sequence"`
	EventType EventType              `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     *string                `json:"run_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// ResultPayload is the typed contents of a "result" event's payload.
// result_text and result_data are mutually exclusive.
type ResultPayload struct {
	ResultText *string                `json:"result_text"`
	ResultData map[string]interface{} `json:"result_data"`
}

// CallbackStatus is the delivery state of a Callback Record.
type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "pending"
	CallbackDelivered CallbackStatus = "delivered"
)

// Callback is created when a resume-inducing child run completes.
type Callback struct {
	ID              string                 `json:"id"`
	ParentSessionID string                 `json:"parent_session_id"`
	ChildSessionID  string                 `json:"child_session_id"`
	ChildRunID      string                 `json:"child_run_id"`
	ChildResult     map[string]interface{} `json:"child_result,omitempty"`
	Status          CallbackStatus         `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
	DeliveredAt     *time.Time             `json:"delivered_at,omitempty"`
	ResumeRunID     *string                `json:"resume_run_id,omitempty"`
}

// HookOutcome is the result of one hook invocation.
type HookOutcome string

const (
	HookOutcomeContinue HookOutcome = "continue"
	HookOutcomeBlock    HookOutcome = "block"
	HookOutcomeFailed   HookOutcome = "failed"
)

// HookRecord is one per hook invocation.
type HookRecord struct {
	ID          string      `json:"id"`
	RunID       string      `json:"run_id"`
	HookType    string      `json:"hook_type"` // "on_run_start" | "on_run_finish"
	Target      string      `json:"target"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Outcome     HookOutcome `json:"outcome"`
	BlockReason *string     `json:"block_reason,omitempty"`
	Error       *string     `json:"error,omitempty"`
}
