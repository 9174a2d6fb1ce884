package api

import (
	"time"

	"github.com/orbweave/coordinator/internal/model"
)

// RunContext carries the session-shaping fields allowed alongside a run
// creation request's top-level session_id: the spec's "context?" object.
// Only meaningful when session_id is empty and a new session is created.
type RunContext struct {
	ParentSessionID string  `json:"parent_session_id,omitempty"`
	DisplayName     string  `json:"display_name,omitempty"`
	ProjectDir      *string `json:"project_dir,omitempty"`
	Hostname        *string `json:"hostname,omitempty"`
}

// CreateRunRequest is POST /runs' body.
type CreateRunRequest struct {
	Type          model.RunType          `json:"type" binding:"required"`
	AgentName     string                 `json:"agent_name" binding:"required"`
	Parameters    map[string]interface{} `json:"parameters"`
	SessionID     string                 `json:"session_id,omitempty"`
	Scope         map[string]string      `json:"scope,omitempty"`
	Context       *RunContext            `json:"context,omitempty"`
	ExecutionMode model.ExecutionMode    `json:"execution_mode,omitempty"`
}

// RunResponse mirrors model.Run for the wire.
type RunResponse struct {
	ID                string                 `json:"id"`
	SessionID         string                 `json:"session_id"`
	RunNumber         int                    `json:"run_number"`
	Type              model.RunType          `json:"type"`
	AgentName         string                 `json:"agent_name"`
	Parameters        map[string]interface{} `json:"parameters"`
	Scope             map[string]string      `json:"scope,omitempty"`
	Status            model.RunStatus        `json:"status"`
	RunnerID          *string                `json:"runner_id,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	StartedAt         *time.Time             `json:"started_at,omitempty"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	Error             *string                `json:"error,omitempty"`
	ResolvedBlueprint map[string]interface{} `json:"resolved_blueprint,omitempty"`
}

func runToResponse(r *model.Run) RunResponse {
	return RunResponse{
		ID: r.ID, SessionID: r.SessionID, RunNumber: r.RunNumber, Type: r.Type,
		AgentName: r.AgentName, Parameters: r.Parameters, Scope: r.Scope,
		Status: r.Status, RunnerID: r.RunnerID, CreatedAt: r.CreatedAt,
		StartedAt: r.StartedAt, CompletedAt: r.CompletedAt, Error: r.Error,
		ResolvedBlueprint: r.ResolvedBlueprint,
	}
}

// SessionResponse mirrors model.Session for the wire.
type SessionResponse struct {
	ID              string              `json:"id"`
	DisplayName     string              `json:"display_name,omitempty"`
	AgentName       string              `json:"agent_name"`
	Status          model.SessionStatus `json:"status"`
	ParentSessionID *string             `json:"parent_session_id,omitempty"`
	ExecutionMode   model.ExecutionMode `json:"execution_mode,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

func sessionToResponse(s *model.Session) SessionResponse {
	return SessionResponse{
		ID: s.ID, DisplayName: s.DisplayName, AgentName: s.AgentName,
		Status: s.Status, ParentSessionID: s.ParentSessionID,
		ExecutionMode: s.ExecutionMode, CreatedAt: s.CreatedAt,
	}
}

// ResultResponse is GET /sessions/{id}/result's body.
type ResultResponse struct {
	ResultText *string                `json:"result_text"`
	ResultData map[string]interface{} `json:"result_data"`
}

func resultToResponse(r *model.ResultPayload) ResultResponse {
	if r == nil {
		return ResultResponse{}
	}
	return ResultResponse{ResultText: r.ResultText, ResultData: r.ResultData}
}

// StopRunRequest is POST /runs/{id}/stop's optional body.
type StopRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// BlueprintRequest is the POST/PUT /agents/{name} body.
type BlueprintRequest struct {
	Type             model.AgentType        `json:"type" binding:"required"`
	Description      string                 `json:"description,omitempty"`
	ParametersSchema map[string]interface{} `json:"parameters_schema,omitempty"`
	OutputSchema     map[string]interface{} `json:"output_schema,omitempty"`
	SystemPrompt     string                 `json:"system_prompt,omitempty"`
	MCPServers       []string               `json:"mcp_servers,omitempty"`
	Hooks            *model.Hooks           `json:"hooks,omitempty"`
	Demands          *model.Demands         `json:"demands,omitempty"`
	ExecutorProfile  string                 `json:"executor_profile,omitempty"`
}

// AgentResponse is one entry of GET /agents.
type AgentResponse struct {
	Name             string                 `json:"name"`
	Type             model.AgentType        `json:"type"`
	Description      string                 `json:"description,omitempty"`
	ParametersSchema map[string]interface{} `json:"parameters_schema,omitempty"`
	OutputSchema     map[string]interface{} `json:"output_schema,omitempty"`
}

func blueprintToAgentResponse(bp *model.Blueprint) AgentResponse {
	return AgentResponse{
		Name: bp.Name, Type: bp.Type, Description: bp.Description,
		ParametersSchema: bp.EffectiveParametersSchema(),
		OutputSchema:     bp.OutputSchema,
	}
}

// RunnerRegisterRequest is POST /runner/register's body.
type RunnerRegisterRequest struct {
	Hostname            string            `json:"hostname" binding:"required"`
	ProjectDir          string            `json:"project_dir,omitempty"`
	Tags                []string          `json:"tags,omitempty"`
	ExecutorProfile     string            `json:"executor_profile,omitempty"`
	RequireMatchingTags bool              `json:"require_matching_tags"`
	DeclaredAgents      []string          `json:"declared_agents"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// RunnerRegisterResponse returns the assigned runner ID.
type RunnerRegisterResponse struct {
	RunnerID string `json:"runner_id"`
}

// HeartbeatRequest is POST /runner/heartbeat's body.
type HeartbeatRequest struct {
	RunnerID string `json:"runner_id" binding:"required"`
}

// CompleteRunRequest is POST /runner/runs/{id}/completed's body.
type CompleteRunRequest struct {
	ResultText *string                `json:"result_text"`
	ResultData map[string]interface{} `json:"result_data"`
}

// FailRunRequest is POST /runner/runs/{id}/failed's body.
type FailRunRequest struct {
	Error string `json:"error" binding:"required"`
}

// AppendEventRequest is POST /events' body: a runner reporting an event
// on behalf of one of its in-flight runs.
type AppendEventRequest struct {
	SessionID string                 `json:"session_id" binding:"required"`
	RunID     *string                `json:"run_id,omitempty"`
	EventType model.EventType        `json:"event_type" binding:"required"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// EventResponse mirrors model.Event for the wire.
type EventResponse struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Sequence  int64                  `json:"sequence"`
	EventType model.EventType        `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     *string                `json:"run_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

func eventToResponse(ev *model.Event) EventResponse {
	return EventResponse{
		ID: ev.ID, SessionID: ev.SessionID, Sequence: ev.Sequence,
		EventType: ev.EventType, Timestamp: ev.Timestamp, RunID: ev.RunID,
		Payload: ev.Payload,
	}
}
