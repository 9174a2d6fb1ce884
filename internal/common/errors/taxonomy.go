package errors

import "net/http"

// Error discriminators from the coordinator's error taxonomy. These are the
// values surfaced under the top-level "error" key of a JSON error response.
const (
	DiscParameterValidationFailed = "parameter_validation_failed"
	DiscResultValidationFailed    = "result_validation_failed"
	DiscResultExclusivityViolated = "result_exclusivity_violated"
	DiscAgentNotFound             = "agent_not_found"
	DiscSessionNotFound           = "session_not_found"
	DiscRunNotFound               = "run_not_found"
	DiscAgentNameCollision        = "agent_name_collision"
	DiscNoRunnerAvailable         = "no_runner_available"
	DiscRunnerDisconnected        = "runner_disconnected"
	DiscHookBlocked               = "hook_blocked"
	DiscHookFailed                = "hook_failed"
	DiscPlaceholderUnresolved     = "placeholder_unresolved"
)

// ValidationIssue is one entry of a parameter_validation_failed response.
type ValidationIssue struct {
	Path       string `json:"path"`
	Message    string `json:"message"`
	SchemaPath string `json:"schema_path"`
}

// ParameterValidationFailed builds the structured 400 response from §4.5:
// the agent name, every validation issue, and the schema echoed back so an
// AI orchestrator can self-correct without another round trip.
func ParameterValidationFailed(agentName string, issues []ValidationIssue, schema map[string]interface{}) *AppError {
	return &AppError{
		Code:       DiscParameterValidationFailed,
		Message:    "parameters do not conform to the agent's parameters_schema",
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]interface{}{
			"agent_name":        agentName,
			"validation_errors": issues,
			"parameters_schema": schema,
		},
	}
}

// ResultValidationFailed is the 400 raised when a completing run's
// result_data does not conform to its agent's output_schema.
func ResultValidationFailed(agentName string, issues []ValidationIssue, schema map[string]interface{}) *AppError {
	return &AppError{
		Code:       DiscResultValidationFailed,
		Message:    "result_data does not conform to the agent's output_schema",
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]interface{}{
			"agent_name":        agentName,
			"validation_errors": issues,
			"output_schema":     schema,
		},
	}
}

// ResultExclusivityViolated is the 400 raised when a completing run's
// result carries both (or neither of) result_text and result_data (§3's
// result exclusivity invariant).
func ResultExclusivityViolated() *AppError {
	return &AppError{
		Code:       DiscResultExclusivityViolated,
		Message:    "exactly one of result_text or result_data must be set",
		HTTPStatus: http.StatusBadRequest,
	}
}

// AgentNotFound is a 404 for an unknown blueprint name.
func AgentNotFound(name string) *AppError {
	return &AppError{
		Code:       DiscAgentNotFound,
		Message:    "agent '" + name + "' is not registered",
		HTTPStatus: http.StatusNotFound,
	}
}

// SessionNotFound is a 404 for an unknown session ID.
func SessionNotFound(id string) *AppError {
	return &AppError{
		Code:       DiscSessionNotFound,
		Message:    "session '" + id + "' not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// RunNotFound is a 404 for an unknown run ID.
func RunNotFound(id string) *AppError {
	return &AppError{
		Code:       DiscRunNotFound,
		Message:    "run '" + id + "' not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// AgentNameCollision is the 409 raised at runner registration when a
// declared agent name is already owned by a different runner.
func AgentNameCollision(agentName, ownerRunnerID string) *AppError {
	return &AppError{
		Code:       DiscAgentNameCollision,
		Message:    "agent '" + agentName + "' is already declared by runner '" + ownerRunnerID + "'",
		HTTPStatus: http.StatusConflict,
		Details: map[string]interface{}{
			"agent_name": agentName,
		},
	}
}

// NoRunnerAvailable is the failure reason for a pending run that timed out
// waiting for an eligible runner.
func NoRunnerAvailable() *AppError {
	return &AppError{
		Code:       DiscNoRunnerAvailable,
		Message:    "No matching runner available within timeout",
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// RunnerDisconnected is the failure reason applied to a run whose runner
// stopped heartbeating mid-execution.
func RunnerDisconnected() *AppError {
	return &AppError{
		Code:       DiscRunnerDisconnected,
		Message:    "Runner disconnected during execution",
		HTTPStatus: http.StatusBadGateway,
	}
}

// HookBlocked is raised when an on_run_start hook requests a block.
func HookBlocked(reason string) *AppError {
	return &AppError{
		Code:       DiscHookBlocked,
		Message:    reason,
		HTTPStatus: http.StatusForbidden,
		Details: map[string]interface{}{
			"block_reason": reason,
		},
	}
}

// HookFailed wraps an error raised while invoking a blocking hook.
func HookFailed(err error) *AppError {
	return &AppError{
		Code:       DiscHookFailed,
		Message:    "hook invocation failed",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// PlaceholderUnresolved lists every placeholder reference the resolver
// could not satisfy.
func PlaceholderUnresolved(refs []string) *AppError {
	return &AppError{
		Code:       DiscPlaceholderUnresolved,
		Message:    "blueprint refers to one or more placeholders with no value",
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]interface{}{
			"unresolved": refs,
		},
	}
}
