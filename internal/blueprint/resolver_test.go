package blueprint

import (
	"os"
	"testing"
	"time"

	"github.com/orbweave/coordinator/internal/model"
)

func testBlueprint() *model.Blueprint {
	return &model.Blueprint{
		Name:         "reviewer",
		Type:         model.AgentTypeAutonomous,
		SystemPrompt: "Review the repo at ${params.repo_url} for session ${runtime.session_id}.",
		MCPServers:   []string{"${runner.orchestrator_mcp_url}"},
		Demands: &model.Demands{
			ProjectDir: "${scope.project_dir}",
		},
	}
}

func TestResolve_SubstitutesAllSources(t *testing.T) {
	os.Setenv("COORDINATOR_TEST_TOKEN", "secret-token")
	defer os.Unsetenv("COORDINATOR_TEST_TOKEN")

	bp := testBlueprint()
	bp.SystemPrompt += " Token: ${env.COORDINATOR_TEST_TOKEN}."

	rt := RuntimeContext{
		RunID:     "run_1",
		SessionID: "ses_1",
		AgentName: "reviewer",
		CreatedAt: time.Now(),
	}

	out, err := Resolve(bp, map[string]interface{}{"repo_url": "https://example.com/repo"}, map[string]string{"project_dir": "/workspace/repo"}, rt)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	prompt, _ := out["system_prompt"].(string)
	if want := "Review the repo at https://example.com/repo for session ses_1."; !containsAll(prompt, want) {
		t.Errorf("system_prompt = %q, want substring %q", prompt, want)
	}
	if !containsAll(prompt, "secret-token") {
		t.Errorf("system_prompt missing resolved env value: %q", prompt)
	}

	mcp, _ := out["mcp_servers"].([]interface{})
	if len(mcp) != 1 || mcp[0] != "${runner.orchestrator_mcp_url}" {
		t.Errorf("mcp_servers = %v, want runner placeholder left opaque", mcp)
	}

	demands, _ := out["demands"].(map[string]interface{})
	if demands["project_dir"] != "/workspace/repo" {
		t.Errorf("demands.project_dir = %v, want /workspace/repo", demands["project_dir"])
	}
}

func TestResolve_UnresolvedReferencesCollected(t *testing.T) {
	bp := testBlueprint()
	bp.SystemPrompt += " Missing: ${params.does_not_exist} and ${scope.also_missing}."

	_, err := Resolve(bp, map[string]interface{}{"repo_url": "x"}, map[string]string{"project_dir": "/x"}, RuntimeContext{SessionID: "ses_1"})
	if err == nil {
		t.Fatal("expected error for unresolved placeholders")
	}
	uerr, ok := err.(*UnresolvedError)
	if !ok {
		t.Fatalf("error type = %T, want *UnresolvedError", err)
	}
	if len(uerr.Refs) != 2 {
		t.Fatalf("Refs = %v, want 2 entries", uerr.Refs)
	}
}

func TestResolve_WholeFieldPreservesNativeType(t *testing.T) {
	bp := &model.Blueprint{
		Name:             "counter",
		Type:             model.AgentTypeProcedural,
		ParametersSchema: map[string]interface{}{"type": "object"},
	}
	bp.Demands = &model.Demands{ExecutorProfile: "${params.executor}"}

	out, err := Resolve(bp, map[string]interface{}{"executor": map[string]interface{}{"kind": "docker"}}, nil, RuntimeContext{})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	demands, _ := out["demands"].(map[string]interface{})
	executor, ok := demands["executor_profile"].(map[string]interface{})
	if !ok {
		t.Fatalf("executor_profile type = %T, want map[string]interface{}", demands["executor_profile"])
	}
	if executor["kind"] != "docker" {
		t.Errorf("executor.kind = %v, want docker", executor["kind"])
	}
}

func containsAll(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
