package schema

import (
	"testing"

	apperrors "github.com/orbweave/coordinator/internal/common/errors"
)

func testSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"prompt"},
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{"type": "string", "minLength": float64(1)},
		},
	}
}

func TestValidate_Passes(t *testing.T) {
	v := New()
	err := v.Validate("reviewer", "reviewer", map[string]interface{}{"prompt": "look at this diff"}, testSchema())
	if err != nil {
		t.Fatalf("Validate returned error for valid params: %v", err)
	}
}

func TestValidate_FailsWithTaxonomyError(t *testing.T) {
	v := New()
	err := v.Validate("reviewer", "reviewer", map[string]interface{}{}, testSchema())
	if err == nil {
		t.Fatal("expected validation error for missing required field")
	}
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		t.Fatalf("error type = %T, want *apperrors.AppError", err)
	}
	if appErr.Code != apperrors.DiscParameterValidationFailed {
		t.Errorf("Code = %q, want %q", appErr.Code, apperrors.DiscParameterValidationFailed)
	}
	if appErr.Details["agent_name"] != "reviewer" {
		t.Errorf("Details[agent_name] = %v, want reviewer", appErr.Details["agent_name"])
	}
}

func TestValidate_CachesCompiledSchema(t *testing.T) {
	v := New()
	schemaDoc := testSchema()
	if err := v.Validate("cached-agent", "cached-agent", map[string]interface{}{"prompt": "x"}, schemaDoc); err != nil {
		t.Fatalf("first Validate failed: %v", err)
	}
	if _, ok := v.cached["cached-agent"]; !ok {
		t.Fatal("expected schema to be cached after first validation")
	}
	if err := v.Validate("cached-agent", "cached-agent", map[string]interface{}{"prompt": "y"}, schemaDoc); err != nil {
		t.Fatalf("second Validate failed: %v", err)
	}
}
