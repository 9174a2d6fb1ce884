// Package schema validates run parameters against a blueprint's
// parameters_schema, and a completing run's result_data against its
// output_schema, using JSON-Schema draft-7.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	apperrors "github.com/orbweave/coordinator/internal/common/errors"
)

// Validator compiles and caches parameters_schema documents by blueprint
// name, since the same blueprint is validated against on every run.
type Validator struct {
	mu     sync.Mutex
	cached map[string]*jsonschema.Schema
}

// New returns an empty Validator.
func New() *Validator {
	return &Validator{cached: make(map[string]*jsonschema.Schema)}
}

// Validate checks params against schemaDoc (a decoded JSON-Schema
// document). cacheKey identifies the schema for compilation caching; pass
// the blueprint name. On failure it returns a *apperrors.AppError built
// from the coordinator's parameter_validation_failed taxonomy entry,
// echoing schemaDoc so a caller can self-correct without a second round
// trip.
func (v *Validator) Validate(cacheKey string, agentName string, params map[string]interface{}, schemaDoc map[string]interface{}) error {
	issues, err := v.check(cacheKey, agentName, params, schemaDoc)
	if err != nil {
		return err
	}
	if issues != nil {
		return apperrors.ParameterValidationFailed(agentName, issues, schemaDoc)
	}
	return nil
}

// ValidateResult checks a completing run's result_data against an agent's
// output_schema (§4.5/§3), returning a result_validation_failed AppError in
// the same {path,message,schema_path} shape Validate uses for parameters.
func (v *Validator) ValidateResult(cacheKey string, agentName string, resultData map[string]interface{}, schemaDoc map[string]interface{}) error {
	issues, err := v.check(cacheKey, agentName, resultData, schemaDoc)
	if err != nil {
		return err
	}
	if issues != nil {
		return apperrors.ResultValidationFailed(agentName, issues, schemaDoc)
	}
	return nil
}

// check compiles schemaDoc (cached under cacheKey) and validates instance
// against it, returning flattened issues on a schema mismatch or nil on a
// clean pass.
func (v *Validator) check(cacheKey string, agentName string, instanceDoc map[string]interface{}, schemaDoc map[string]interface{}) ([]apperrors.ValidationIssue, error) {
	compiled, err := v.compile(cacheKey, schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", agentName, err)
	}

	// jsonschema validates against the generic JSON representation, so
	// round-trip the instance through the same decoder the compiler uses
	// (map[string]interface{} with float64 numbers).
	raw, err := json.Marshal(instanceDoc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instance: %w", err)
	}
	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("failed to decode instance: %w", err)
	}

	if err := compiled.Validate(instance); err != nil {
		return flatten(err), nil
	}
	return nil, nil
}

func (v *Validator) compile(cacheKey string, schemaDoc map[string]interface{}) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.cached[cacheKey]; ok {
		return s, nil
	}

	c := jsonschema.NewCompiler()
	resourceName := cacheKey + ".json"
	if err := c.AddResource(resourceName, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cached[cacheKey] = compiled
	return compiled, nil
}

// Invalidate drops a cached compiled schema, e.g. after an agent's
// parameters_schema is redeclared.
func (v *Validator) Invalidate(cacheKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cached, cacheKey)
}

// flatten walks a jsonschema.ValidationError's cause tree into the flat
// {path, message, schema_path} triples the taxonomy's validation_errors
// field requires.
func flatten(err error) []apperrors.ValidationIssue {
	valErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []apperrors.ValidationIssue{{Message: err.Error()}}
	}

	var issues []apperrors.ValidationIssue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issues = append(issues, apperrors.ValidationIssue{
				Path:       "/" + strings.Join(e.InstanceLocation, "/"),
				Message:    e.Error(),
				SchemaPath: "/" + strings.Join(e.KeywordLocation, "/"),
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(valErr)
	return issues
}
