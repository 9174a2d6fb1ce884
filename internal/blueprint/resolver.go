// Package blueprint resolves an agent blueprint's placeholder references
// into a concrete snapshot for one run. Resolution is a pure function over
// {params, scope, env, runtime, runner?} — never a repeated pass over text,
// which risks reentrant substitution if a resolved value itself contains
// placeholder syntax.
package blueprint

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/orbweave/coordinator/internal/model"
)

// placeholderRe matches ${source.path}, e.g. ${params.repo_url},
// ${runtime.run_id}, ${runner.orchestrator_mcp_url}.
var placeholderRe = regexp.MustCompile(`\$\{(params|scope|env|runtime|runner)\.([A-Za-z0-9_]+)\}`)

// RuntimeContext supplies the §4.4 "runtime.X" values: run id, session id,
// agent name, parent session id, timestamps.
type RuntimeContext struct {
	RunID           string
	SessionID       string
	AgentName       string
	ParentSessionID string
	CreatedAt       time.Time
}

func (rt RuntimeContext) lookup(key string) (interface{}, bool) {
	switch key {
	case "run_id":
		return rt.RunID, true
	case "session_id":
		return rt.SessionID, true
	case "agent_name":
		return rt.AgentName, true
	case "parent_session_id":
		return rt.ParentSessionID, true
	case "created_at":
		return rt.CreatedAt.Format(time.RFC3339), true
	default:
		return nil, false
	}
}

// UnresolvedError lists every placeholder reference that had no value,
// collected across the whole blueprint in one pass rather than failing on
// the first one — so a caller (or an AI orchestrator) can fix them all at
// once.
type UnresolvedError struct {
	Refs []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved placeholders: %s", strings.Join(e.Refs, ", "))
}

// Resolve produces the resolved blueprint snapshot for one run. params and
// scope come from the run; env is read from the coordinator process.
// runner.* placeholders are left untouched in the returned snapshot for the
// runner to substitute at dispatch time.
func Resolve(bp *model.Blueprint, params map[string]interface{}, scope map[string]string, rt RuntimeContext) (map[string]interface{}, error) {
	raw, err := toGenericMap(bp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal blueprint: %w", err)
	}

	unresolvedSet := map[string]struct{}{}
	out := resolveValue(raw, params, scope, rt, unresolvedSet)

	if len(unresolvedSet) > 0 {
		refs := make([]string, 0, len(unresolvedSet))
		for ref := range unresolvedSet {
			refs = append(refs, ref)
		}
		sort.Strings(refs)
		return nil, &UnresolvedError{Refs: refs}
	}

	m, _ := out.(map[string]interface{})
	return m, nil
}

// StdResolver adapts the package-level Resolve function to
// internal/session.Resolver, for wiring into session.New without the
// session package depending on a free function.
type StdResolver struct{}

// Resolve implements internal/session.Resolver.
func (StdResolver) Resolve(bp *model.Blueprint, params map[string]interface{}, scope map[string]string, rt RuntimeContext) (map[string]interface{}, error) {
	return Resolve(bp, params, scope, rt)
}

func toGenericMap(bp *model.Blueprint) (map[string]interface{}, error) {
	b, err := json.Marshal(bp)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// resolveValue walks v recursively, substituting placeholders in every
// string leaf. Unresolved coordinator-side references are recorded into
// unresolved rather than raised immediately, so the walk always completes.
func resolveValue(v interface{}, params map[string]interface{}, scope map[string]string, rt RuntimeContext, unresolved map[string]struct{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[k] = resolveValue(child, params, scope, rt, unresolved)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = resolveValue(child, params, scope, rt, unresolved)
		}
		return out
	case string:
		return resolveString(val, params, scope, rt, unresolved)
	default:
		return v
	}
}

// resolveString substitutes placeholders within s. When s is exactly one
// placeholder with nothing else around it, the substituted value's native
// type is preserved (e.g. a numeric param stays a number); otherwise
// placeholders are interpolated as text.
func resolveString(s string, params map[string]interface{}, scope map[string]string, rt RuntimeContext, unresolved map[string]struct{}) interface{} {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		source := s[matches[0][2]:matches[0][3]]
		path := s[matches[0][4]:matches[0][5]]
		return resolveSingle(source, path, params, scope, rt, unresolved)
	}

	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		sub := placeholderRe.FindStringSubmatch(match)
		source, path := sub[1], sub[2]
		v := resolveSingle(source, path, params, scope, rt, unresolved)
		if v == nil {
			return match
		}
		return fmt.Sprintf("%v", v)
	})
}

// resolveSingle resolves one source.path reference. runner.* is always
// passed through opaque (the placeholder text itself) since only the
// runner can fill it in at dispatch time.
func resolveSingle(source, path string, params map[string]interface{}, scope map[string]string, rt RuntimeContext, unresolved map[string]struct{}) interface{} {
	ref := source + "." + path
	switch source {
	case "params":
		if v, ok := params[path]; ok {
			return v
		}
		unresolved[ref] = struct{}{}
		return nil
	case "scope":
		if v, ok := scope[path]; ok {
			return v
		}
		unresolved[ref] = struct{}{}
		return nil
	case "env":
		if v, ok := os.LookupEnv(path); ok {
			return v
		}
		unresolved[ref] = struct{}{}
		return nil
	case "runtime":
		if v, ok := rt.lookup(path); ok {
			return v
		}
		unresolved[ref] = struct{}{}
		return nil
	case "runner":
		return "${" + ref + "}"
	default:
		unresolved[ref] = struct{}{}
		return nil
	}
}
