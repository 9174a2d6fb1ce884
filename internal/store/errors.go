package store

import "errors"

// ErrNotFound is returned by lookup methods when the requested row does
// not exist. Callers translate this into the appropriate taxonomy error
// (agent_not_found, session_not_found, run_not_found) for their resource.
var ErrNotFound = errors.New("store: not found")
