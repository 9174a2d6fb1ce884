package model

import "github.com/google/uuid"

// Identifier prefixes, per the wire-format rule in spec §6.
const (
	PrefixRun      = "run_"
	PrefixSession  = "ses_"
	PrefixLaunch   = "lnch_"
	PrefixCallback = "cb_"
	PrefixHook     = "hk_"
	PrefixEvent    = "evt_"
	PrefixRunner   = "rnr_"
)

func newID(prefix string) string {
	return prefix + uuid.NewString()
}

func NewRunID() string      { return newID(PrefixRun) }
func NewSessionID() string  { return newID(PrefixSession) }
func NewLaunchID() string   { return newID(PrefixLaunch) }
func NewCallbackID() string { return newID(PrefixCallback) }
func NewHookID() string     { return newID(PrefixHook) }
func NewEventID() string    { return newID(PrefixEvent) }
func NewRunnerID() string   { return newID(PrefixRunner) }
