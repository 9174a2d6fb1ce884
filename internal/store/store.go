// Package store is the coordinator's durable persistence layer: a
// single-node transactional row store (SQLite-class) holding agents,
// sessions, runs, events, callbacks, runners and hook records. No
// component outside this package executes SQL directly.
package store

import (
	"context"
	"time"

	"github.com/orbweave/coordinator/internal/model"
)

// Store is the strictly-typed query surface every other component uses.
type Store interface {
	Close() error

	// Blueprints (agents)
	CreateBlueprint(ctx context.Context, bp *model.Blueprint) error
	UpdateBlueprint(ctx context.Context, bp *model.Blueprint) error
	GetBlueprint(ctx context.Context, name string) (*model.Blueprint, error)
	DeleteBlueprint(ctx context.Context, name string) error
	ListBlueprints(ctx context.Context) ([]*model.Blueprint, error)
	DeleteBlueprintsByOwner(ctx context.Context, ownerRunnerID string) error

	// Runners
	UpsertRunner(ctx context.Context, r *model.Runner) error
	GetRunner(ctx context.Context, id string) (*model.Runner, error)
	ListRunners(ctx context.Context) ([]*model.Runner, error)
	ListRunnersByLifecycle(ctx context.Context, lifecycle model.RunnerLifecycle) ([]*model.Runner, error)
	UpdateRunnerHeartbeat(ctx context.Context, id string, ts time.Time) error
	UpdateRunnerLifecycle(ctx context.Context, id string, lifecycle model.RunnerLifecycle) error
	DeleteRunner(ctx context.Context, id string) error
	FindRunnerOwningAgent(ctx context.Context, agentName string) (*model.Runner, error)

	// Sessions
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error

	// Runs
	CreateRunWithNumber(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	UpdateRun(ctx context.Context, r *model.Run) error
	ListRunsBySession(ctx context.Context, sessionID string) ([]*model.Run, error)
	LatestRunBySession(ctx context.Context, sessionID string) (*model.Run, error)
	ListPendingRuns(ctx context.Context) ([]*model.Run, error)
	ListActiveRunsByRunner(ctx context.Context, runnerID string) ([]*model.Run, error)
	ClaimRun(ctx context.Context, runID, runnerID string) (bool, error)

	// Events
	AppendEvent(ctx context.Context, sessionID string, ev *model.Event) (int64, error)
	ListEventsSince(ctx context.Context, sessionID string, since int64) ([]*model.Event, error)
	LatestEventOfType(ctx context.Context, sessionID string, runID string, eventType model.EventType) (*model.Event, error)

	// Callbacks
	CreateCallback(ctx context.Context, cb *model.Callback) error
	GetCallbackByChildRun(ctx context.Context, childRunID string) (*model.Callback, error)
	MarkCallbackDelivered(ctx context.Context, id string, resumeRunID string) error

	// Hook records
	CreateHookRecord(ctx context.Context, hr *model.HookRecord) error
	UpdateHookRecord(ctx context.Context, hr *model.HookRecord) error
	ListHookRecordsByRun(ctx context.Context, runID string) ([]*model.HookRecord, error)
}
