// Package registry tracks registered runners: registration with
// agent-name collision checks, heartbeat-driven lifecycle transitions,
// and capability-based lookup for the dispatcher.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/store"
)

// Registry is the in-memory projection of registered runners, rebuilt
// from the store on boot and kept current by Register/Heartbeat/reap.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*model.Runner
	store   store.Store
	log     *logger.Logger

	staleAfter  time.Duration
	removeAfter time.Duration

	// OnRunnerRemoved is invoked (outside the lock) whenever a runner
	// transitions to removed, so the dispatcher/session layers can fail
	// its active runs and enqueue callbacks.
	OnRunnerRemoved func(ctx context.Context, runnerID string)
}

// New constructs a Registry. Call Load before serving traffic to rebuild
// the in-memory projection from durable storage.
func New(st store.Store, log *logger.Logger, staleAfter, removeAfter time.Duration) *Registry {
	return &Registry{
		runners:     make(map[string]*model.Runner),
		store:       st,
		log:         log,
		staleAfter:  staleAfter,
		removeAfter: removeAfter,
	}
}

// Load rebuilds the in-memory projection from the store, skipping
// previously removed runners.
func (r *Registry) Load(ctx context.Context) error {
	runners, err := r.store.ListRunners(ctx)
	if err != nil {
		return fmt.Errorf("failed to load runners: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rn := range runners {
		if rn.Lifecycle == model.RunnerRemoved {
			continue
		}
		r.runners[rn.ID] = rn
	}
	return nil
}

// CollisionError is returned by Register when a declared agent name is
// already owned by a different, still-live runner.
type CollisionError struct {
	AgentName     string
	OwnerRunnerID string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("agent %q already declared by runner %s", e.AgentName, e.OwnerRunnerID)
}

// Register validates agent-name uniqueness across all declared agents and
// persists the runner. On collision it registers nothing (§4.3).
func (r *Registry) Register(ctx context.Context, rn *model.Runner) error {
	r.mu.Lock()
	for _, name := range rn.DeclaredAgents {
		for id, existing := range r.runners {
			if id == rn.ID {
				continue
			}
			for _, existingName := range existing.DeclaredAgents {
				if existingName == name {
					r.mu.Unlock()
					return &CollisionError{AgentName: name, OwnerRunnerID: id}
				}
			}
		}
	}
	r.mu.Unlock()

	rn.Lifecycle = model.RunnerActive
	rn.LastHeartbeat = time.Now().UTC()
	if err := r.store.UpsertRunner(ctx, rn); err != nil {
		return fmt.Errorf("failed to persist runner: %w", err)
	}

	r.mu.Lock()
	r.runners[rn.ID] = rn
	r.mu.Unlock()
	return nil
}

// Heartbeat marks runnerID active and refreshes its last-heartbeat time.
func (r *Registry) Heartbeat(ctx context.Context, runnerID string) error {
	now := time.Now().UTC()
	if err := r.store.UpdateRunnerHeartbeat(ctx, runnerID, now); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rn, ok := r.runners[runnerID]; ok {
		rn.LastHeartbeat = now
		rn.Lifecycle = model.RunnerActive
	}
	return nil
}

// Get returns the runner by ID; ok is false if it is not registered.
func (r *Registry) Get(runnerID string) (*model.Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runners[runnerID]
	return rn, ok
}

// Lookup returns the first currently active or stale runner matching
// demands per §4.6's dispatch predicate (collision resolution already
// guarantees at most one runner declares a given agent name).
func (r *Registry) Lookup(agentName string, demands *model.Demands) (*model.Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rn := range r.runners {
		if rn.Lifecycle == model.RunnerRemoved {
			continue
		}
		if !Declares(rn, agentName) {
			continue
		}
		if !Satisfies(rn, demands) {
			continue
		}
		return rn, true
	}
	return nil, false
}

// Declares reports whether rn has declared agentName.
func Declares(rn *model.Runner, agentName string) bool {
	for _, a := range rn.DeclaredAgents {
		if a == agentName {
			return true
		}
	}
	return false
}

// Satisfies reports whether rn's capabilities satisfy demands, per the
// §4.6 dispatch predicate (rules 2 and 3).
func Satisfies(rn *model.Runner, demands *model.Demands) bool {
	var wantTags []string
	if demands != nil {
		if demands.Hostname != "" && demands.Hostname != rn.Hostname {
			return false
		}
		if demands.ProjectDir != "" && demands.ProjectDir != rn.ProjectDir {
			return false
		}
		if demands.ExecutorProfile != "" && demands.ExecutorProfile != rn.ExecutorProfile {
			return false
		}
		if !isSubset(demands.Tags, rn.Tags) {
			return false
		}
		wantTags = demands.Tags
	}
	if rn.RequireMatchingTags && !intersects(wantTags, rn.Tags) {
		return false
	}
	return true
}

func isSubset(want, have []string) bool {
	haveSet := make(map[string]struct{}, len(have))
	for _, t := range have {
		haveSet[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := haveSet[t]; !ok {
			return false
		}
	}
	return true
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	for _, t := range a {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// Unregister removes a runner immediately (graceful shutdown path), as
// opposed to the reaper's heartbeat-driven removal.
func (r *Registry) Unregister(ctx context.Context, runnerID string) error {
	if err := r.store.UpdateRunnerLifecycle(ctx, runnerID, model.RunnerRemoved); err != nil {
		return err
	}
	if err := r.store.DeleteBlueprintsByOwner(ctx, runnerID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.runners, runnerID)
	r.mu.Unlock()

	if r.OnRunnerRemoved != nil {
		r.OnRunnerRemoved(ctx, runnerID)
	}
	return nil
}

// ReapOnce scans all tracked runners once, marking stale/removed
// transitions per the §4.3 heartbeat timeline. Intended to be called on a
// ticker by the owning binary.
func (r *Registry) ReapOnce(ctx context.Context) {
	now := time.Now().UTC()

	r.mu.RLock()
	var toStale, toRemove []string
	for id, rn := range r.runners {
		age := now.Sub(rn.LastHeartbeat)
		switch {
		case age >= r.removeAfter:
			toRemove = append(toRemove, id)
		case age >= r.staleAfter && rn.Lifecycle == model.RunnerActive:
			toStale = append(toStale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range toStale {
		if err := r.store.UpdateRunnerLifecycle(ctx, id, model.RunnerStale); err != nil {
			r.log.WithError(err).WithRunnerID(id).Warn("failed to mark runner stale")
			continue
		}
		r.mu.Lock()
		if rn, ok := r.runners[id]; ok {
			rn.Lifecycle = model.RunnerStale
		}
		r.mu.Unlock()
		r.log.WithRunnerID(id).Warn("runner missed heartbeat window, marked stale")
	}

	for _, id := range toRemove {
		r.log.WithRunnerID(id).Warn("runner exceeded removal window, removing")
		if err := r.Unregister(ctx, id); err != nil {
			r.log.WithError(err).WithRunnerID(id).Error("failed to remove stale runner")
		}
	}
}

// RunReaper runs ReapOnce on interval until ctx is cancelled.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapOnce(ctx)
		}
	}
}
