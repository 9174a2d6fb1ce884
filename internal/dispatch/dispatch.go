// Package dispatch matches pending runs to eligible runners (§4.6): the
// poll-driven claim path a runner hits via GET /runner/runs, and a
// background sweeper that times out runs with no eligible runner. The
// sweeper only looks at queued (pending) runs; a claimed run whose runner
// never confirms it is not returned to the queue.
package dispatch

import (
	"context"
	"time"

	"github.com/orbweave/coordinator/internal/common/errors"
	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/queue"
	"github.com/orbweave/coordinator/internal/registry"
	"github.com/orbweave/coordinator/internal/store"
)

// RunFailer marks a run failed and performs whatever follow-on work (event
// emission, callback enqueue) its terminal transition requires. Satisfied
// by internal/session.Machine; declared here to avoid an import cycle.
type RunFailer interface {
	FailRun(ctx context.Context, runID string, reason string) error
}

// Dispatcher matches the pending queue against the runner registry.
type Dispatcher struct {
	store         store.Store
	registry      *registry.Registry
	queue         *queue.RunQueue
	log           *logger.Logger
	failer        RunFailer
	dispatchAfter time.Duration
}

// New constructs a Dispatcher.
func New(st store.Store, reg *registry.Registry, q *queue.RunQueue, failer RunFailer, log *logger.Logger, dispatchTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:         st,
		registry:      reg,
		queue:         q,
		failer:        failer,
		log:           log,
		dispatchAfter: dispatchTimeout,
	}
}

// LoadPending rebuilds the in-memory queue from the store's pending runs,
// for use on boot.
func (d *Dispatcher) LoadPending(ctx context.Context) error {
	runs, err := d.store.ListPendingRuns(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		bp, err := d.store.GetBlueprint(ctx, r.AgentName)
		var demands *model.Demands
		if err == nil {
			demands = bp.Demands
		}
		_ = d.queue.Enqueue(&queue.QueuedRun{
			RunID:     r.ID,
			AgentName: r.AgentName,
			Demands:   demands,
			CreatedAt: r.CreatedAt,
		})
	}
	return nil
}

// Enqueue adds a newly created pending run to the dispatch queue.
func (d *Dispatcher) Enqueue(run *model.Run, demands *model.Demands) error {
	return d.queue.Enqueue(&queue.QueuedRun{
		RunID:     run.ID,
		AgentName: run.AgentName,
		Demands:   demands,
		CreatedAt: run.CreatedAt,
	})
}

// ClaimNext scans the pending queue oldest-first and atomically claims the
// first run eligible for runnerID, per the §4.6 dispatch predicate. Returns
// nil, nil if nothing is currently eligible.
func (d *Dispatcher) ClaimNext(ctx context.Context, runnerID string) (*model.Run, error) {
	rn, ok := d.registry.Get(runnerID)
	if !ok {
		return nil, store.ErrNotFound
	}

	for _, qr := range d.queue.List() {
		if !registry.Declares(rn, qr.AgentName) {
			continue
		}
		if !registry.Satisfies(rn, qr.Demands) {
			continue
		}

		claimed, err := d.store.ClaimRun(ctx, qr.RunID, runnerID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			// another runner (or the sweeper) got it first; drop it from
			// our local view and keep scanning.
			d.queue.Remove(qr.RunID)
			continue
		}

		d.queue.Remove(qr.RunID)
		run, err := d.store.GetRun(ctx, qr.RunID)
		if err != nil {
			return nil, err
		}
		return run, nil
	}
	return nil, nil
}

// SweepTimeouts fails every queued run older than dispatchAfter with
// no_runner_available, per §4.6's "Timeout" rule.
func (d *Dispatcher) SweepTimeouts(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-d.dispatchAfter)
	for _, qr := range d.queue.List() {
		if qr.CreatedAt.After(cutoff) {
			break // List is oldest-first; nothing older remains
		}
		d.queue.Remove(qr.RunID)
		if err := d.failer.FailRun(ctx, qr.RunID, errors.NoRunnerAvailable().Message); err != nil {
			d.log.WithError(err).WithRunID(qr.RunID).Error("failed to fail timed-out run")
		}
	}
}

// RunSweeper runs SweepTimeouts on interval until ctx is cancelled.
func (d *Dispatcher) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SweepTimeouts(ctx)
		}
	}
}
