// Package eventlog is the durability-before-broadcast write path for
// session events (§4.2/§5): every event is appended to the store inside
// one transaction, and only once that commit returns does the log publish
// it on the internal bus for streaming subscribers.
package eventlog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/events/bus"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/store"
)

// Log durably appends events and fans them out over the bus.
type Log struct {
	store store.Store
	bus   bus.EventBus
	log   *logger.Logger
}

// New constructs a Log.
func New(st store.Store, b bus.EventBus, log *logger.Logger) *Log {
	return &Log{store: st, bus: b, log: log}
}

// Append persists ev (assigning its ID, sequence and timestamp) and then
// publishes it. Publish failures are logged, not returned: a subscriber
// that missed a live event resyncs via ListSince, so a broadcast hiccup
// must never roll back a durable write.
func (l *Log) Append(ctx context.Context, sessionID string, eventType model.EventType, runID *string, payload map[string]interface{}) (*model.Event, error) {
	ev := &model.Event{
		ID:        model.NewEventID(),
		EventType: eventType,
		RunID:     runID,
		Payload:   payload,
	}
	seq, err := l.store.AppendEvent(ctx, sessionID, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	ev.Sequence = seq

	busEvent := bus.NewEvent(string(eventType), "eventlog", map[string]interface{}{
		"id":         ev.ID,
		"session_id": ev.SessionID,
		"sequence":   ev.Sequence,
		"event_type": string(ev.EventType),
		"timestamp":  ev.Timestamp,
		"run_id":     ev.RunID,
		"payload":    ev.Payload,
	})
	if err := l.bus.Publish(ctx, bus.SessionEventsSubject(sessionID), busEvent); err != nil {
		l.log.WithError(err).WithSessionID(sessionID).Warn("failed to broadcast event; subscribers will resync via replay")
	}
	return ev, nil
}

// AppendGap publishes a synthetic gap marker on sessionID's subject when a
// subscriber's bounded queue drops events, without touching the durable
// log — the marker exists purely to tell a live consumer to replay.
func (l *Log) AppendGap(ctx context.Context, sessionID string) {
	busEvent := bus.NewEvent(string(model.EventGap), "eventlog", map[string]interface{}{
		"id":         uuid.NewString(),
		"session_id": sessionID,
		"event_type": string(model.EventGap),
	})
	if err := l.bus.Publish(ctx, bus.SessionEventsSubject(sessionID), busEvent); err != nil {
		l.log.WithError(err).WithSessionID(sessionID).Warn("failed to publish gap marker")
	}
}

// ListSince replays the durable log for a session from a sequence number,
// for GET /sessions/{id}/events?since= and for a fresh streaming
// subscriber's catch-up before switching to live delivery.
func (l *Log) ListSince(ctx context.Context, sessionID string, since int64) ([]*model.Event, error) {
	return l.store.ListEventsSince(ctx, sessionID, since)
}

// Subscribe attaches handler to sessionID's live event subject. The
// returned Subscription must be unsubscribed by the caller when the
// stream consumer disconnects.
func (l *Log) Subscribe(sessionID string, handler bus.EventHandler) (bus.Subscription, error) {
	return l.bus.Subscribe(bus.SessionEventsSubject(sessionID), handler)
}
