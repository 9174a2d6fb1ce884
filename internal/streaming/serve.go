package streaming

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/events/bus"
	"github.com/orbweave/coordinator/internal/eventlog"
)

// Server wires a Hub to the durable event log: it replays history on
// connect and forwards every subsequently published event.
type Server struct {
	hub    *Hub
	events *eventlog.Log
	log    *logger.Logger
}

// NewServer constructs a Server. hub.Run must already be running.
func NewServer(hub *Hub, events *eventlog.Log, log *logger.Logger) *Server {
	s := &Server{hub: hub, events: events, log: log}
	hub.OnDrop = func(sessionID string) {
		events.AppendGap(context.Background(), sessionID)
	}
	return s
}

// Serve upgrades conn to a stream client for sessionID, replays events
// since `since` (0 for the full history), then forwards live events until
// the connection closes. Blocks until ReadPump returns.
func (s *Server) Serve(ctx context.Context, sessionID, clientID string, conn *websocket.Conn, since int64) error {
	client := NewClient(clientID, sessionID, conn, s.hub, s.log)
	s.hub.Register(client)

	go client.WritePump()

	backlog, err := s.events.ListSince(ctx, sessionID, since)
	if err != nil {
		s.log.WithError(err).WithSessionID(sessionID).Error("failed to load replay backlog")
	}
	for _, ev := range backlog {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		client.trySend(payload)
	}

	sub, err := s.events.Subscribe(sessionID, func(_ context.Context, ev *bus.Event) error {
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			return err
		}
		s.hub.Broadcast(sessionID, payload)
		return nil
	})
	if err != nil {
		client.Close()
		return err
	}
	defer sub.Unsubscribe()

	client.ReadPump()
	return nil
}
