package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/orbweave/coordinator/internal/common/logger"
)

func startTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(logger.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func newTestHubClient(h *Hub, sessionID string) *Client {
	c := &Client{
		ID:        "client_" + sessionID,
		SessionID: sessionID,
		send:      make(chan []byte, sendBufferSize),
		hub:       h,
		log:       logger.Default(),
	}
	h.Register(c)
	return c
}

func waitForCount(t *testing.T, h *Hub, sessionID string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.SubscriberCount(sessionID) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s subscriber count to reach %d", sessionID, want)
}

func TestHub_BroadcastRoutesBySessionOnly(t *testing.T) {
	h := startTestHub(t)

	a := newTestHubClient(h, "ses_a")
	b := newTestHubClient(h, "ses_b")
	waitForCount(t, h, "ses_a", 1)
	waitForCount(t, h, "ses_b", 1)

	h.Broadcast("ses_a", []byte("hello"))

	select {
	case msg := <-a.send:
		if string(msg) != "hello" {
			t.Errorf("a.send got %q", msg)
		}
	case <-time.After(time.Second):
		t.Error("expected session ses_a's client to receive the broadcast")
	}

	select {
	case msg := <-b.send:
		t.Errorf("session ses_b's client should not receive ses_a's broadcast, got %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_DropTriggersOnDropCallback(t *testing.T) {
	h := startTestHub(t)

	dropped := make(chan string, 1)
	h.OnDrop = func(sessionID string) { dropped <- sessionID }

	c := &Client{ID: "full", SessionID: "ses_full", send: make(chan []byte, 1), hub: h, log: logger.Default()}
	h.Register(c)
	waitForCount(t, h, "ses_full", 1)

	c.send <- []byte("fills the one slot")
	h.Broadcast("ses_full", []byte("this one must be dropped"))

	select {
	case sessionID := <-dropped:
		if sessionID != "ses_full" {
			t.Errorf("OnDrop callback session = %q, want ses_full", sessionID)
		}
	case <-time.After(time.Second):
		t.Error("expected OnDrop to fire when the client's queue was full")
	}
}

func TestHub_UnregisterRemovesFromSession(t *testing.T) {
	h := startTestHub(t)

	c := newTestHubClient(h, "ses_x")
	waitForCount(t, h, "ses_x", 1)

	h.Unregister(c)
	waitForCount(t, h, "ses_x", 0)
}
