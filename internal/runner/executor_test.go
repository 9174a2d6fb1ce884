package runner

import (
	"testing"

	"github.com/orbweave/coordinator/internal/api"
	"github.com/orbweave/coordinator/internal/model"
)

type recordingSink struct {
	events []model.EventType
}

func (s *recordingSink) Emit(eventType model.EventType, payload map[string]interface{}) {
	s.events = append(s.events, eventType)
}

func TestNoopExecutor_Execute(t *testing.T) {
	claimed := &ClaimedRun{
		Run: api.RunResponse{
			ID:         "run_1",
			AgentName:  "reviewer",
			Parameters: map[string]interface{}{"repo": "acme/widgets"},
		},
	}
	sink := &recordingSink{}

	result, err := (&NoopExecutor{}).Execute(t.Context(), claimed, sink)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.ResultText == nil || *result.ResultText == "" {
		t.Fatal("expected non-empty result text")
	}
	if len(sink.events) == 0 || sink.events[0] != model.EventMessage {
		t.Fatalf("expected a message event to be emitted, got %v", sink.events)
	}
}
