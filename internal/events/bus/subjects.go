package bus

import "fmt"

// SessionEventsSubject is the subject a session's event stream is
// published and subscribed on. It is the coordinator's one subject
// naming convention, centralized here so eventlog and any future bus
// consumer agree on the shape instead of building the string themselves.
func SessionEventsSubject(sessionID string) string {
	return fmt.Sprintf("coordinator.session.%s.events", sessionID)
}
