package telemetry

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes each event as JSON to subject "telemetry.<event>",
// mirroring the teacher's Client.PublishJSON convention.
type NATSSink struct {
	conn *nats.Conn
}

// NewNATSSink wraps an already-connected NATS client.
func NewNATSSink(conn *nats.Conn) *NATSSink {
	return &NATSSink{conn: conn}
}

// Emit marshals event and publishes it. A publish failure is logged and
// returned to the caller, which treats telemetry delivery as best-effort and
// never lets it fail the operation the event describes.
func (s *NATSSink) Emit(event TelemetryEvent) error {
	subject := fmt.Sprintf("telemetry.%s", event.Kind)

	var payload interface{}
	switch event.Kind {
	case EventAgentExecution:
		payload = event.AgentExecution
	case EventError:
		payload = event.Error
	case EventSkillFeedback:
		payload = event.SkillFeedback
	default:
		return fmt.Errorf("unknown telemetry event kind %q", event.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[TELEMETRY] failed to marshal event for %s: %v", subject, err)
		return fmt.Errorf("marshal telemetry event: %w", err)
	}
	if err := s.conn.Publish(subject, data); err != nil {
		log.Printf("[TELEMETRY] failed to publish to %s: %v", subject, err)
		return fmt.Errorf("publish telemetry event: %w", err)
	}
	return nil
}
