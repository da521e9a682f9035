// Package mqtt publishes valve events and lifecycle messages to an MQTT
// broker, with a fake publisher for tests.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/valve-panel/internal/valve"
)

// Topics holds the topic names derived from a prefix.
type Topics struct {
	// Events carries one message per valve mutation.
	Events string
	// System carries retained lifecycle messages (STARTUP, SHUTDOWN, OFFLINE).
	System string
}

// NewTopics derives the topic names from prefix, e.g. "gate-valves".
func NewTopics(prefix string) Topics {
	return Topics{
		Events: prefix + "/events",
		System: prefix + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a valve event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event valve.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a valve event.
type Payload struct {
	Valve ValvePayload `json:"valve"`
}

// ValvePayload contains the valve event details.
type ValvePayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	RelayNum  int    `json:"relay_num"`
	Name      string `json:"name"`
	State     bool   `json:"state"`
	Locked    bool   `json:"locked"`
}

// FormatPayload creates the JSON payload for a valve event.
func FormatPayload(event valve.Event) ([]byte, error) {
	payload := Payload{
		Valve: ValvePayload{
			Timestamp: event.Time.UTC().Format(time.RFC3339),
			Event:     string(event.Kind),
			RelayNum:  event.Valve.Index,
			Name:      event.Valve.Name,
			State:     event.Valve.Open,
			Locked:    event.Valve.Locked,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the payload for simple system events (LWT) that don't
// carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}
