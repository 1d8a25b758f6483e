// Package events defines the typed event contracts for the gateway.
// Every event flowing through the bus or the WebSocket feed uses one of
// these types.
package events

import "time"

// --- Event Envelope ---

// Event is the universal envelope for all gateway events.
type Event struct {
	// Type identifies the event (e.g., "session.ready", "message.outbound")
	Type string `json:"type"`

	// Source identifies who emitted the event
	Source string `json:"source"`

	// Timestamp is when the event was emitted
	Timestamp time.Time `json:"timestamp"`

	// Data is the typed payload
	Data interface{} `json:"data"`
}

// New creates a timestamped event.
func New(eventType, source string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// --- Event Type Constants ---

const (
	// Session lifecycle events, one per state entered
	SessionAwaitingScan = "session.awaiting_scan"
	SessionReady        = "session.ready"
	SessionDisconnected = "session.disconnected"
	SessionAuthFailed   = "session.auth_failed"
	SessionScanSaved    = "session.scan_saved"
	SessionScanFailed   = "session.scan_failed"

	// Message flow events
	MessageOutbound = "message.outbound"
	MessageFailed   = "message.failed"
	MessageRejected = "message.rejected"

	// System events
	SystemStarted  = "system.started"
	SystemStopping = "system.stopping"
	SystemHealth   = "system.health"
)

// --- Typed Payloads ---

// SessionEventData is the payload for session lifecycle events.
type SessionEventData struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
	Path   string `json:"path,omitempty"` // scan image location
}

// MessageEventData is the payload for message flow events.
type MessageEventData struct {
	DeliveryID  string    `json:"delivery_id,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	Recipient   string    `json:"recipient"`
	ReferenceID string    `json:"reference_id,omitempty"`
	Preview     string    `json:"preview"` // truncated content
	Attachment  bool      `json:"attachment,omitempty"`
	Code        string    `json:"code,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SystemEventData is the payload for system health events.
type SystemEventData struct {
	Uptime     int64  `json:"uptime_seconds,omitempty"`
	State      string `json:"state,omitempty"`
	Ready      bool   `json:"ready"`
	Deliveries int64  `json:"deliveries,omitempty"`
	Failures   int64  `json:"failures,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Truncate shortens s to at most maxLen runes for previews.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "…"
}
