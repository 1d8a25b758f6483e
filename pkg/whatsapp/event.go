package whatsapp

// EventType classifies lifecycle events emitted by the bridge.
type EventType string

const (
	EventQR           EventType = "qr"
	EventReady        EventType = "ready"
	EventAuthFailure  EventType = "auth_failure"
	EventDisconnected EventType = "disconnected"
)

// Event is a session lifecycle notification.
type Event struct {
	Type EventType
	// Payload is the credential-scan data for EventQR.
	Payload string
	// Reason explains EventAuthFailure and EventDisconnected.
	Reason string
}
