package send

// FailureKind classifies a ValidationFailure.
type FailureKind string

const (
	MissingFields     FailureKind = "MISSING_FIELDS"
	InvalidAttachment FailureKind = "INVALID_ATTACHMENT"
	WhatsAppRejected  FailureKind = "WHATSAPP_REJECTED"
)

// Outcome is the result of one send. It is exactly one of Success,
// ValidationFailure, NotReady or DispatchFailure.
type Outcome interface {
	outcome()
}

// Success carries the network-assigned message id.
type Success struct {
	MessageID string
}

// ValidationFailure is a request rejected before dispatch. Detail is the
// client-facing message; Reason, when set, says what was wrong.
type ValidationFailure struct {
	Kind   FailureKind
	Detail string
	Reason string
}

// NotReady means the session was not Ready when the request arrived.
type NotReady struct {
	Detail string
}

// DispatchFailure is a send the client attempted but could not complete.
type DispatchFailure struct {
	Detail string
}

func (Success) outcome()           {}
func (ValidationFailure) outcome() {}
func (NotReady) outcome()          {}
func (DispatchFailure) outcome()   {}

// Kind names an outcome for logs and the delivery record.
func Kind(o Outcome) string {
	switch v := o.(type) {
	case Success:
		return "success"
	case ValidationFailure:
		return string(v.Kind)
	case NotReady:
		return "not_ready"
	case DispatchFailure:
		return "dispatch_failure"
	default:
		return "unknown"
	}
}
