package whatsapp

// Frames exchanged with the bridge as JSON text messages.

const (
	frameSend  = "send"
	frameSent  = "sent"
	frameError = "error"
)

type outboundFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	To        string `json:"to"`
	Content   string `json:"content,omitempty"`
	Media     *Media `json:"media,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

type inboundFrame struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type sendReply struct {
	messageID string
	err       error
}
