package domain

// VoiceNoteEvent is the wire shape of an inbound platform event as pushed by a
// messaging bridge over the webhook or the bridge socket.
type VoiceNoteEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type" validate:"required"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp" validate:"min=0"` // seconds since epoch
	MimeType  string `json:"mimetype"`
	Data      string `json:"data"` // base64 encoded audio
}

// EventAck is returned to the bridge for every event it pushes
type EventAck struct {
	ID       string `json:"id,omitempty"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
