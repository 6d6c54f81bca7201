package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/satriahrh/voicenote-relay/domain"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeEvent MessageType = "event"
	MessageTypeAck   MessageType = "ack"
	MessageTypePing  MessageType = "ping"
	MessageTypePong  MessageType = "pong"
	MessageTypeError MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type" validate:"required"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// EventMessage carries one platform event pushed by the bridge
type EventMessage struct {
	BaseMessage
	Event domain.VoiceNoteEvent `json:"event"`
}

// AckMessage answers every EventMessage
type AckMessage struct {
	BaseMessage
	domain.EventAck
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator parses and validates inbound frames
type MessageValidator struct {
	validate *validator.Validate
}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{validate: validator.New()}
}

// ValidateMessage validates an incoming frame and returns the typed message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if err := v.validate.Struct(&base); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	switch base.Type {
	case MessageTypeEvent:
		var msg EventMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid event message: %w", err)
		}
		if err := v.validate.Struct(&msg.Event); err != nil {
			return nil, fmt.Errorf("invalid event: %w", err)
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func newBase(t MessageType, messageID string) BaseMessage {
	return BaseMessage{
		Type:      t,
		Timestamp: time.Now().Format(time.RFC3339),
		MessageID: messageID,
	}
}

// CreateAckMessage acknowledges an event frame
func CreateAckMessage(messageID string, ack domain.EventAck) *AckMessage {
	return &AckMessage{BaseMessage: newBase(MessageTypeAck, messageID), EventAck: ack}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError, ""),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong, ""),
		Data:        data,
	}
}
