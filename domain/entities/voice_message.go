package entities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Inbound event types that carry a push-to-talk voice note
const (
	EventTypePTT   = "ptt"
	EventTypeVoice = "voice"
)

// Codec describes the container/codec of a raw voice payload
type Codec string

const (
	CodecOggOpus Codec = "ogg/opus"
	CodecMP4AAC  Codec = "mp4/aac"
	CodecMPEG    Codec = "mpeg"
	CodecWebM    Codec = "webm/opus"
	CodecUnknown Codec = "unknown"
)

// CodecFromMimeType maps a platform mimetype such as "audio/ogg; codecs=opus"
// to a Codec.
func CodecFromMimeType(mimeType string) Codec {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "audio/ogg"), strings.HasPrefix(mt, "application/ogg"):
		return CodecOggOpus
	case strings.HasPrefix(mt, "audio/mp4"), strings.HasPrefix(mt, "audio/aac"), strings.HasPrefix(mt, "audio/x-m4a"):
		return CodecMP4AAC
	case strings.HasPrefix(mt, "audio/mpeg"), strings.HasPrefix(mt, "audio/mp3"):
		return CodecMPEG
	case strings.HasPrefix(mt, "audio/webm"):
		return CodecWebM
	default:
		return CodecUnknown
	}
}

// Suffix is the scratch file suffix used when persisting a payload of this codec
func (c Codec) Suffix() string {
	switch c {
	case CodecOggOpus:
		return ".ogg"
	case CodecMP4AAC:
		return ".m4a"
	case CodecMPEG:
		return ".mp3"
	case CodecWebM:
		return ".webm"
	default:
		return ".raw"
	}
}

// FetchFunc retrieves the raw audio payload of an inbound note
type FetchFunc func(ctx context.Context) ([]byte, error)

// InboundVoiceNote is what a listener hands to its subscribers. The payload is
// fetched lazily so the dispatch loop never waits on a download.
type InboundVoiceNote struct {
	ExternalID string
	Type       string
	Author     string
	Timestamp  time.Time
	Codec      Codec
	Fetch      FetchFunc
}

// IsVoiceNote reports whether an inbound event type is a voice note
func IsVoiceNote(eventType string) bool {
	switch strings.ToLower(eventType) {
	case EventTypePTT, EventTypeVoice:
		return true
	}
	return false
}

// VoiceMessage is a received voice note together with its raw audio
type VoiceMessage struct {
	ID         string
	ExternalID string
	Author     string
	ReceivedAt time.Time
	SentAt     time.Time
	Audio      []byte
	Codec      Codec
}

// NewVoiceMessage builds a VoiceMessage whose ID is derived from the arrival
// time in milliseconds plus a random suffix.
func NewVoiceMessage(note InboundVoiceNote, audio []byte, receivedAt time.Time) *VoiceMessage {
	sentAt := note.Timestamp
	if sentAt.IsZero() {
		sentAt = receivedAt
	}

	author := strings.TrimSpace(note.Author)
	if author == "" {
		author = "unknown"
	}

	codec := note.Codec
	if codec == "" {
		codec = CodecUnknown
	}

	data := make([]byte, len(audio))
	copy(data, audio)

	return &VoiceMessage{
		ID:         NewMessageID(receivedAt),
		ExternalID: note.ExternalID,
		Author:     author,
		ReceivedAt: receivedAt,
		SentAt:     sentAt,
		Audio:      data,
		Codec:      codec,
	}
}

// NewMessageID returns "<unix ms>-<8 hex>"
func NewMessageID(at time.Time) string {
	return fmt.Sprintf("%d-%s", at.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
