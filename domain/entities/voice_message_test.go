package entities

import (
	"strings"
	"testing"
	"time"
)

func TestCodecFromMimeType(t *testing.T) {
	tests := []struct {
		mimeType string
		want     Codec
		suffix   string
	}{
		{"audio/ogg; codecs=opus", CodecOggOpus, ".ogg"},
		{"AUDIO/OGG", CodecOggOpus, ".ogg"},
		{"audio/mp4", CodecMP4AAC, ".m4a"},
		{"audio/mpeg", CodecMPEG, ".mp3"},
		{"audio/webm;codecs=opus", CodecWebM, ".webm"},
		{"", CodecUnknown, ".raw"},
		{"application/octet-stream", CodecUnknown, ".raw"},
	}

	for _, tt := range tests {
		got := CodecFromMimeType(tt.mimeType)
		if got != tt.want {
			t.Errorf("CodecFromMimeType(%q): expected %s, got %s", tt.mimeType, tt.want, got)
		}
		if got.Suffix() != tt.suffix {
			t.Errorf("Suffix for %q: expected %s, got %s", tt.mimeType, tt.suffix, got.Suffix())
		}
	}
}

func TestIsVoiceNote(t *testing.T) {
	for _, typ := range []string{"ptt", "PTT", "voice"} {
		if !IsVoiceNote(typ) {
			t.Errorf("Expected %q to be a voice note", typ)
		}
	}
	for _, typ := range []string{"chat", "image", "audio", ""} {
		if IsVoiceNote(typ) {
			t.Errorf("Expected %q not to be a voice note", typ)
		}
	}
}

func TestNewVoiceMessage(t *testing.T) {
	receivedAt := time.UnixMilli(1700000000123)
	sentAt := time.Unix(1699999999, 0)
	audio := []byte{1, 2, 3}

	msg := NewVoiceMessage(InboundVoiceNote{
		ExternalID: "ext-1",
		Author:     "  Alice ",
		Timestamp:  sentAt,
		Codec:      CodecOggOpus,
	}, audio, receivedAt)

	if !strings.HasPrefix(msg.ID, "1700000000123-") {
		t.Errorf("Expected ID derived from arrival time, got %s", msg.ID)
	}
	if len(msg.ID) != len("1700000000123-")+8 {
		t.Errorf("Expected 8 character suffix, got %s", msg.ID)
	}
	if msg.Author != "Alice" {
		t.Errorf("Expected author Alice, got %q", msg.Author)
	}
	if !msg.SentAt.Equal(sentAt) {
		t.Errorf("Expected sentAt %v, got %v", sentAt, msg.SentAt)
	}

	// payload is copied
	audio[0] = 9
	if msg.Audio[0] != 1 {
		t.Error("Expected audio to be copied on construction")
	}
}

func TestNewVoiceMessage_Defaults(t *testing.T) {
	receivedAt := time.Now()
	msg := NewVoiceMessage(InboundVoiceNote{}, nil, receivedAt)

	if msg.Author != "unknown" {
		t.Errorf("Expected default author, got %q", msg.Author)
	}
	if !msg.SentAt.Equal(receivedAt) {
		t.Error("Expected sentAt to fall back to arrival time")
	}
	if msg.Codec != CodecUnknown {
		t.Errorf("Expected unknown codec, got %s", msg.Codec)
	}
	if len(msg.Audio) != 0 {
		t.Errorf("Expected empty audio, got %d bytes", len(msg.Audio))
	}
}

func TestNewMessageID_Unique(t *testing.T) {
	at := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID(at)
		if seen[id] {
			t.Fatalf("Duplicate message id %s", id)
		}
		seen[id] = true
	}
}
