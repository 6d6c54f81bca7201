package entities

import (
	"testing"
	"time"
)

func TestTranscriptionResult_Text(t *testing.T) {
	tests := []struct {
		name     string
		segments []Segment
		want     string
	}{
		{"no segments", nil, ""},
		{"blank segments", []Segment{{Text: " "}, {Text: ""}}, ""},
		{"single", []Segment{{Text: " hello world "}}, "hello world"},
		{"ordered join", []Segment{{Text: "hello"}, {Text: ""}, {Text: "there"}}, "hello there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &TranscriptionResult{Segments: tt.segments}
			if got := r.Text(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
			if r.IsEmpty() != (tt.want == "") {
				t.Errorf("IsEmpty mismatch for %q", tt.want)
			}
		})
	}

	var nilResult *TranscriptionResult
	if !nilResult.IsEmpty() {
		t.Error("Nil result should be empty")
	}
}

func TestConversionResult_Duration(t *testing.T) {
	conv := &ConversionResult{
		Samples:    make([]float32, 5*CanonicalSampleRate),
		SampleRate: CanonicalSampleRate,
		Channels:   CanonicalChannels,
	}
	if conv.Duration() != 5*time.Second {
		t.Errorf("Expected 5s, got %v", conv.Duration())
	}

	if (&ConversionResult{}).Duration() != 0 {
		t.Error("Expected zero duration for empty result")
	}
}

func TestNewRelayPayload(t *testing.T) {
	sentAt := time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)
	msg := &VoiceMessage{ID: "1-abc", Author: "Alice", SentAt: sentAt}

	_, err := NewRelayPayload("C123", msg, &TranscriptionResult{})
	if err == nil {
		t.Error("Expected error for empty transcript")
	}

	payload, err := NewRelayPayload("C123", msg, &TranscriptionResult{Segments: []Segment{{Text: "hi"}, {Text: "team"}}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if payload.Text() != "[Alice] hi team" {
		t.Errorf("Unexpected text %q", payload.Text())
	}

	wantMarkdown := ":bust_in_silhouette: *Alice* :alarm_clock: *3/5/2024, 2:07:09 PM*\nhi team"
	if payload.Markdown() != wantMarkdown {
		t.Errorf("Expected markdown %q, got %q", wantMarkdown, payload.Markdown())
	}

	if payload.ChannelID != "C123" || payload.MessageID != "1-abc" {
		t.Errorf("Unexpected addressing %+v", payload)
	}
}
