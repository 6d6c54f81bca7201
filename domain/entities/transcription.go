package entities

import (
	"strings"
	"time"
)

// Segment is one span of recognized speech
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// TranscriptionResult is an ordered sequence of segments. An empty sequence
// means no speech was recognized.
type TranscriptionResult struct {
	Segments []Segment
	Language string
}

// Text joins the segment texts in temporal order with single spaces
func (r *TranscriptionResult) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Segments))
	for _, seg := range r.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// IsEmpty reports whether the joined text is empty
func (r *TranscriptionResult) IsEmpty() bool {
	return r.Text() == ""
}
