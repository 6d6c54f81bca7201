package entities

import (
	"errors"
	"fmt"
	"time"
)

// RelayTimeLayout renders the note timestamp in relayed messages
const RelayTimeLayout = "1/2/2006, 3:04:05 PM"

// RelayPayload is a formatted transcript addressed to the destination channel
type RelayPayload struct {
	MessageID  string
	ChannelID  string
	Author     string
	Timestamp  time.Time
	Transcript string
}

// NewRelayPayload builds the payload for a non-empty transcription
func NewRelayPayload(channelID string, msg *VoiceMessage, result *TranscriptionResult) (*RelayPayload, error) {
	if result.IsEmpty() {
		return nil, errors.New("transcript is empty")
	}
	return &RelayPayload{
		MessageID:  msg.ID,
		ChannelID:  channelID,
		Author:     msg.Author,
		Timestamp:  msg.SentAt,
		Transcript: result.Text(),
	}, nil
}

// Text is the plain fallback text: "[author] transcript"
func (p *RelayPayload) Text() string {
	return fmt.Sprintf("[%s] %s", p.Author, p.Transcript)
}

// FormattedTime is the note timestamp in local time
func (p *RelayPayload) FormattedTime() string {
	return p.Timestamp.Local().Format(RelayTimeLayout)
}

// Markdown is the rich block body combining author, time and transcript
func (p *RelayPayload) Markdown() string {
	return fmt.Sprintf(":bust_in_silhouette: *%s* :alarm_clock: *%s*\n%s", p.Author, p.FormattedTime(), p.Transcript)
}
