package repositories

import (
	"context"

	"github.com/satriahrh/voicenote-relay/domain/entities"
)

// VoiceNoteHandler receives voice notes one at a time from a single dispatch
// goroutine. It must hand long-running work off instead of running it inline.
type VoiceNoteHandler func(note entities.InboundVoiceNote)

// Subscription is returned by MessageListener.Subscribe
type Subscription interface {
	Unsubscribe()
}

// MessageListener is a typed source of inbound voice notes. Events that are
// not voice notes never reach the handler.
type MessageListener interface {
	Subscribe(handler VoiceNoteHandler) (Subscription, error)
}

// DedupeStore records which platform messages have already been accepted
type DedupeStore interface {
	// Claim returns true the first time key is seen within the retention window
	Claim(ctx context.Context, key string) (bool, error)
}
