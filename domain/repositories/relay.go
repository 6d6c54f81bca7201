package repositories

import (
	"context"

	"github.com/satriahrh/voicenote-relay/domain/entities"
)

// RelayPublisher posts a transcript to the destination channel
type RelayPublisher interface {
	Publish(ctx context.Context, payload *entities.RelayPayload) error
	// Destination is the configured channel identifier
	Destination() string
}
