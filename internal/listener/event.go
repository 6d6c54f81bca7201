package listener

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
)

// Bridges inline the payload; anything above this is rejected
const maxInlinePayload = 32 << 20

var validate = validator.New()

// DecodeEvent validates a bridge event and turns it into an inbound voice
// note whose payload is already in memory. Events that are not voice notes
// return ErrNotVoiceNote without decoding the payload.
func DecodeEvent(source string, ev *domain.VoiceNoteEvent) (entities.InboundVoiceNote, error) {
	if err := validate.Struct(ev); err != nil {
		return entities.InboundVoiceNote{}, fmt.Errorf("invalid event: %w", err)
	}
	if !entities.IsVoiceNote(ev.Type) {
		return entities.InboundVoiceNote{}, ErrNotVoiceNote
	}
	if ev.Data == "" {
		return entities.InboundVoiceNote{}, errors.New("voice note has no data")
	}
	if base64.StdEncoding.DecodedLen(len(ev.Data)) > maxInlinePayload {
		return entities.InboundVoiceNote{}, errors.New("voice note payload too large")
	}

	audio, err := base64.StdEncoding.DecodeString(ev.Data)
	if err != nil {
		return entities.InboundVoiceNote{}, fmt.Errorf("invalid base64 payload: %w", err)
	}

	var sentAt time.Time
	if ev.Timestamp > 0 {
		sentAt = time.Unix(ev.Timestamp, 0)
	}

	var externalID string
	if ev.ID != "" {
		externalID = source + ":" + ev.ID
	}

	return entities.InboundVoiceNote{
		ExternalID: externalID,
		Type:       ev.Type,
		Author:     ev.Author,
		Timestamp:  sentAt,
		Codec:      entities.CodecFromMimeType(ev.MimeType),
		Fetch: func(ctx context.Context) ([]byte, error) {
			return audio, nil
		},
	}, nil
}
