package repositories

import (
	"context"

	"github.com/satriahrh/voicenote-relay/domain/entities"
)

// LanguageAuto delegates language detection to the engine
const LanguageAuto = "auto"

// TranscriptionEngine abstracts speech recognition over canonical PCM
type TranscriptionEngine interface {
	// Transcribe returns the recognized segments in temporal order. An empty
	// result is not an error.
	Transcribe(ctx context.Context, audio *entities.ConversionResult, languageHint string) (*entities.TranscriptionResult, error)
}

// ModelProvisioner makes a model available on local storage
type ModelProvisioner interface {
	Ensure(ctx context.Context, name string) (entities.ModelHandle, error)
}
