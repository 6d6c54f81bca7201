package repositories

import (
	"context"

	"github.com/satriahrh/voicenote-relay/domain/entities"
)

// Scratch is a set of temporary files owned by a single pipeline run
type Scratch interface {
	// Write persists data as <token><suffix> and returns its path. Writing the
	// same suffix twice overwrites the file.
	Write(suffix string, data []byte) (string, error)
	// Path reserves <token><suffix> without creating it
	Path(suffix string) string
	// Exists reports whether <token><suffix> is currently on disk
	Exists(suffix string) bool
	// Release removes every file of the workspace. Safe to call repeatedly.
	Release() error
}

// AudioConverter turns a voice payload into mono PCM at the canonical rate
type AudioConverter interface {
	// Convert must release scratch before returning, on every path
	Convert(ctx context.Context, msg *entities.VoiceMessage, scratch Scratch) (*entities.ConversionResult, error)
}
