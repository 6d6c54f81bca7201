package stt

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

// silenceRMS is the level under which a clip is treated as silent
const silenceRMS = 0.01

// MockSpeechToText is a deterministic engine for dry runs without a model
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text engine
func NewMockSpeechToText(logger *zap.Logger) repositories.TranscriptionEngine {
	return &MockSpeechToText{
		logger: logger,
	}
}

// Transcribe returns nothing for silence and a fixed phrase per started
// five seconds of audio otherwise
func (s *MockSpeechToText) Transcribe(ctx context.Context, audio *entities.ConversionResult, languageHint string) (*entities.TranscriptionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	level := rms(audio.Samples)
	s.logger.Info("Processing mock speech-to-text",
		zap.Int("samples", len(audio.Samples)),
		zap.Float64("rms", level),
		zap.String("language", languageHint))

	result := &entities.TranscriptionResult{Language: languageHint}
	if level < silenceRMS {
		return result, nil
	}

	window := 5 * audio.SampleRate
	at := func(i int) time.Duration {
		return time.Duration(i) * time.Second / time.Duration(audio.SampleRate)
	}
	for offset := 0; offset < len(audio.Samples); offset += window {
		end := offset + window
		if end > len(audio.Samples) {
			end = len(audio.Samples)
		}
		result.Segments = append(result.Segments, entities.Segment{
			Start: at(offset),
			End:   at(end),
			Text:  "voice note received",
		})
	}
	return result, nil
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
