package stt

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

// Synchronous recognition accepts at most one minute of audio per request
const maxWindow = 55 * time.Second

// recognizer is the subset of the Cloud Speech client used here
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
}

// GoogleConfig configures the Cloud Speech backend
type GoogleConfig struct {
	Model            string // Optional: recognition model, e.g. "latest_long"
	FallbackLanguage string // Required: language code used when the hint is "auto"
}

// GoogleSpeechToText implements TranscriptionEngine for Google Cloud
type GoogleSpeechToText struct {
	client recognizer
	closer func() error
	config GoogleConfig
	logger *zap.Logger
}

var _ repositories.TranscriptionEngine = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates the Cloud Speech client. It relies on
// Application Default Credentials.
func NewGoogleSpeechToText(ctx context.Context, config GoogleConfig, logger *zap.Logger) (*GoogleSpeechToText, error) {
	if config.FallbackLanguage == "" {
		return nil, fmt.Errorf("fallback language is required")
	}
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{
		client: client,
		closer: client.Close,
		config: config,
		logger: logger,
	}, nil
}

// Close releases the client connection
func (g *GoogleSpeechToText) Close() error {
	if g.closer != nil {
		return g.closer()
	}
	return nil
}

// Transcribe recognizes the audio in windows of up to 55 seconds and returns
// one segment per final result.
func (g *GoogleSpeechToText) Transcribe(ctx context.Context, audio *entities.ConversionResult, languageHint string) (*entities.TranscriptionResult, error) {
	if audio.SampleRate != entities.CanonicalSampleRate || audio.Channels != entities.CanonicalChannels {
		return nil, &domain.TranscriptionError{Err: fmt.Errorf("unsupported audio format %d Hz / %d ch", audio.SampleRate, audio.Channels)}
	}

	language := g.languageCode(languageHint)
	windowSamples := int(maxWindow.Seconds()) * audio.SampleRate
	result := &entities.TranscriptionResult{Language: language}

	for offset := 0; offset < len(audio.Samples); offset += windowSamples {
		end := offset + windowSamples
		if end > len(audio.Samples) {
			end = len(audio.Samples)
		}
		base := time.Duration(offset) * time.Second / time.Duration(audio.SampleRate)

		resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
			Config: &speechpb.RecognitionConfig{
				Encoding:                   speechpb.RecognitionConfig_LINEAR16,
				SampleRateHertz:            int32(audio.SampleRate),
				AudioChannelCount:          int32(audio.Channels),
				LanguageCode:               language,
				Model:                      g.config.Model,
				EnableAutomaticPunctuation: true,
			},
			Audio: &speechpb.RecognitionAudio{
				AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm16(audio.Samples[offset:end])},
			},
		})
		if err != nil {
			return nil, &domain.TranscriptionError{Err: fmt.Errorf("recognize failed: %w", err)}
		}

		start := base
		for _, r := range resp.GetResults() {
			if len(r.GetAlternatives()) == 0 {
				continue
			}
			// Take the best alternative
			text := strings.TrimSpace(r.GetAlternatives()[0].GetTranscript())
			segEnd := base + r.GetResultEndTime().AsDuration()
			if text != "" {
				result.Segments = append(result.Segments, entities.Segment{Start: start, End: segEnd, Text: text})
			}
			start = segEnd
		}
	}

	g.logger.Debug("Google transcription completed",
		zap.String("language", language),
		zap.Int("segments", len(result.Segments)))

	return result, nil
}

// languageCode maps the configured hint to a BCP-47 code Cloud Speech accepts
func (g *GoogleSpeechToText) languageCode(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" || strings.EqualFold(hint, repositories.LanguageAuto) {
		return g.config.FallbackLanguage
	}
	return hint
}

// pcm16 encodes float samples as little-endian signed 16-bit PCM
func pcm16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return out
}
