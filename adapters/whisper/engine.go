// Package whisper runs transcription on a locally provisioned whisper.cpp model.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

// ErrUnavailable is returned when the binary was built without the whisper tag
var ErrUnavailable = errors.New("whisper support not compiled in (build with -tags whisper)")

// segment mirrors a decoded whisper.cpp segment
type segment struct {
	Start, End time.Duration
	Text       string
}

// decoder is one inference context on a loaded model
type decoder interface {
	SetLanguage(lang string) error
	SetThreads(n uint)
	Process(samples []float32) error
	DetectedLanguage() string
	NextSegment() (segment, error)
}

// model is a loaded whisper.cpp model
type model interface {
	NewDecoder() (decoder, error)
	Close() error
}

// Config controls inference
type Config struct {
	UseGPU  bool
	Threads uint // Optional: defaults to NumCPU when not accelerated
}

// Engine implements TranscriptionEngine on whisper.cpp
type Engine struct {
	model  model
	handle entities.ModelHandle
	config Config
	logger *zap.Logger

	// whisper_full on a shared model context is not reentrant
	mu sync.Mutex
}

var _ repositories.TranscriptionEngine = (*Engine)(nil)

// NewEngine loads the model referenced by handle
func NewEngine(handle entities.ModelHandle, config Config, logger *zap.Logger) (*Engine, error) {
	if !handle.Ready || handle.Path == "" {
		return nil, &domain.StartupError{Op: "load model", Err: fmt.Errorf("model %q is not provisioned", handle.Name)}
	}
	m, err := loadModel(handle.Path)
	if err != nil {
		return nil, &domain.StartupError{Op: "load model", Err: err}
	}
	logger.Info("Whisper model loaded",
		zap.String("model", handle.Name),
		zap.String("path", handle.Path),
		zap.Bool("gpu", config.UseGPU))
	return newEngine(m, handle, config, logger), nil
}

func newEngine(m model, handle entities.ModelHandle, config Config, logger *zap.Logger) *Engine {
	if config.Threads == 0 {
		config.Threads = threadsFor(config.UseGPU)
	}
	return &Engine{model: m, handle: handle, config: config, logger: logger}
}

func threadsFor(gpu bool) uint {
	if gpu {
		// Compute is offloaded; a few threads suffice for the CPU side
		return 4
	}
	return uint(runtime.NumCPU())
}

// Transcribe runs inference on the samples. Cancellation is only observed
// before inference starts since whisper.cpp cannot be interrupted.
func (e *Engine) Transcribe(ctx context.Context, audio *entities.ConversionResult, languageHint string) (*entities.TranscriptionResult, error) {
	if audio.SampleRate != entities.CanonicalSampleRate || audio.Channels != entities.CanonicalChannels {
		return nil, &domain.TranscriptionError{Err: fmt.Errorf("unsupported audio format %d Hz / %d ch", audio.SampleRate, audio.Channels)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &domain.TranscriptionError{Err: err}
	}

	dec, err := e.model.NewDecoder()
	if err != nil {
		return nil, &domain.TranscriptionError{Err: fmt.Errorf("failed to create context: %w", err)}
	}

	lang := strings.TrimSpace(languageHint)
	if lang == "" {
		lang = repositories.LanguageAuto
	}
	if err := dec.SetLanguage(lang); err != nil {
		return nil, &domain.TranscriptionError{Err: fmt.Errorf("invalid language %q: %w", lang, err)}
	}
	dec.SetThreads(e.config.Threads)

	started := time.Now()
	if err := dec.Process(audio.Samples); err != nil {
		return nil, &domain.TranscriptionError{Err: fmt.Errorf("inference failed: %w", err)}
	}

	result := &entities.TranscriptionResult{Language: lang}
	if lang == repositories.LanguageAuto {
		result.Language = dec.DetectedLanguage()
	}
	for {
		seg, err := dec.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.TranscriptionError{Err: fmt.Errorf("failed to read segment: %w", err)}
		}
		result.Segments = append(result.Segments, entities.Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}

	e.logger.Debug("Whisper transcription completed",
		zap.String("model", e.handle.Name),
		zap.String("language", result.Language),
		zap.Int("segments", len(result.Segments)),
		zap.Duration("audio", audio.Duration()),
		zap.Duration("elapsed", time.Since(started)))

	return result, nil
}

// Close unloads the model
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.Close()
}
