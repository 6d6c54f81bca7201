// Package engine bounds how many transcriptions run at once and how long
// each may take.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

// Config controls admission and per-call deadlines
type Config struct {
	MaxConcurrent int64         // Required: simultaneous backend calls
	TimeoutBase   time.Duration // Required: fixed allowance per call
	TimeoutFactor float64       // Optional: extra allowance per second of audio
}

// Timeout returns the deadline for audio lasting d
func (c Config) Timeout(d time.Duration) time.Duration {
	return c.TimeoutBase + time.Duration(float64(d)*c.TimeoutFactor)
}

// Bounded wraps a TranscriptionEngine with admission control. A permit stays
// taken until the wrapped call returns, even after the caller gave up on it.
type Bounded struct {
	inner    repositories.TranscriptionEngine
	sem      *semaphore.Weighted
	config   Config
	logger   *zap.Logger
	inFlight atomic.Int64
	waiting  atomic.Int64
}

var _ repositories.TranscriptionEngine = (*Bounded)(nil)

// NewBounded creates an admission-controlled engine
func NewBounded(inner repositories.TranscriptionEngine, config Config, logger *zap.Logger) (*Bounded, error) {
	if inner == nil {
		return nil, errors.New("engine is required")
	}
	if config.MaxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent must be at least 1, got %d", config.MaxConcurrent)
	}
	if config.TimeoutBase <= 0 {
		return nil, errors.New("timeout base must be positive")
	}
	return &Bounded{
		inner:  inner,
		sem:    semaphore.NewWeighted(config.MaxConcurrent),
		config: config,
		logger: logger,
	}, nil
}

// Transcribe waits for a permit and runs the wrapped engine under a deadline
// derived from the audio duration. Waiting for the permit counts against the
// same deadline.
func (b *Bounded) Transcribe(ctx context.Context, audio *entities.ConversionResult, languageHint string) (*entities.TranscriptionResult, error) {
	timeout := b.config.Timeout(audio.Duration())
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b.waiting.Add(1)
	err := b.sem.Acquire(ctx, 1)
	b.waiting.Add(-1)
	if err != nil {
		return nil, &domain.TranscriptionError{Err: fmt.Errorf("admission: %w", err)}
	}

	type outcome struct {
		result *entities.TranscriptionResult
		err    error
	}
	done := make(chan outcome, 1)

	b.inFlight.Add(1)
	go func() {
		defer func() {
			b.inFlight.Add(-1)
			b.sem.Release(1)
		}()
		result, err := b.inner.Transcribe(ctx, audio, languageHint)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			var terr *domain.TranscriptionError
			if errors.As(o.err, &terr) {
				return nil, o.err
			}
			return nil, &domain.TranscriptionError{Err: o.err}
		}
		return o.result, nil
	case <-ctx.Done():
		b.logger.Warn("Transcription deadline exceeded, backend still running",
			zap.Duration("timeout", timeout),
			zap.Duration("audio", audio.Duration()))
		return nil, &domain.TranscriptionError{Err: ctx.Err()}
	}
}

// InFlight reports backend calls currently holding a permit
func (b *Bounded) InFlight() int64 {
	return b.inFlight.Load()
}

// Waiting reports callers blocked on admission
func (b *Bounded) Waiting() int64 {
	return b.waiting.Load()
}
