package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
	"github.com/satriahrh/voicenote-relay/internal/pipeline"
)

const claimTimeout = 2 * time.Second

// PipelineRunner runs one voice message to a terminal state
type PipelineRunner interface {
	Run(ctx context.Context, msg *entities.VoiceMessage) *pipeline.Instance
}

// Observer is notified about intake events
type Observer interface {
	NoteReceived(listener string)
	NoteDuplicate()
	FetchFailed()
	PipelineStarted()
	PipelineDone()
}

// Source is a listener together with the name used in logs and metrics
type Source struct {
	Name     string
	Listener repositories.MessageListener
}

// RelayServiceConfig holds intake settings
type RelayServiceConfig struct {
	FetchTimeout time.Duration
}

// RelayService connects listeners to the pipeline. Every delivered note is
// handed to its own goroutine so the listener's dispatch loop never waits on
// a download or a transcription.
type RelayService struct {
	runner    PipelineRunner
	dedupe    repositories.DedupeStore
	observer  Observer
	recorders []pipeline.Recorder
	config    RelayServiceConfig
	logger    *zap.Logger

	mu      sync.Mutex
	subs    []repositories.Subscription
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRelayService creates the service. dedupe and observer may be nil.
// recorders receive runs that failed before a pipeline could start.
func NewRelayService(
	runner PipelineRunner,
	dedupe repositories.DedupeStore,
	observer Observer,
	config RelayServiceConfig,
	logger *zap.Logger,
	recorders ...pipeline.Recorder,
) *RelayService {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = time.Minute
	}
	return &RelayService{
		runner:    runner,
		dedupe:    dedupe,
		observer:  observer,
		recorders: recorders,
		config:    config,
		logger:    logger,
	}
}

// Start subscribes to every source. Pipelines run under ctx; cancelling it
// aborts in-flight stages.
func (s *RelayService) Start(ctx context.Context, sources ...Source) error {
	if len(sources) == 0 {
		return errors.New("at least one listener is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return errors.New("relay service already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, src := range sources {
		sub, err := src.Listener.Subscribe(s.handler(src.Name))
		if err != nil {
			for _, prev := range s.subs {
				prev.Unsubscribe()
			}
			s.subs = nil
			s.cancel()
			s.ctx, s.cancel = nil, nil
			return fmt.Errorf("failed to subscribe to %s: %w", src.Name, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("Subscribed to listener", zap.String("listener", src.Name))
	}
	return nil
}

// Stop unsubscribes from all listeners and drops notes that are still being
// dispatched. In-flight pipelines keep running.
func (s *RelayService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

// Wait blocks until in-flight pipelines finish. When ctx expires first the
// remaining pipelines are cancelled and ctx's error is returned.
func (s *RelayService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *RelayService) handler(source string) repositories.VoiceNoteHandler {
	return func(note entities.InboundVoiceNote) {
		receivedAt := time.Now()

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			s.logger.Warn("Voice note dropped during shutdown",
				zap.String("listener", source),
				zap.String("externalId", note.ExternalID))
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()

		s.logger.Info("Voice note received",
			zap.String("listener", source),
			zap.String("externalId", note.ExternalID),
			zap.String("author", note.Author),
			zap.String("codec", string(note.Codec)))
		if s.observer != nil {
			s.observer.NoteReceived(source)
		}

		go s.process(note, receivedAt)
	}
}

func (s *RelayService) process(note entities.InboundVoiceNote, receivedAt time.Time) {
	defer s.wg.Done()
	if s.observer != nil {
		s.observer.PipelineStarted()
		defer s.observer.PipelineDone()
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Voice note intake panicked",
				zap.String("externalId", note.ExternalID),
				zap.Any("panic", r))
		}
	}()

	logger := s.logger.With(zap.String("externalId", note.ExternalID))

	if !s.claim(logger, note.ExternalID) {
		logger.Info("Duplicate voice note dropped")
		if s.observer != nil {
			s.observer.NoteDuplicate()
		}
		return
	}

	fetchCtx, cancel := context.WithTimeout(s.ctx, s.config.FetchTimeout)
	audio, err := note.Fetch(fetchCtx)
	cancel()
	if err != nil {
		inst := pipeline.FailedInstance(uuid.NewString(), note, fmt.Errorf("fetch payload: %w", err), time.Now())
		logger.Error("Pipeline failed",
			zap.String("pipelineId", inst.ID),
			zap.String("stage", string(inst.FailedStage)),
			zap.Error(inst.Err))
		if s.observer != nil {
			s.observer.FetchFailed()
		}
		for _, r := range s.recorders {
			r.PipelineFinished(inst)
		}
		return
	}

	msg := entities.NewVoiceMessage(note, audio, receivedAt)
	s.runner.Run(s.ctx, msg)
}

// claim fails open: a dedupe outage must not stop relaying
func (s *RelayService) claim(logger *zap.Logger, key string) bool {
	if s.dedupe == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(s.ctx, claimTimeout)
	defer cancel()

	ok, err := s.dedupe.Claim(ctx, key)
	if err != nil {
		logger.Warn("Dedupe store unavailable, accepting voice note", zap.Error(err))
		return true
	}
	return ok
}
