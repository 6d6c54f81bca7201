// Package pipeline runs one voice note through persist, convert, transcribe
// and relay, isolating failures per message.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

// WorkspaceFactory returns the scratch workspace for a message token
type WorkspaceFactory func(token string) repositories.Scratch

// Config holds per-run settings
type Config struct {
	LanguageHint   string        // Required: "auto" delegates detection
	ConvertTimeout time.Duration // Required
	RelayTimeout   time.Duration // Required
}

// Orchestrator sequences the stages of a pipeline run. It holds no per-run
// state and is safe for concurrent use.
type Orchestrator struct {
	workspace WorkspaceFactory
	converter repositories.AudioConverter
	engine    repositories.TranscriptionEngine
	publisher repositories.RelayPublisher
	recorders []Recorder
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrchestrator wires the stages together
func NewOrchestrator(
	workspace WorkspaceFactory,
	converter repositories.AudioConverter,
	engine repositories.TranscriptionEngine,
	publisher repositories.RelayPublisher,
	config Config,
	logger *zap.Logger,
	recorders ...Recorder,
) (*Orchestrator, error) {
	if workspace == nil || converter == nil || engine == nil || publisher == nil {
		return nil, errors.New("workspace, converter, engine and publisher are required")
	}
	if config.LanguageHint == "" {
		config.LanguageHint = repositories.LanguageAuto
	}
	if config.ConvertTimeout <= 0 || config.RelayTimeout <= 0 {
		return nil, errors.New("stage timeouts must be positive")
	}
	return &Orchestrator{
		workspace: workspace,
		converter: converter,
		engine:    engine,
		publisher: publisher,
		recorders: recorders,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run processes msg to a terminal state and returns the record of the run.
// The scratch workspace is released on every path, including panics.
func (o *Orchestrator) Run(ctx context.Context, msg *entities.VoiceMessage) (inst *Instance) {
	inst = newInstance(uuid.NewString(), msg, o.now())
	logger := o.logger.With(
		zap.String("pipelineId", inst.ID),
		zap.String("messageId", msg.ID),
		zap.String("author", msg.Author))

	ws := o.workspace(msg.ID)
	stage := StagePersist

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in %s stage: %v", stage, r)
			logger.Error("Pipeline panicked",
				zap.String("stage", string(stage)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			if stage == StageRelay {
				inst.Outcome = OutcomeRelayFailed
				inst.Err = err
				inst.Error = err.Error()
			} else {
				inst.fail(stage, err, o.now())
			}
		}

		if err := ws.Release(); err != nil {
			logger.Warn("Failed to release scratch files", zap.Error(err))
		}

		now := o.now()
		if !inst.Failed() {
			inst.transition(StateCleaned, now)
		}
		inst.CompletedAt = &now
		o.finished(logger, inst)
	}()

	// Scratch names derive from the id; an empty payload is left for the
	// converter to reject
	if msg.ID == "" {
		inst.fail(StagePersist, errors.New("message id is required"), o.now())
		return inst
	}

	// Persist
	started := o.now()
	_, err := ws.Write(msg.Codec.Suffix(), msg.Audio)
	o.stageDone(inst, StagePersist, started, err)
	if err != nil {
		inst.fail(StagePersist, fmt.Errorf("persist raw audio: %w", err), o.now())
		return inst
	}
	inst.transition(StatePersisted, o.now())

	// Convert
	stage = StageConvert
	started = o.now()
	convCtx, cancel := context.WithTimeout(ctx, o.config.ConvertTimeout)
	conv, err := o.converter.Convert(convCtx, msg, ws)
	cancel()
	o.stageDone(inst, StageConvert, started, err)
	if err != nil {
		inst.fail(StageConvert, asConversionError(msg.ID, err), o.now())
		return inst
	}
	inst.transition(StateConverted, o.now())

	// Transcribe; the engine applies its own duration-based deadline
	stage = StageTranscribe
	started = o.now()
	result, err := o.engine.Transcribe(ctx, conv, o.config.LanguageHint)
	o.stageDone(inst, StageTranscribe, started, err)
	if err != nil {
		inst.fail(StageTranscribe, asTranscriptionError(msg.ID, err), o.now())
		return inst
	}
	inst.Transcript = result.Text()
	inst.transition(StateTranscribed, o.now())

	if result.IsEmpty() {
		inst.Outcome = OutcomeSkipped
		inst.transition(StateSkipped, o.now())
		return inst
	}

	// Relay
	stage = StageRelay
	payload, err := entities.NewRelayPayload(o.publisher.Destination(), msg, result)
	if err != nil {
		inst.Outcome = OutcomeRelayFailed
		inst.Err = err
		inst.Error = err.Error()
		return inst
	}

	inst.RelayAttempted = true
	started = o.now()
	relayCtx, cancel := context.WithTimeout(ctx, o.config.RelayTimeout)
	err = o.publisher.Publish(relayCtx, payload)
	cancel()
	o.stageDone(inst, StageRelay, started, err)
	if err != nil {
		inst.Outcome = OutcomeRelayFailed
		inst.Err = err
		inst.Error = err.Error()
		logger.Error("Relay failed", zap.String("destination", payload.ChannelID), zap.Error(err))
		return inst
	}

	inst.Outcome = OutcomeRelayed
	inst.transition(StateRelayed, o.now())
	return inst
}

func (o *Orchestrator) stageDone(inst *Instance, stage Stage, started time.Time, err error) {
	d := o.now().Sub(started)
	inst.StageDurations[stage] = d
	for _, r := range o.recorders {
		r.StageCompleted(stage, d, err)
	}
}

func (o *Orchestrator) finished(logger *zap.Logger, inst *Instance) {
	if inst.Failed() {
		logger.Error("Pipeline failed",
			zap.String("stage", string(inst.FailedStage)),
			zap.Duration("duration", inst.Duration()),
			zap.Error(inst.Err))
	} else {
		logger.Info("Pipeline completed",
			zap.String("outcome", string(inst.Outcome)),
			zap.Int("transcriptLength", len(inst.Transcript)),
			zap.Duration("duration", inst.Duration()))
	}
	for _, r := range o.recorders {
		r.PipelineFinished(inst)
	}
}

func asConversionError(messageID string, err error) error {
	var cerr *domain.ConversionError
	if errors.As(err, &cerr) {
		if cerr.MessageID == "" {
			cerr.MessageID = messageID
		}
		return err
	}
	return &domain.ConversionError{MessageID: messageID, Err: err}
}

func asTranscriptionError(messageID string, err error) error {
	var terr *domain.TranscriptionError
	if errors.As(err, &terr) {
		if terr.MessageID == "" {
			terr.MessageID = messageID
		}
		return err
	}
	return &domain.TranscriptionError{MessageID: messageID, Err: err}
}
