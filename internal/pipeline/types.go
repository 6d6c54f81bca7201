package pipeline

import (
	"time"

	"github.com/satriahrh/voicenote-relay/domain/entities"
)

// State of a pipeline instance
type State string

const (
	StateReceived    State = "received"
	StatePersisted   State = "persisted"
	StateConverted   State = "converted"
	StateTranscribed State = "transcribed"
	StateRelayed     State = "relayed"
	StateSkipped     State = "skipped"
	StateCleaned     State = "cleaned"
	StateFailed      State = "failed"
)

// Stage names the step a failure is attributed to
type Stage string

const (
	StageReceive    Stage = "receive"
	StagePersist    Stage = "persist"
	StageConvert    Stage = "convert"
	StageTranscribe Stage = "transcribe"
	StageRelay      Stage = "relay"
)

// Outcome of the relay decision
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeRelayed     Outcome = "relayed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeRelayFailed Outcome = "relay_failed"
)

// Transition records entering a state
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Instance is the record of one pipeline run. It is owned by the goroutine
// running it until Run returns.
type Instance struct {
	ID             string                  `json:"id"`
	MessageID      string                  `json:"message_id"`
	ExternalID     string                  `json:"external_id,omitempty"`
	Author         string                  `json:"author"`
	State          State                   `json:"state"`
	FailedStage    Stage                   `json:"failed_stage,omitempty"`
	Outcome        Outcome                 `json:"outcome,omitempty"`
	RelayAttempted bool                    `json:"relay_attempted"`
	Transcript     string                  `json:"transcript,omitempty"`
	Transitions    []Transition            `json:"transitions"`
	StageDurations map[Stage]time.Duration `json:"stage_durations"`
	StartedAt      time.Time               `json:"started_at"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
	Error          string                  `json:"error,omitempty"`

	Err error `json:"-"`
}

func newInstance(id string, msg *entities.VoiceMessage, now time.Time) *Instance {
	inst := &Instance{
		ID:             id,
		MessageID:      msg.ID,
		ExternalID:     msg.ExternalID,
		Author:         msg.Author,
		StageDurations: make(map[Stage]time.Duration),
		StartedAt:      now,
	}
	inst.transition(StateReceived, now)
	return inst
}

// FailedInstance records a note that never produced a VoiceMessage, e.g. when
// fetching its payload failed.
func FailedInstance(id string, note entities.InboundVoiceNote, err error, now time.Time) *Instance {
	inst := &Instance{
		ID:             id,
		ExternalID:     note.ExternalID,
		Author:         note.Author,
		StageDurations: make(map[Stage]time.Duration),
		StartedAt:      now,
	}
	inst.transition(StateReceived, now)
	inst.fail(StageReceive, err, now)
	inst.CompletedAt = &now
	return inst
}

func (i *Instance) transition(s State, at time.Time) {
	i.State = s
	i.Transitions = append(i.Transitions, Transition{State: s, At: at})
}

func (i *Instance) fail(stage Stage, err error, at time.Time) {
	i.FailedStage = stage
	i.Err = err
	if err != nil {
		i.Error = err.Error()
	}
	i.transition(StateFailed, at)
}

// Failed reports whether the run ended in Failed(stage)
func (i *Instance) Failed() bool {
	return i.State == StateFailed
}

// Visited reports whether the run ever entered s
func (i *Instance) Visited(s State) bool {
	for _, t := range i.Transitions {
		if t.State == s {
			return true
		}
	}
	return false
}

// Duration of the whole run, zero while running
func (i *Instance) Duration() time.Duration {
	if i.CompletedAt == nil {
		return 0
	}
	return i.CompletedAt.Sub(i.StartedAt)
}

// Recorder observes pipeline progress
type Recorder interface {
	StageCompleted(stage Stage, d time.Duration, err error)
	PipelineFinished(inst *Instance)
}
