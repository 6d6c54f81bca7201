// Package listener fans inbound voice notes out to subscribers from a single
// dispatch goroutine.
package listener

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

var (
	// ErrNotVoiceNote is returned by Publish for events that are not voice notes
	ErrNotVoiceNote = errors.New("event is not a voice note")

	// ErrClosed is returned once the fanout has stopped
	ErrClosed = errors.New("listener closed")
)

const defaultQueueSize = 64

// Source names
const (
	SourceWebhook   = "webhook"
	SourceWebSocket = "websocket"
	SourceDiscord   = "discord"
)

// Fanout is a MessageListener fed by a platform source. Sources call Publish
// from any goroutine; subscribers are invoked one note at a time in arrival
// order.
type Fanout struct {
	name  string
	queue chan entities.InboundVoiceNote

	mu     sync.RWMutex
	subs   map[uint64]repositories.VoiceNoteHandler
	nextID uint64

	done      chan struct{}
	closeOnce sync.Once

	logger *zap.Logger
}

var _ repositories.MessageListener = (*Fanout)(nil)

// NewFanout creates a fanout for the named source. queueSize <= 0 uses the
// default.
func NewFanout(name string, queueSize int, logger *zap.Logger) *Fanout {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Fanout{
		name:   name,
		queue:  make(chan entities.InboundVoiceNote, queueSize),
		subs:   make(map[uint64]repositories.VoiceNoteHandler),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("listener", name)),
	}
}

// Name of the source
func (f *Fanout) Name() string {
	return f.name
}

type subscription struct {
	fanout *Fanout
	id     uint64
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.fanout.mu.Lock()
		delete(s.fanout.subs, s.id)
		s.fanout.mu.Unlock()
	})
}

// Subscribe registers handler for every subsequent voice note
func (f *Fanout) Subscribe(handler repositories.VoiceNoteHandler) (repositories.Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	select {
	case <-f.done:
		return nil, ErrClosed
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.subs[id] = handler

	return &subscription{fanout: f, id: id}, nil
}

// Publish queues a note for dispatch. Non voice-note events are rejected
// before they reach the queue. It blocks while the queue is full.
func (f *Fanout) Publish(ctx context.Context, note entities.InboundVoiceNote) error {
	if !entities.IsVoiceNote(note.Type) {
		f.logger.Debug("Dropping non voice-note event",
			zap.String("externalId", note.ExternalID),
			zap.String("type", note.Type))
		return ErrNotVoiceNote
	}
	if note.Fetch == nil {
		return errors.New("voice note has no payload")
	}

	select {
	case <-f.done:
		return ErrClosed
	default:
	}

	select {
	case f.queue <- note:
		return nil
	case <-f.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches queued notes until ctx is cancelled or Close is called
func (f *Fanout) Run(ctx context.Context) {
	f.logger.Info("Listener dispatch started")
	defer f.logger.Info("Listener dispatch stopped")

	for {
		select {
		case note := <-f.queue:
			f.dispatch(note)
		case <-ctx.Done():
			f.Close()
			return
		case <-f.done:
			return
		}
	}
}

// Close stops dispatch. Queued notes that were not yet delivered are dropped.
func (f *Fanout) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
	})
}

func (f *Fanout) dispatch(note entities.InboundVoiceNote) {
	f.mu.RLock()
	handlers := make([]repositories.VoiceNoteHandler, 0, len(f.subs))
	for id := uint64(1); id <= f.nextID; id++ {
		if h, ok := f.subs[id]; ok {
			handlers = append(handlers, h)
		}
	}
	f.mu.RUnlock()

	if len(handlers) == 0 {
		f.logger.Warn("Voice note dropped, no subscribers",
			zap.String("externalId", note.ExternalID))
		return
	}

	for _, h := range handlers {
		f.deliver(h, note)
	}
}

func (f *Fanout) deliver(h repositories.VoiceNoteHandler, note entities.InboundVoiceNote) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Voice note handler panicked",
				zap.String("externalId", note.ExternalID),
				zap.Any("panic", r))
		}
	}()
	h(note)
}
