package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/internal/listener"
)

// Discord caps uploads for regular bots at 25 MiB
const maxAttachmentSize = 25 << 20

const publishTimeout = 5 * time.Second

// Listener turns Discord voice messages into inbound voice notes
type Listener struct {
	*listener.Fanout

	session *discordgo.Session
	client  *http.Client
	remove  func()
	logger  *zap.Logger
}

// NewListener creates a listener on session. Start registers the handler.
func NewListener(session *discordgo.Session, logger *zap.Logger) *Listener {
	client := session.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Listener{
		Fanout:  listener.NewFanout(listener.SourceDiscord, 0, logger),
		session: session,
		client:  client,
		logger:  logger,
	}
}

// Start registers the message handler on the session
func (l *Listener) Start() {
	l.remove = l.session.AddHandler(l.onMessageCreate)
}

// Stop removes the handler and stops dispatch
func (l *Listener) Stop() {
	if l.remove != nil {
		l.remove()
	}
	l.Fanout.Close()
}

func (l *Listener) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	note, ok := voiceNote(m.Message, l.client)
	if !ok {
		return
	}

	l.logger.Info("Voice message received",
		zap.String("externalId", note.ExternalID),
		zap.String("channelId", m.ChannelID),
		zap.String("author", note.Author))

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := l.Publish(ctx, note); err != nil {
		l.logger.Error("Failed to queue voice message",
			zap.String("externalId", note.ExternalID),
			zap.Error(err))
	}
}

// voiceNote maps a Discord voice message to an inbound note. Regular messages
// and messages without an audio attachment are ignored.
func voiceNote(m *discordgo.Message, client *http.Client) (entities.InboundVoiceNote, bool) {
	if m == nil || m.Flags&discordgo.MessageFlagsIsVoiceMessage == 0 {
		return entities.InboundVoiceNote{}, false
	}

	var att *discordgo.MessageAttachment
	for _, a := range m.Attachments {
		if a != nil && a.URL != "" && (a.ContentType == "" || strings.HasPrefix(a.ContentType, "audio/")) {
			att = a
			break
		}
	}
	if att == nil {
		return entities.InboundVoiceNote{}, false
	}

	return entities.InboundVoiceNote{
		ExternalID: "discord:" + m.ID,
		Type:       entities.EventTypeVoice,
		Author:     authorName(m),
		Timestamp:  m.Timestamp,
		Codec:      codecOf(att),
		Fetch:      attachmentFetcher(client, att.URL),
	}, true
}

func authorName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author == nil {
		return ""
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func codecOf(att *discordgo.MessageAttachment) entities.Codec {
	if att.ContentType != "" {
		return entities.CodecFromMimeType(att.ContentType)
	}
	// Voice messages are always Ogg/Opus
	return entities.CodecOggOpus
}

func attachmentFetcher(client *http.Client, url string) entities.FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to download attachment: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("attachment download returned status %d", resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		if len(data) > maxAttachmentSize {
			return nil, errors.New("attachment exceeds size limit")
		}
		if len(data) == 0 {
			return nil, errors.New("attachment is empty")
		}
		return data, nil
	}
}
