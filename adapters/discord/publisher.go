package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

const embedColor = 0x5865F2

type messageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Publisher posts transcripts to a Discord channel
type Publisher struct {
	sender    messageSender
	channelID string
	logger    *zap.Logger
}

var _ repositories.RelayPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher on an open session
func NewPublisher(session *discordgo.Session, channelID string, logger *zap.Logger) (*Publisher, error) {
	if session == nil {
		return nil, errors.New("discord session is required")
	}
	return newPublisher(session, channelID, logger)
}

func newPublisher(sender messageSender, channelID string, logger *zap.Logger) (*Publisher, error) {
	if channelID == "" {
		return nil, errors.New("discord relay channel id is required")
	}
	return &Publisher{sender: sender, channelID: channelID, logger: logger}, nil
}

// Destination returns the channel id
func (p *Publisher) Destination() string {
	return p.channelID
}

// Publish sends the plain text together with an embed carrying author and time
func (p *Publisher) Publish(ctx context.Context, payload *entities.RelayPayload) error {
	channelID := payload.ChannelID
	if channelID == "" {
		channelID = p.channelID
	}

	msg, err := p.sender.ChannelMessageSendComplex(channelID, buildMessage(payload), discordgo.WithContext(ctx))
	if err != nil {
		return &domain.RelayError{
			MessageID: payload.MessageID,
			Channel:   channelID,
			Err:       fmt.Errorf("send message: %w", err),
		}
	}

	fields := []zap.Field{
		zap.String("messageId", payload.MessageID),
		zap.String("channelId", channelID),
	}
	if msg != nil {
		fields = append(fields, zap.String("discordMessageId", msg.ID))
	}
	p.logger.Info("Transcript relayed to Discord", fields...)
	return nil
}

func buildMessage(payload *entities.RelayPayload) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content: payload.Text(),
		Embeds: []*discordgo.MessageEmbed{{
			Author:      &discordgo.MessageEmbedAuthor{Name: payload.Author},
			Description: payload.Transcript,
			Timestamp:   payload.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			Color:       embedColor,
			Footer:      &discordgo.MessageEmbedFooter{Text: payload.FormattedTime()},
		}},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
}
