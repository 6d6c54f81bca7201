// Package slack relays transcripts to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

// Config holds the Slack destination
type Config struct {
	Token     string // Required: bot token
	ChannelID string // Required: destination channel
	APIURL    string // Optional: override for tests, must end with "/"
}

// Publisher posts transcripts with chat.postMessage
type Publisher struct {
	client    *slack.Client
	channelID string
	logger    *zap.Logger
}

var _ repositories.RelayPublisher = (*Publisher)(nil)

// NewPublisher creates a Slack publisher
func NewPublisher(config Config, logger *zap.Logger) (*Publisher, error) {
	if config.Token == "" {
		return nil, errors.New("slack token is required")
	}
	if config.ChannelID == "" {
		return nil, errors.New("slack channel id is required")
	}

	var opts []slack.Option
	if config.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(config.APIURL))
	}

	return &Publisher{
		client:    slack.New(config.Token, opts...),
		channelID: config.ChannelID,
		logger:    logger,
	}, nil
}

// Destination returns the channel id
func (p *Publisher) Destination() string {
	return p.channelID
}

// Publish posts the plain text fallback with a single mrkdwn section
func (p *Publisher) Publish(ctx context.Context, payload *entities.RelayPayload) error {
	channelID := payload.ChannelID
	if channelID == "" {
		channelID = p.channelID
	}

	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, payload.Markdown(), false, false),
		nil, nil,
	)

	_, ts, err := p.client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(payload.Text(), false),
		slack.MsgOptionBlocks(section),
	)
	if err != nil {
		return &domain.RelayError{
			MessageID: payload.MessageID,
			Channel:   channelID,
			Err:       fmt.Errorf("chat.postMessage: %w", err),
		}
	}

	p.logger.Info("Transcript relayed to Slack",
		zap.String("messageId", payload.MessageID),
		zap.String("channelId", channelID),
		zap.String("ts", ts))
	return nil
}
