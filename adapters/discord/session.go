// Package discord connects the relay to Discord, both as a voice-message
// source and as a transcript destination.
package discord

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// NewSession creates a bot session with the intents needed to see voice
// messages. The caller opens and closes it.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return s, nil
}
