package discord

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
)

type fakeSender struct {
	channelID string
	sent      *discordgo.MessageSend
	err       error
}

func (f *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channelID = channelID
	f.sent = data
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Message{ID: "m-1"}, nil
}

func payload() *entities.RelayPayload {
	return &entities.RelayPayload{
		MessageID:  "1700000000000-abcd1234",
		Author:     "Bob",
		Timestamp:  time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
		Transcript: "running late",
	}
}

func TestNewSession(t *testing.T) {
	if _, err := NewSession(""); err == nil {
		t.Error("Expected error for empty token")
	}
	s, err := NewSession("abc")
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if s.Identify.Intents&discordgo.IntentsMessageContent == 0 {
		t.Error("Expected message content intent")
	}
}

func TestPublish(t *testing.T) {
	sender := &fakeSender{}
	p, err := newPublisher(sender, "C42", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("newPublisher failed: %v", err)
	}

	if err := p.Publish(context.Background(), payload()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if sender.channelID != "C42" {
		t.Errorf("Expected default channel C42, got %s", sender.channelID)
	}
	if sender.sent.Content != "[Bob] running late" {
		t.Errorf("Unexpected content: %q", sender.sent.Content)
	}
	embed := sender.sent.Embeds[0]
	if embed.Author.Name != "Bob" || embed.Description != "running late" {
		t.Errorf("Unexpected embed: %+v", embed)
	}
	if embed.Timestamp != "2024-01-02T09:30:00Z" {
		t.Errorf("Unexpected embed timestamp: %s", embed.Timestamp)
	}
}

func TestPublish_Error(t *testing.T) {
	p, _ := newPublisher(&fakeSender{err: errors.New("missing access")}, "C42", zaptest.NewLogger(t))

	err := p.Publish(context.Background(), payload())
	var rerr *domain.RelayError
	if !errors.As(err, &rerr) || rerr.Channel != "C42" {
		t.Errorf("Expected RelayError for C42, got %v", err)
	}
}

func TestNewPublisher_RequiresChannel(t *testing.T) {
	if _, err := newPublisher(&fakeSender{}, "", zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error without channel")
	}
}

func TestVoiceNote(t *testing.T) {
	sentAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	voice := &discordgo.Message{
		ID:        "123",
		Flags:     discordgo.MessageFlagsIsVoiceMessage,
		Timestamp: sentAt,
		Author:    &discordgo.User{ID: "u1", Username: "carol", GlobalName: "Carol"},
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn.example/voice-message.ogg", ContentType: "audio/ogg"},
		},
	}

	tests := []struct {
		name   string
		msg    *discordgo.Message
		ok     bool
		author string
	}{
		{"voice message", voice, true, "Carol"},
		{"member nick wins", func() *discordgo.Message {
			m := *voice
			m.Member = &discordgo.Member{Nick: "C-dog"}
			return &m
		}(), true, "C-dog"},
		{"plain message", &discordgo.Message{ID: "1", Author: voice.Author, Attachments: voice.Attachments}, false, ""},
		{"no attachment", &discordgo.Message{ID: "2", Flags: discordgo.MessageFlagsIsVoiceMessage, Author: voice.Author}, false, ""},
		{"image attachment", &discordgo.Message{
			ID: "3", Flags: discordgo.MessageFlagsIsVoiceMessage, Author: voice.Author,
			Attachments: []*discordgo.MessageAttachment{{URL: "https://cdn.example/a.png", ContentType: "image/png"}},
		}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			note, ok := voiceNote(tt.msg, http.DefaultClient)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			if note.Author != tt.author {
				t.Errorf("Expected author %s, got %s", tt.author, note.Author)
			}
			if note.ExternalID != "discord:123" || note.Type != entities.EventTypeVoice {
				t.Errorf("Unexpected note: %+v", note)
			}
			if note.Codec != entities.CodecOggOpus || !note.Timestamp.Equal(sentAt) {
				t.Errorf("Unexpected codec or timestamp: %+v", note)
			}
		})
	}
}

func TestAttachmentFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.ogg":
			w.Write([]byte("OggS-data"))
		case "/empty.ogg":
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	data, err := attachmentFetcher(server.Client(), server.URL+"/ok.ogg")(context.Background())
	if err != nil || string(data) != "OggS-data" {
		t.Errorf("Expected payload, got %q (%v)", data, err)
	}
	if _, err := attachmentFetcher(server.Client(), server.URL+"/missing.ogg")(context.Background()); err == nil {
		t.Error("Expected error for 404")
	}
	if _, err := attachmentFetcher(server.Client(), server.URL+"/empty.ogg")(context.Background()); err == nil {
		t.Error("Expected error for empty attachment")
	}
}

func TestListener_QueuesVoiceMessages(t *testing.T) {
	session, _ := NewSession("abc")
	l := NewListener(session, zaptest.NewLogger(t))

	got := make(chan entities.InboundVoiceNote, 1)
	l.Subscribe(func(n entities.InboundVoiceNote) { got <- n })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	l.onMessageCreate(session, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:          "9",
		Flags:       discordgo.MessageFlagsIsVoiceMessage,
		Author:      &discordgo.User{ID: "u2", Username: "dave"},
		Attachments: []*discordgo.MessageAttachment{{URL: "https://cdn.example/v.ogg"}},
	}})
	l.onMessageCreate(session, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:     "10",
		Author: &discordgo.User{ID: "bot", Bot: true},
		Flags:  discordgo.MessageFlagsIsVoiceMessage,
	}})

	select {
	case n := <-got:
		if n.ExternalID != "discord:9" || n.Author != "dave" {
			t.Errorf("Unexpected note: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for voice note")
	}
	l.Stop()
}
