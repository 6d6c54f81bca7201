package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
)

type postedMessage struct {
	Channel string
	Text    string
	Blocks  string
}

func newSlackServer(t *testing.T, response string) (*httptest.Server, func() []postedMessage) {
	t.Helper()
	var mu sync.Mutex
	var posted []postedMessage

	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("Failed to parse form: %v", err)
		}
		mu.Lock()
		posted = append(posted, postedMessage{
			Channel: r.FormValue("channel"),
			Text:    r.FormValue("text"),
			Blocks:  r.FormValue("blocks"),
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(response))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, func() []postedMessage {
		mu.Lock()
		defer mu.Unlock()
		return append([]postedMessage(nil), posted...)
	}
}

func testPayload() *entities.RelayPayload {
	return &entities.RelayPayload{
		MessageID:  "1700000000000-abcd1234",
		ChannelID:  "C123",
		Author:     "Alice",
		Timestamp:  time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local),
		Transcript: "see you at five",
	}
}

func TestNewPublisher_Validation(t *testing.T) {
	if _, err := NewPublisher(Config{ChannelID: "C1"}, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error without token")
	}
	if _, err := NewPublisher(Config{Token: "xoxb"}, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error without channel")
	}
}

func TestPublish(t *testing.T) {
	server, posted := newSlackServer(t, `{"ok":true,"channel":"C123","ts":"1700000000.000100"}`)
	p, err := NewPublisher(Config{Token: "xoxb-test", ChannelID: "C123", APIURL: server.URL + "/"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	if p.Destination() != "C123" {
		t.Errorf("Expected destination C123, got %s", p.Destination())
	}

	if err := p.Publish(context.Background(), testPayload()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msgs := posted()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Channel != "C123" {
		t.Errorf("Expected channel C123, got %s", msgs[0].Channel)
	}
	if msgs[0].Text != "[Alice] see you at five" {
		t.Errorf("Unexpected text: %q", msgs[0].Text)
	}

	var blocks []map[string]any
	if err := json.Unmarshal([]byte(msgs[0].Blocks), &blocks); err != nil {
		t.Fatalf("Failed to decode blocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0]["type"] != "section" {
		t.Fatalf("Expected one section block, got %v", blocks)
	}
	text := blocks[0]["text"].(map[string]any)
	if text["type"] != "mrkdwn" {
		t.Errorf("Expected mrkdwn text, got %v", text["type"])
	}
	want := ":bust_in_silhouette: *Alice* :alarm_clock: *3/5/2024, 2:07:09 PM*\nsee you at five"
	if text["text"] != want {
		t.Errorf("Expected %q, got %q", want, text["text"])
	}
}

func TestPublish_APIError(t *testing.T) {
	server, _ := newSlackServer(t, `{"ok":false,"error":"channel_not_found"}`)
	p, _ := NewPublisher(Config{Token: "xoxb-test", ChannelID: "C123", APIURL: server.URL + "/"}, zaptest.NewLogger(t))

	err := p.Publish(context.Background(), testPayload())
	var rerr *domain.RelayError
	if !errors.As(err, &rerr) {
		t.Fatalf("Expected RelayError, got %v", err)
	}
	if rerr.MessageID != "1700000000000-abcd1234" || rerr.Channel != "C123" {
		t.Errorf("Unexpected error fields: %+v", rerr)
	}
	if !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("Expected slack error in message, got %v", err)
	}
}

func TestPublish_Unreachable(t *testing.T) {
	server, _ := newSlackServer(t, `{}`)
	url := server.URL + "/"
	server.Close()

	p, _ := NewPublisher(Config{Token: "xoxb-test", ChannelID: "C123", APIURL: url}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var rerr *domain.RelayError
	if err := p.Publish(ctx, testPayload()); !errors.As(err, &rerr) {
		t.Errorf("Expected RelayError, got %v", err)
	}
}
