package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/internal/auth"
	"github.com/satriahrh/voicenote-relay/internal/listener"
	"github.com/satriahrh/voicenote-relay/internal/pipeline"
)

const testSecret = "test-secret-0123456789"

type testServer struct {
	e       *echo.Echo
	webhook *listener.Fanout
	history *pipeline.History
	token   string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	issuer, err := auth.NewIssuer(testSecret, 0)
	if err != nil {
		t.Fatalf("Failed to create issuer: %v", err)
	}
	token, _, err := issuer.GenerateBridgeToken("bridge-1")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	s := &testServer{
		e:       echo.New(),
		webhook: listener.NewFanout(listener.SourceWebhook, 4, logger),
		history: pipeline.NewHistory(10),
		token:   token,
	}
	InitRoutes(s.e, Dependencies{
		Issuer:   issuer,
		Webhook:  s.webhook,
		History:  s.history,
		Gatherer: prometheus.NewRegistry(),
	}, logger)
	return s
}

func (s *testServer) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", resp.Status)
	}
	if resp.Service != serviceName {
		t.Errorf("Expected service '%s', got '%s'", serviceName, resp.Service)
	}
}

func TestMetrics(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestPostEvent_Auth(t *testing.T) {
	s := setupTestServer(t)
	body := `{"id": "E1", "type": "ptt", "data": "SGVsbG8="}`

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "missing token", token: "", want: http.StatusUnauthorized},
		{name: "garbage token", token: "not-a-jwt", want: http.StatusUnauthorized},
		{name: "valid token", token: s.token, want: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/v1/events", body, tt.token)
			if rec.Code != tt.want {
				t.Errorf("Expected status %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPostEvent_TokenFromOtherSecret(t *testing.T) {
	s := setupTestServer(t)

	other, err := auth.NewIssuer("another-secret-0123456789", 0)
	if err != nil {
		t.Fatalf("Failed to create issuer: %v", err)
	}
	token, _, err := other.GenerateBridgeToken("bridge-2")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	rec := s.do(http.MethodPost, "/api/v1/events", `{"id": "E1", "type": "ptt", "data": "SGVsbG8="}`, token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestPostEvent(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantStatus   int
		wantAccepted bool
		wantQueued   bool
	}{
		{
			name:         "voice note accepted",
			body:         `{"id": "E1", "type": "ptt", "author": "alice", "timestamp": 1700000000, "mimetype": "audio/ogg", "data": "SGVsbG8="}`,
			wantStatus:   http.StatusAccepted,
			wantAccepted: true,
			wantQueued:   true,
		},
		{
			name:         "text message ignored",
			body:         `{"id": "E2", "type": "chat", "timestamp": 1700000000}`,
			wantStatus:   http.StatusOK,
			wantAccepted: false,
		},
		{
			name:       "missing type",
			body:       `{"id": "E3", "data": "SGVsbG8="}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad base64",
			body:       `{"id": "E4", "type": "voice", "data": "***"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed JSON",
			body:       `{"id": `,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t)

			delivered := make(chan entities.InboundVoiceNote, 1)
			if _, err := s.webhook.Subscribe(func(note entities.InboundVoiceNote) {
				delivered <- note
			}); err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				s.webhook.Run(ctx)
			}()
			defer func() {
				cancel()
				<-done
			}()

			rec := s.do(http.MethodPost, "/api/v1/events", tt.body, s.token)
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}

			if tt.wantStatus == http.StatusAccepted || tt.wantStatus == http.StatusOK {
				var ack domain.EventAck
				if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
					t.Fatalf("Failed to unmarshal ack: %v", err)
				}
				if ack.Accepted != tt.wantAccepted {
					t.Errorf("Expected accepted %v, got %v", tt.wantAccepted, ack.Accepted)
				}
			}

			select {
			case note := <-delivered:
				if !tt.wantQueued {
					t.Fatalf("Expected no delivery, got %s", note.ExternalID)
				}
				if note.ExternalID != "webhook:E1" {
					t.Errorf("Expected external id 'webhook:E1', got '%s'", note.ExternalID)
				}
			case <-time.After(200 * time.Millisecond):
				if tt.wantQueued {
					t.Fatal("Voice note not delivered within timeout")
				}
			}
		})
	}
}

func TestPostEvent_ListenerClosed(t *testing.T) {
	s := setupTestServer(t)
	s.webhook.Close()

	rec := s.do(http.MethodPost, "/api/v1/events", `{"id": "E1", "type": "ptt", "data": "SGVsbG8="}`, s.token)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}

func TestPipelines(t *testing.T) {
	s := setupTestServer(t)
	s.history.PipelineFinished(&pipeline.Instance{
		ID:        "p-1",
		MessageID: "1700000000000-abcdef01",
		Author:    "alice",
		State:     pipeline.StateCleaned,
		Outcome:   pipeline.OutcomeRelayed,
	})

	rec := s.do(http.MethodGet, "/api/v1/pipelines", "", s.token)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var list PipelinesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(list.Pipelines) != 1 || list.Pipelines[0].ID != "p-1" {
		t.Errorf("Expected pipeline p-1, got %+v", list.Pipelines)
	}

	rec = s.do(http.MethodGet, "/api/v1/pipelines/p-1", "", s.token)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	rec = s.do(http.MethodGet, "/api/v1/pipelines/missing", "", s.token)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}

	rec = s.do(http.MethodGet, "/api/v1/pipelines", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}
