// Package api exposes the HTTP surface: health, metrics, the bridge webhook and
// the bridge WebSocket endpoint.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/internal/auth"
	"github.com/satriahrh/voicenote-relay/internal/listener"
	"github.com/satriahrh/voicenote-relay/internal/pipeline"
	"github.com/satriahrh/voicenote-relay/internal/websocket"
)

const (
	serviceName = "voicenote-relay"

	// Events inline base64 audio
	eventBodyLimit = "48M"

	// Time allowed to queue an accepted event before answering 503
	publishTimeout = 5 * time.Second

	bridgeIDKey = "bridgeID"
)

// Dependencies are the components the routes are wired to. Webhook and Hub are
// nil when the corresponding listener is disabled.
type Dependencies struct {
	Issuer   *auth.Issuer
	Webhook  *listener.Fanout
	Hub      *websocket.Hub
	History  *pipeline.History
	Gatherer prometheus.Gatherer
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		resp := HealthResponse{Status: "ok", Service: serviceName}
		if deps.Hub != nil {
			resp.ConnectedBridges = deps.Hub.ConnectedBridges()
		}
		return c.JSON(http.StatusOK, resp)
	})

	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	requireBridge := bridgeAuth(deps.Issuer, logger)

	// API v1 routes
	v1 := e.Group("/api/v1", requireBridge)

	if deps.Webhook != nil {
		v1.POST("/events", func(c echo.Context) error {
			return postEvent(c, deps.Webhook, logger)
		}, middleware.BodyLimit(eventBodyLimit))
	}

	if deps.History != nil {
		v1.GET("/pipelines", func(c echo.Context) error {
			return c.JSON(http.StatusOK, PipelinesResponse{Pipelines: deps.History.Recent()})
		})
		v1.GET("/pipelines/:id", func(c echo.Context) error {
			inst, ok := deps.History.Get(c.Param("id"))
			if !ok {
				return c.JSON(http.StatusNotFound, ErrorResponse{
					Error:   "not_found",
					Message: "Pipeline not found",
				})
			}
			return c.JSON(http.StatusOK, inst)
		})
	}

	// WebSocket endpoint with JWT validation
	if deps.Hub != nil {
		e.GET("/ws", func(c echo.Context) error {
			bridgeID := bridgeIDFrom(c)
			logger.Info("WebSocket connection authenticated", zap.String("bridgeId", bridgeID))
			return websocket.HandleWebSocketWithAuth(deps.Hub, c, bridgeID, logger)
		}, requireBridge)
	}
}

// bridgeAuth rejects requests without a valid bridge token in the
// Authorization header and stores the bridge id in the context
func bridgeAuth(issuer *auth.Issuer, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header",
				})
			}

			if issuer == nil {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Bridge authentication is not configured",
				})
			}

			claims, err := issuer.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.String("path", c.Path()), zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set(bridgeIDKey, claims.BridgeID)
			return next(c)
		}
	}
}

// postEvent accepts one bridge event and queues it on the webhook listener
func postEvent(c echo.Context, webhook *listener.Fanout, logger *zap.Logger) error {
	var ev domain.VoiceNoteEvent
	if err := c.Bind(&ev); err != nil {
		logger.Warn("Failed to bind event", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	note, err := listener.DecodeEvent(listener.SourceWebhook, &ev)
	if errors.Is(err, listener.ErrNotVoiceNote) {
		return c.JSON(http.StatusOK, domain.EventAck{ID: ev.ID, Reason: err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_event",
			Message: err.Error(),
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), publishTimeout)
	defer cancel()

	if err := webhook.Publish(ctx, note); err != nil {
		logger.Warn("Failed to queue voice note",
			zap.String("externalId", note.ExternalID),
			zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "unavailable",
			Message: "Voice note could not be queued",
		})
	}

	logger.Debug("Voice note queued",
		zap.String("externalId", note.ExternalID),
		zap.String("bridgeId", bridgeIDFrom(c)))
	return c.JSON(http.StatusAccepted, domain.EventAck{ID: ev.ID, Accepted: true})
}

func bridgeIDFrom(c echo.Context) string {
	id, _ := c.Get(bridgeIDKey).(string)
	return id
}
