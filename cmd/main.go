package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/adapters"
	"github.com/satriahrh/voicenote-relay/adapters/discord"
	"github.com/satriahrh/voicenote-relay/adapters/ffmpeg"
	"github.com/satriahrh/voicenote-relay/adapters/redis"
	"github.com/satriahrh/voicenote-relay/adapters/slack"
	"github.com/satriahrh/voicenote-relay/adapters/stt"
	"github.com/satriahrh/voicenote-relay/adapters/whisper"
	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
	"github.com/satriahrh/voicenote-relay/internal/api"
	"github.com/satriahrh/voicenote-relay/internal/auth"
	"github.com/satriahrh/voicenote-relay/internal/config"
	"github.com/satriahrh/voicenote-relay/internal/engine"
	"github.com/satriahrh/voicenote-relay/internal/listener"
	"github.com/satriahrh/voicenote-relay/internal/metrics"
	"github.com/satriahrh/voicenote-relay/internal/pipeline"
	"github.com/satriahrh/voicenote-relay/internal/provision"
	"github.com/satriahrh/voicenote-relay/internal/scratch"
	"github.com/satriahrh/voicenote-relay/internal/websocket"
	"github.com/satriahrh/voicenote-relay/usecase"
)

const (
	shutdownTimeout = 30 * time.Second
	historySize     = 200
)

func main() {
	// .env and the environment are read before the logger so LOG_DEVELOPMENT applies
	cfg, cfgErr := config.Load()

	var logger *zap.Logger
	if cfg != nil && cfg.LogDevelopment {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	if cfgErr != nil {
		logger.Error("Invalid configuration", zap.Error(&domain.StartupError{Op: "config", Err: cfgErr}))
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting voicenote-relay",
		zap.String("engine", cfg.EngineBackend),
		zap.String("relay", cfg.RelayBackend),
		zap.String("relayChannel", cfg.RelayChannelID()),
		zap.Strings("listeners", cfg.Listeners))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("Failed to close resource", zap.Error(err))
			}
		}
	}()

	// Scratch directory
	scratchDir, err := scratch.NewDir(cfg.ScratchDir, logger)
	if err != nil {
		return &domain.StartupError{Op: "scratch", Err: err}
	}
	if removed, err := scratchDir.Sweep(); err != nil {
		logger.Warn("Failed to sweep scratch dir", zap.Error(err))
	} else if removed > 0 {
		logger.Info("Removed leftover scratch files", zap.Int("count", removed))
	}
	janitor := scratch.NewJanitor(scratchDir, cfg.ScratchMaxAge, 0, logger)
	janitor.Start()
	defer janitor.Stop()

	// Audio converter
	converter := ffmpeg.NewConverter(ffmpeg.Config{
		Binary:  cfg.FFmpegPath,
		Timeout: cfg.ConvertTimeout,
	}, logger)
	if err := converter.CheckBinary(); err != nil {
		return &domain.StartupError{Op: "ffmpeg", Err: err}
	}

	// Transcription engine, provisioned once before any listener starts
	backend, closer, err := newTranscriptionEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	bounded, err := engine.NewBounded(backend, engine.Config{
		MaxConcurrent: cfg.MaxTranscriptions,
		TimeoutBase:   cfg.TranscribeBase,
		TimeoutFactor: cfg.TranscribeFactor,
	}, logger)
	if err != nil {
		return &domain.StartupError{Op: "engine", Err: err}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	m.ObserveAdmission(bounded)

	// Discord session, shared by the discord relay and the discord listener
	var session *discordgo.Session
	if cfg.RelayBackend == config.RelayDiscord || cfg.HasListener(config.ListenerDiscord) {
		session, err = discord.NewSession(cfg.DiscordToken)
		if err != nil {
			return &domain.StartupError{Op: "discord", Err: err}
		}
	}

	// Relay publisher
	publisher, err := newPublisher(cfg, session, logger)
	if err != nil {
		return &domain.StartupError{Op: "relay", Err: err}
	}

	// Dedupe store
	dedupe, err := newDedupeStore(ctx, cfg, logger)
	if err != nil {
		return &domain.StartupError{Op: "dedupe", Err: err}
	}
	if c, ok := dedupe.(io.Closer); ok {
		closers = append(closers, c)
	}

	// Pipeline
	history := pipeline.NewHistory(historySize)
	orchestrator, err := pipeline.NewOrchestrator(
		func(token string) repositories.Scratch { return scratchDir.Workspace(token) },
		converter,
		bounded,
		publisher,
		pipeline.Config{
			LanguageHint:   cfg.Language,
			ConvertTimeout: cfg.ConvertTimeout,
			RelayTimeout:   cfg.RelayTimeout,
		},
		logger,
		m, history,
	)
	if err != nil {
		return &domain.StartupError{Op: "pipeline", Err: err}
	}
	relay := usecase.NewRelayService(orchestrator, dedupe, m,
		usecase.RelayServiceConfig{FetchTimeout: cfg.FetchTimeout}, logger, m, history)

	// Listeners
	var (
		sources []listenerSource
		webhook *listener.Fanout
		hub     *websocket.Hub
		dl      *discord.Listener
	)
	if cfg.HasListener(config.ListenerWebhook) {
		webhook = listener.NewFanout(listener.SourceWebhook, 0, logger)
		sources = append(sources, listenerSource{
			Source: usecase.Source{Name: webhook.Name(), Listener: webhook},
			run:    webhook.Run,
		})
	}
	if cfg.HasListener(config.ListenerWebSocket) {
		hub = websocket.NewHub(0, logger)
		sources = append(sources, listenerSource{
			Source: usecase.Source{Name: hub.Name(), Listener: hub},
			run:    hub.Run,
		})
	}
	if cfg.HasListener(config.ListenerDiscord) {
		dl = discord.NewListener(session, logger)
		sources = append(sources, listenerSource{
			Source: usecase.Source{Name: dl.Name(), Listener: dl},
			run:    dl.Run,
		})
	}

	// pipelines outlive the signal; Wait cancels them at the shutdown deadline
	if err := startListeners(ctx, context.Background(), relay, sources); err != nil {
		return &domain.StartupError{Op: "relay service", Err: err}
	}

	// platform events only flow once the relay is subscribed
	if dl != nil {
		dl.Start()
		defer dl.Stop()
	}
	if session != nil {
		if err := session.Open(); err != nil {
			relay.Stop()
			return &domain.StartupError{Op: "discord", Err: fmt.Errorf("failed to open session: %w", err)}
		}
		defer session.Close()
	}

	// HTTP surface
	var issuer *auth.Issuer
	if cfg.BridgeJWTSecret != "" {
		issuer, err = auth.NewIssuer(cfg.BridgeJWTSecret, 0)
		if err != nil {
			return &domain.StartupError{Op: "auth", Err: err}
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	api.InitRoutes(e, api.Dependencies{
		Issuer:   issuer,
		Webhook:  webhook,
		Hub:      hub,
		History:  history,
		Gatherer: registry,
	}, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("Listening", zap.String("port", cfg.Port))

	select {
	case <-ctx.Done():
		logger.Info("Server is shutting down...")
	case err := <-serverErr:
		relay.Stop()
		return &domain.StartupError{Op: "http", Err: err}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	relay.Stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := relay.Wait(shutdownCtx); err != nil {
		logger.Warn("Pipelines did not finish before shutdown", zap.Error(err))
	}
	return nil
}

// listenerSource is a relay source together with its dispatch loop
type listenerSource struct {
	usecase.Source
	run func(ctx context.Context)
}

// startListeners subscribes the relay to every source before any of them
// dispatches, so no queued note is delivered to an empty subscriber set.
// Dispatch stops with listenCtx; pipelines run under pipelineCtx.
func startListeners(listenCtx, pipelineCtx context.Context, relay *usecase.RelayService, sources []listenerSource) error {
	plain := make([]usecase.Source, 0, len(sources))
	for _, src := range sources {
		plain = append(plain, src.Source)
	}
	if err := relay.Start(pipelineCtx, plain...); err != nil {
		return err
	}
	for _, src := range sources {
		go src.run(listenCtx)
	}
	return nil
}

// newTranscriptionEngine provisions the model and builds the configured backend
func newTranscriptionEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.TranscriptionEngine, io.Closer, error) {
	switch cfg.EngineBackend {
	case config.EngineWhisper:
		// fail before a possibly large model download that could never be loaded
		if !whisper.Available() {
			return nil, nil, &domain.StartupError{Op: "whisper", Err: whisper.ErrUnavailable}
		}
		provisioner := provision.NewProvisioner(provision.Config{
			OverridePath: cfg.WhisperLocalModelPath,
			CacheDir:     cfg.ModelCacheDir,
			BaseURL:      cfg.ModelBaseURL,
			Timeout:      cfg.ModelDownloadTimeout,
		}, logger)
		handle, err := provisioner.Ensure(ctx, cfg.WhisperModel)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Model ready",
			zap.String("model", handle.Name),
			zap.String("path", handle.Path))

		eng, err := whisper.NewEngine(handle, whisper.Config{UseGPU: cfg.UseGPU}, logger)
		if err != nil {
			return nil, nil, err
		}
		return eng, eng, nil

	case config.EngineGoogle:
		eng, err := stt.NewGoogleSpeechToText(ctx, stt.GoogleConfig{
			FallbackLanguage: cfg.GoogleLanguage,
		}, logger)
		if err != nil {
			return nil, nil, &domain.StartupError{Op: "google speech", Err: err}
		}
		logger.Info("Model ready", zap.String("model", "google"))
		return eng, eng, nil

	default:
		logger.Warn("Using mock transcription engine")
		return stt.NewMockSpeechToText(logger), nil, nil
	}
}

func newPublisher(cfg *config.Config, session *discordgo.Session, logger *zap.Logger) (repositories.RelayPublisher, error) {
	if cfg.RelayBackend == config.RelayDiscord {
		return discord.NewPublisher(session, cfg.DiscordRelayChannelID, logger)
	}
	return slack.NewPublisher(slack.Config{
		Token:     cfg.SlackToken,
		ChannelID: cfg.SlackChannelID,
	}, logger)
}

func newDedupeStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.DedupeStore, error) {
	if cfg.RedisAddr == "" {
		logger.Info("Using in-memory dedupe store")
		return adapters.NewMemoryDedupeStore(cfg.DedupeTTL), nil
	}
	return redis.NewDedupeStore(ctx, redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		TTL:      cfg.DedupeTTL,
	}, logger)
}
