package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	defaultWhisperModel        = "medium"
	defaultLanguage            = "auto"
	defaultModelBaseURL        = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"
	defaultScratchDir          = "./tmp/audio"
	defaultFFmpegPath          = "ffmpeg"
	defaultPort                = "8080"
	defaultGoogleLanguage      = "en-US"
	defaultMaxTranscriptions   = 1
	defaultConvertTimeout      = 30 * time.Second
	defaultTranscribeBase      = 30 * time.Second
	defaultTranscribeFactor    = 4.0
	defaultRelayTimeout        = 15 * time.Second
	defaultFetchTimeout        = 60 * time.Second
	defaultModelDownloadTimout = 30 * time.Minute
	defaultDedupeTTL           = 24 * time.Hour
	defaultScratchMaxAge       = time.Hour
)

// Engine backends
const (
	EngineWhisper = "whisper"
	EngineGoogle  = "google"
	EngineMock    = "mock"
)

// Relay backends
const (
	RelaySlack   = "slack"
	RelayDiscord = "discord"
)

// Listener sources
const (
	ListenerWebhook   = "webhook"
	ListenerWebSocket = "websocket"
	ListenerDiscord   = "discord"
)

// Config is the validated process configuration. It is read once at startup.
type Config struct {
	UseGPU                bool    `validate:"-"`
	EngineBackend         string  `validate:"required,oneof=whisper google mock"`
	WhisperModel          string  `validate:"required"`
	WhisperLocalModelPath string  `validate:"-"`
	ModelCacheDir         string  `validate:"required_if=EngineBackend whisper"`
	ModelBaseURL          string  `validate:"required_if=EngineBackend whisper,omitempty,url"`
	Language              string  `validate:"required"`
	GoogleLanguage        string  `validate:"required_if=EngineBackend google"`
	MaxTranscriptions     int64   `validate:"min=1"`
	TranscribeFactor      float64 `validate:"gte=0"`

	RelayBackend          string `validate:"required,oneof=slack discord"`
	SlackToken            string `validate:"required_if=RelayBackend slack"`
	SlackChannelID        string `validate:"required_if=RelayBackend slack"`
	DiscordToken          string `validate:"-"`
	DiscordRelayChannelID string `validate:"required_if=RelayBackend discord"`

	Listeners       []string `validate:"min=1,dive,oneof=webhook websocket discord"`
	BridgeJWTSecret string   `validate:"-"`
	Port            string   `validate:"required,numeric"`

	ScratchDir    string        `validate:"required"`
	ScratchMaxAge time.Duration `validate:"gt=0"`
	FFmpegPath    string        `validate:"required"`

	ConvertTimeout       time.Duration `validate:"gt=0"`
	TranscribeBase       time.Duration `validate:"gt=0"`
	RelayTimeout         time.Duration `validate:"gt=0"`
	FetchTimeout         time.Duration `validate:"gt=0"`
	ModelDownloadTimeout time.Duration `validate:"gt=0"`

	RedisAddr     string        `validate:"omitempty,hostname_port"`
	RedisPassword string        `validate:"-"`
	DedupeTTL     time.Duration `validate:"gt=0"`

	LogDevelopment bool `validate:"-"`
}

// Load reads the environment (and a .env file when present) into a Config and
// validates it.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables, applying defaults
func FromEnv() (*Config, error) {
	p := &envParser{}

	cfg := &Config{
		UseGPU:                p.bool("USE_GPU", false),
		EngineBackend:         strings.ToLower(p.string("ENGINE_BACKEND", EngineWhisper)),
		WhisperModel:          p.string("WHISPER_MODEL", defaultWhisperModel),
		WhisperLocalModelPath: os.Getenv("WHISPER_LOCAL_MODEL_PATH"),
		ModelCacheDir:         p.string("MODEL_CACHE_DIR", defaultCacheDir()),
		ModelBaseURL:          p.string("MODEL_BASE_URL", defaultModelBaseURL),
		Language:              p.string("TRANSCRIPTION_LANGUAGE", defaultLanguage),
		GoogleLanguage:        p.string("GOOGLE_LANGUAGE_FALLBACK", defaultGoogleLanguage),
		MaxTranscriptions:     int64(p.int("MAX_CONCURRENT_TRANSCRIPTIONS", defaultMaxTranscriptions)),
		TranscribeFactor:      p.float("TRANSCRIBE_TIMEOUT_FACTOR", defaultTranscribeFactor),

		RelayBackend:          strings.ToLower(p.string("RELAY_BACKEND", RelaySlack)),
		SlackToken:            os.Getenv("SLACK_TOKEN"),
		SlackChannelID:        os.Getenv("SLACK_CHANNEL_ID"),
		DiscordToken:          os.Getenv("DISCORD_TOKEN"),
		DiscordRelayChannelID: os.Getenv("DISCORD_RELAY_CHANNEL_ID"),

		Listeners:       p.list("LISTENERS", []string{ListenerWebhook, ListenerWebSocket}),
		BridgeJWTSecret: os.Getenv("BRIDGE_JWT_SECRET"),
		Port:            p.string("PORT", defaultPort),

		ScratchDir:    p.string("SCRATCH_DIR", defaultScratchDir),
		ScratchMaxAge: p.duration("SCRATCH_MAX_AGE", defaultScratchMaxAge),
		FFmpegPath:    p.string("FFMPEG_PATH", defaultFFmpegPath),

		ConvertTimeout:       p.duration("CONVERT_TIMEOUT", defaultConvertTimeout),
		TranscribeBase:       p.duration("TRANSCRIBE_TIMEOUT_BASE", defaultTranscribeBase),
		RelayTimeout:         p.duration("RELAY_TIMEOUT", defaultRelayTimeout),
		FetchTimeout:         p.duration("FETCH_TIMEOUT", defaultFetchTimeout),
		ModelDownloadTimeout: p.duration("MODEL_DOWNLOAD_TIMEOUT", defaultModelDownloadTimout),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DedupeTTL:     p.duration("DEDUPE_TTL", defaultDedupeTTL),

		LogDevelopment: p.bool("LOG_DEVELOPMENT", false),
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return cfg, nil
}

// Validate performs the single validation pass over the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if (c.HasListener(ListenerWebhook) || c.HasListener(ListenerWebSocket)) && c.BridgeJWTSecret == "" {
		return errors.New("BRIDGE_JWT_SECRET is required for webhook and websocket listeners")
	}

	needsDiscordSession := c.RelayBackend == RelayDiscord || c.HasListener(ListenerDiscord)
	if needsDiscordSession && c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required for the discord relay or listener")
	}

	return nil
}

// HasListener reports whether a listener source is enabled
func (c *Config) HasListener(name string) bool {
	for _, l := range c.Listeners {
		if l == name {
			return true
		}
	}
	return false
}

// RelayChannelID is the destination channel of the configured relay backend
func (c *Config) RelayChannelID() string {
	if c.RelayBackend == RelayDiscord {
		return c.DiscordRelayChannelID
	}
	return c.SlackChannelID
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", ".cache", "voicenote-relay")
	}
	return filepath.Join(dir, "voicenote-relay")
}

// envParser collects parse errors so every bad variable is reported at once
type envParser struct {
	errs []error
}

func (p *envParser) string(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *envParser) bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (p *envParser) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *envParser) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p *envParser) list(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
