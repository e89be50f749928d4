package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSystemPrompt frames the assistant when no override is configured.
const DefaultSystemPrompt = "You are an AI tutor for children. Explain things simply, in short sentences, " +
	"with a warm and encouraging tone. Ask one question at a time."

// Config contains all runtime settings for the tutor service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	ModelAdapterMode string

	AzureOpenAIEndpoint   string
	AzureOpenAIAPIKey     string
	AzureOpenAIDeployment string
	AzureOpenAIAPIVersion string

	AzureSearchEndpoint string
	AzureSearchAPIKey   string
	AzureSearchIndex    string

	AzureSpeechRegion          string
	AzureSpeechAPIKey          string
	AzureSpeechPrivateEndpoint string

	AvatarCharacter string
	AvatarStyle     string

	SystemPrompt string
	FailureReply string

	DatabaseURL         string
	TranscriptRedactPII bool

	PerfWindowSamples int
}

// Load reads a .env file if present, then environment variables, and applies
// safe defaults.
func Load() (Config, error) {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:                   envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:           envOrDefault("APP_METRICS_NAMESPACE", "tutor"),
		AllowAnyOrigin:             false,
		ModelAdapterMode:           envOrDefault("MODEL_ADAPTER_MODE", "auto"),
		AzureOpenAIEndpoint:        envTrimmed("AZURE_OPENAI_ENDPOINT"),
		AzureOpenAIAPIKey:          envTrimmed("AZURE_OPENAI_API_KEY"),
		AzureOpenAIDeployment:      envOrDefault("AZURE_OPENAI_DEPLOYMENT", "gpt-4o"),
		AzureOpenAIAPIVersion:      envTrimmed("AZURE_OPENAI_API_VERSION"),
		AzureSearchEndpoint:        envTrimmed("AZURE_SEARCH_ENDPOINT"),
		AzureSearchAPIKey:          envTrimmed("AZURE_SEARCH_API_KEY"),
		AzureSearchIndex:           envTrimmed("AZURE_SEARCH_INDEX"),
		AzureSpeechRegion:          envTrimmed("AZURE_SPEECH_REGION"),
		AzureSpeechAPIKey:          envTrimmed("AZURE_SPEECH_API_KEY"),
		AzureSpeechPrivateEndpoint: envTrimmed("AZURE_SPEECH_PRIVATE_ENDPOINT"),
		AvatarCharacter:            envOrDefault("AVATAR_CHARACTER", "lisa"),
		AvatarStyle:                envOrDefault("AVATAR_STYLE", "casual-sitting"),
		SystemPrompt:               envOrDefault("SYSTEM_PROMPT", DefaultSystemPrompt),
		FailureReply:               envTrimmed("FAILURE_REPLY"),
		DatabaseURL:                envTrimmed("DATABASE_URL"),
		ShutdownTimeout:            15 * time.Second,
		SessionInactivityTimeout:   5 * time.Minute,
		PerfWindowSamples:          256,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriptRedactPII, err = boolFromEnv("TRANSCRIPT_REDACT_PII", cfg.TranscriptRedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.PerfWindowSamples, err = intFromEnv("APP_PERF_WINDOW_SAMPLES", cfg.PerfWindowSamples)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.PerfWindowSamples <= 0 {
		return Config{}, fmt.Errorf("APP_PERF_WINDOW_SAMPLES must be positive")
	}
	if cfg.RetrievalPartiallyConfigured() {
		return Config{}, fmt.Errorf("AZURE_SEARCH_ENDPOINT, AZURE_SEARCH_API_KEY and AZURE_SEARCH_INDEX must be set together")
	}

	return cfg, nil
}

// RetrievalConfigured reports whether the "on your data" search layer is
// fully set up.
func (c Config) RetrievalConfigured() bool {
	return c.AzureSearchEndpoint != "" && c.AzureSearchAPIKey != "" && c.AzureSearchIndex != ""
}

func (c Config) RetrievalPartiallyConfigured() bool {
	any := c.AzureSearchEndpoint != "" || c.AzureSearchAPIKey != "" || c.AzureSearchIndex != ""
	return any && !c.RetrievalConfigured()
}

// SpeechConfigured reports whether the avatar relay token endpoint can work.
func (c Config) SpeechConfigured() bool {
	return c.AzureSpeechAPIKey != "" && (c.AzureSpeechRegion != "" || c.AzureSpeechPrivateEndpoint != "")
}

// SpeechTokenURL is the Azure STS endpoint the relay token proxy calls.
// A private endpoint takes precedence over the regional default.
func (c Config) SpeechTokenURL() string {
	if c.AzureSpeechPrivateEndpoint != "" {
		host := strings.TrimRight(strings.TrimPrefix(strings.TrimPrefix(
			c.AzureSpeechPrivateEndpoint, "https://"), "http://"), "/")
		return fmt.Sprintf("https://%s/sts/v1.0/issueToken", host)
	}
	return fmt.Sprintf("https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken", c.AzureSpeechRegion)
}

// SpeechRelayTokenURL is the TURN relay credential endpoint for avatar WebRTC.
// A private endpoint takes precedence over the regional default.
func (c Config) SpeechRelayTokenURL() string {
	if c.AzureSpeechPrivateEndpoint != "" {
		host := strings.TrimRight(strings.TrimPrefix(strings.TrimPrefix(
			c.AzureSpeechPrivateEndpoint, "https://"), "http://"), "/")
		return fmt.Sprintf("https://%s/tts/cognitiveservices/avatar/relay/token/v1", host)
	}
	return fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/avatar/relay/token/v1", c.AzureSpeechRegion)
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
