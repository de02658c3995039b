package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the speech coach client
type Config struct {
	// Local gateway the presentation layer talks to
	Port           string   `envconfig:"PORT" default:"8090"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// Coaching backend (session lifecycle, audio analysis, live stats)
	BackendURL     string `envconfig:"COACH_BACKEND_URL" default:"http://localhost:5000/api/voice"`
	BackendTimeout int    `envconfig:"COACH_BACKEND_TIMEOUT" default:"10"` // seconds

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Audio capture configuration
	SampleRate      int `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	Channels        int `envconfig:"AUDIO_CHANNELS" default:"1"`
	AudioBufferSize int `envconfig:"AUDIO_BUFFER_SIZE" default:"65536"` // Ring buffer size in bytes

	// Session cadence
	ChunkIntervalMs int `envconfig:"CHUNK_INTERVAL_MS" default:"1000"`
	PollIntervalMs  int `envconfig:"POLL_INTERVAL_MS" default:"1000"`
	RestartDelayMs  int `envconfig:"RECOGNITION_RESTART_DELAY_MS" default:"100"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"500"` // milliseconds

	// Local analysis archive; empty disables it
	HistoryPath string `envconfig:"HISTORY_DB_PATH" default:""`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load(GetEnv("COACH_ENV_FILE", ".env"))

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if strings.TrimSpace(c.BackendURL) == "" {
		return fmt.Errorf("COACH_BACKEND_URL is required")
	}
	if c.ChunkIntervalMs <= 0 {
		return fmt.Errorf("CHUNK_INTERVAL_MS must be positive, got %d", c.ChunkIntervalMs)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive, got %d", c.PollIntervalMs)
	}
	if c.RestartDelayMs < 0 {
		return fmt.Errorf("RECOGNITION_RESTART_DELAY_MS must not be negative, got %d", c.RestartDelayMs)
	}
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return fmt.Errorf("invalid audio format: %d Hz, %d channels", c.SampleRate, c.Channels)
	}
	return nil
}

func (c *Config) ChunkInterval() time.Duration {
	return time.Duration(c.ChunkIntervalMs) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelayMs) * time.Millisecond
}

func (c *Config) BackendRequestTimeout() time.Duration {
	return time.Duration(c.BackendTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
