package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the avatar gateway. It is loaded once at
// startup and treated as immutable afterwards.
type Config struct {
	// Speech synthesis (streaming TTS) configuration
	TTSAPIKey  string `envconfig:"TTS_API_KEY" required:"true"`
	TTSWSURL   string `envconfig:"TTS_WS_URL" default:"wss://api.fish.audio/v1/tts/live"`
	TTSHTTPURL string `envconfig:"TTS_HTTP_URL" default:"https://api.fish.audio/v1/tts"`
	TTSVoiceID string `envconfig:"TTS_VOICE_ID" default:""`

	// Audio pipeline configuration. The remote side synthesizes at
	// IncomingSampleRate; conversion to TargetSampleRate happens locally.
	IncomingSampleRate int    `envconfig:"TTS_INCOMING_SAMPLE_RATE" default:"24000"`
	TargetSampleRate   int    `envconfig:"TARGET_SAMPLE_RATE" default:"16000"`
	Channels           int    `envconfig:"AUDIO_CHANNELS" default:"1"`
	FrameDurationMS    int    `envconfig:"FRAME_DURATION_MS" default:"40"`
	KeepaliveSec       int    `envconfig:"TTS_KEEPALIVE_SEC" default:"20"`
	WireEncoding       string `envconfig:"TTS_ENCODING" default:"pcm_s16le"`

	// Reply generation (LLM) configuration
	UseLLM            bool    `envconfig:"USE_LLM" default:"true"`
	OpenAIAPIKey      string  `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel       string  `envconfig:"OPENAI_MODEL" default:"gpt-4o"`
	OpenAITemperature float64 `envconfig:"OPENAI_TEMPERATURE" default:"0.6"`
	Persona           string  `envconfig:"PERSONA" default:"You are a friendly, upbeat assistant. Keep replies short and conversational."`

	// Video renderer configuration. RenderCmdTemplate supports {image},
	// {audio} and {out} placeholders; when empty the ffmpeg fallback is used.
	RenderCmdTemplate string `envconfig:"RENDER_CMD_TEMPLATE" default:""`
	FFmpegPath        string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	OutputDir         string `envconfig:"OUTPUT_DIR" default:"out"`

	// Resilience configuration
	RetryMaxAttempts       int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff    int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`    // milliseconds
	LLMBreakerMaxFailures  int `envconfig:"LLM_BREAKER_MAX_FAILURES" default:"3"`   // failures before degrading to verbatim text
	LLMBreakerResetTimeout int `envconfig:"LLM_BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricsPort    string `envconfig:"METRICS_PORT" default:"9090"`
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the
// environment, then validates the audio invariants.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables without
// consulting a .env file (useful for containerized deployments and tests).
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

// Validate checks the invariants the audio pipeline depends on. Violations are
// configuration errors and abort startup; nothing downstream re-checks them.
func (c *Config) Validate() error {
	if c.TTSAPIKey == "" {
		return fmt.Errorf("TTS_API_KEY is required")
	}
	if c.IncomingSampleRate <= 0 {
		return fmt.Errorf("TTS_INCOMING_SAMPLE_RATE must be positive, got %d", c.IncomingSampleRate)
	}
	if c.TargetSampleRate <= 0 {
		return fmt.Errorf("TARGET_SAMPLE_RATE must be positive, got %d", c.TargetSampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("AUDIO_CHANNELS must be positive, got %d", c.Channels)
	}
	if c.FrameDurationMS <= 0 {
		return fmt.Errorf("FRAME_DURATION_MS must be positive, got %d", c.FrameDurationMS)
	}
	if c.KeepaliveSec <= 0 {
		return fmt.Errorf("TTS_KEEPALIVE_SEC must be positive, got %d", c.KeepaliveSec)
	}
	return nil
}

// FrameBytes returns the size in bytes of one fixed-duration audio frame at
// the incoming sample rate (16-bit samples).
func (c *Config) FrameBytes() int {
	return c.IncomingSampleRate * c.Channels * 2 * c.FrameDurationMS / 1000
}
