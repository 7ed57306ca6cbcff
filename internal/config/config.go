package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Port        int    `env:"SCRIBE_PORT" envDefault:"8760"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string `env:"DATABASE_URL"`
	NatsURL     string `env:"NATS_URL"`
	NatsToken   string `env:"NATS_TOKEN"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	APIToken         string `env:"SCRIBE_API_TOKEN"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	PrevalidateModel string `env:"SCRIBE_PREVALIDATE_MODEL" envDefault:"claude-haiku-4-5"`

	StreamThresholdBytes int64   `env:"SCRIBE_STREAM_THRESHOLD_BYTES" envDefault:"52428800"`
	SampleBytes          int     `env:"SCRIBE_SAMPLE_BYTES" envDefault:"65536"`
	ConfidenceFloor      float64 `env:"SCRIBE_CONFIDENCE_FLOOR" envDefault:"0.3"`
	StreamMaxBufferBytes int     `env:"SCRIBE_STREAM_MAX_BUFFER_BYTES" envDefault:"1048576"`
	StreamTailBytes      int     `env:"SCRIBE_STREAM_TAIL_BYTES" envDefault:"65536"`
	StreamMaxRecordBytes int     `env:"SCRIBE_STREAM_MAX_RECORD_BYTES" envDefault:"8388608"`
	MaxUploadBytes       int64   `env:"SCRIBE_MAX_UPLOAD_BYTES" envDefault:"536870912"`

	RateLimit  int           `env:"SCRIBE_RATE_LIMIT" envDefault:"30"`
	RateWindow time.Duration `env:"SCRIBE_RATE_WINDOW" envDefault:"1m"`
}

// Load reads the configuration from the environment. Unset variables take
// their defaults; malformed values are an error.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ConfidenceFloor <= 0 || cfg.ConfidenceFloor > 1 {
		return Config{}, fmt.Errorf("SCRIBE_CONFIDENCE_FLOOR must be in (0, 1], got %v", cfg.ConfidenceFloor)
	}
	return cfg, nil
}
