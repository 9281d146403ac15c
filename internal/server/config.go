package server

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"30"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the gateway settings. Every field maps to one environment
// variable.
type Config struct {
	Port           string   `env:"SERVER_PORT" envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:8080" envSeparator:","`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE" envDefault:"65536"`
	RateLimit      RateLimitConfig

	JWTSecret     string `env:"JWT_SECRET,required"`
	InternalToken string `env:"INTERNAL_TOKEN"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"INFO"`

	PresenceGrace       time.Duration `env:"PRESENCE_GRACE" envDefault:"3s"`
	TypingTTL           time.Duration `env:"TYPING_TTL" envDefault:"12s"`
	TypingSweepInterval time.Duration `env:"TYPING_SWEEP_INTERVAL" envDefault:"2s"`
	FanoutLanes         int           `env:"FANOUT_LANES" envDefault:"64"`
	SendBuffer          int           `env:"SEND_BUFFER" envDefault:"256"`
	VoiceMaxPeers       int           `env:"VOICE_MAX_PEERS" envDefault:"4"`

	RedisURL        string        `env:"REDIS_URL"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DefaultConfig returns the configuration used when no environment is set.
// JWTSecret is left empty.
func DefaultConfig() Config {
	return Config{
		Port:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 65536,
		RateLimit: RateLimitConfig{
			Burst:          30,
			RefillInterval: time.Second,
		},
		LogLevel:            "INFO",
		PresenceGrace:       3 * time.Second,
		TypingTTL:           12 * time.Second,
		TypingSweepInterval: 2 * time.Second,
		FanoutLanes:         64,
		SendBuffer:          256,
		VoiceMaxPeers:       4,
		ShutdownTimeout:     10 * time.Second,
	}
}

// LoadConfig reads the optional env files (".env" when none is given) and
// then the process environment.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return Sanitize(cfg), nil
}

// Sanitize replaces out-of-range values with defaults and normalizes the
// origin allow-list. A zero presence grace and a zero voice capacity are
// meaningful and kept.
func Sanitize(cfg Config) Config {
	def := DefaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.PresenceGrace < 0 {
		cfg.PresenceGrace = 0
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = def.TypingTTL
	}
	if cfg.TypingSweepInterval <= 0 {
		cfg.TypingSweepInterval = def.TypingSweepInterval
	}
	if cfg.FanoutLanes <= 0 {
		cfg.FanoutLanes = def.FanoutLanes
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.VoiceMaxPeers < 0 {
		cfg.VoiceMaxPeers = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	origins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	if allowAll {
		origins = append(origins, "*")
	}
	cfg.AllowedOrigins = origins
	return cfg
}
