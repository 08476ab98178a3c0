// Package config loads the service configuration from a YAML file and
// applies environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Trust    TrustConfig    `yaml:"trust"`
	Bot      BotConfig      `yaml:"bot"`
	Model    ModelConfig    `yaml:"model"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Supabase SupabaseConfig `yaml:"supabase"`
	Evidence EvidenceConfig `yaml:"evidence"`
	Vault    VaultConfig    `yaml:"vault"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            string   `yaml:"port"`
	Env             string   `yaml:"env"`
	// AllowedOrigins is the websocket origin allowlist. Empty allows all.
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownSeconds int      `yaml:"shutdown_seconds"`
}

type TrustConfig struct {
	InitialScore int     `yaml:"initial_score"`
	MinScore     int     `yaml:"min_score"`
	MaxScore     int     `yaml:"max_score"`
	DecaySeconds float64 `yaml:"decay_seconds"`
	DecayPoints  int     `yaml:"decay_points"`
}

// DecayInterval returns DecaySeconds as a duration.
func (t TrustConfig) DecayInterval() time.Duration {
	return time.Duration(t.DecaySeconds * float64(time.Second))
}

type BotConfig struct {
	LinearVelocityThreshold float64 `yaml:"linear_velocity_threshold"`
	AngularEpsilon          float64 `yaml:"angular_epsilon"`
}

type ModelConfig struct {
	Trees           int     `yaml:"trees"`
	MaxSamples      int     `yaml:"max_samples"`
	Contamination   float64 `yaml:"contamination"`
	BaselineSamples int     `yaml:"baseline_samples"`
	Seed            uint64  `yaml:"seed"`
	// SaveBaseline stores a freshly fitted baseline when no profile exists.
	SaveBaseline    bool    `yaml:"save_baseline"`
}

type RedisConfig struct {
	URL             string `yaml:"url"`
	Password        string `yaml:"password"`
	// Channel is the event relay channel. Empty disables the relay.
	Channel         string `yaml:"channel"`
	BreakerFailures uint32 `yaml:"breaker_failures"`
	BreakerSeconds  int    `yaml:"breaker_seconds"`
}

type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

type EvidenceConfig struct {
	Workers             int `yaml:"workers"`
	QueueSize           int `yaml:"queue_size"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

type VaultConfig struct {
	// Key is 32 bytes raw, base64 or hex. Empty generates a key per process.
	Key       string `yaml:"key"`
	Algorithm string `yaml:"algorithm"`
}

type EventsConfig struct {
	PubSubProject string `yaml:"pubsub_project"`
	PubSubTopic   string `yaml:"pubsub_topic"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8000", Env: "development", ShutdownSeconds: 15},
		Trust: TrustConfig{
			InitialScore: 80,
			MinScore:     0,
			MaxScore:     100,
			DecaySeconds: 2,
			DecayPoints:  5,
		},
		Bot: BotConfig{LinearVelocityThreshold: 800, AngularEpsilon: 0.05},
		Model: ModelConfig{
			Trees:           200,
			MaxSamples:      256,
			Contamination:   0.05,
			BaselineSamples: 512,
			Seed:            42,
			SaveBaseline:    true,
		},
		Redis:    RedisConfig{BreakerFailures: 3, BreakerSeconds: 10},
		Database: DatabaseConfig{Migrate: true},
		Evidence: EvidenceConfig{Workers: 4, QueueSize: 1024, WriteTimeoutSeconds: 5},
		Vault:    VaultConfig{Algorithm: "aes-256-gcm"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig reads path over the defaults and applies environment
// overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is
// os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(name); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}

	str("PORT", &c.Server.Port)
	str("SENTINEL_ENV", &c.Server.Env)
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	integer("TRUST_INITIAL_SCORE", &c.Trust.InitialScore)
	integer("TRUST_MIN_SCORE", &c.Trust.MinScore)
	integer("TRUST_MAX_SCORE", &c.Trust.MaxScore)
	float("TRUST_DECAY_SECONDS", &c.Trust.DecaySeconds)
	integer("TRUST_DECAY_POINTS", &c.Trust.DecayPoints)

	float("BOT_LINEAR_MOUSE_VELOCITY_THRESHOLD", &c.Bot.LinearVelocityThreshold)
	float("BOT_ANGULAR_VELOCITY_EPSILON", &c.Bot.AngularEpsilon)

	str("REDIS_URL", &c.Redis.URL)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("REDIS_EVENTS_CHANNEL", &c.Redis.Channel)
	str("DATABASE_URL", &c.Database.URL)
	str("SUPABASE_URL", &c.Supabase.URL)
	str("SUPABASE_SERVICE_KEY", &c.Supabase.ServiceKey)

	str("FERNET_KEY", &c.Vault.Key)
	str("SENTINEL_VAULT_KEY", &c.Vault.Key)
	str("SENTINEL_VAULT_ALGORITHM", &c.Vault.Algorithm)

	str("PUBSUB_PROJECT_ID", &c.Events.PubSubProject)
	str("PUBSUB_TOPIC_ID", &c.Events.PubSubTopic)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	return errors.Join(errs...)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	t := c.Trust
	if t.MinScore > t.MaxScore {
		errs = append(errs, fmt.Errorf("trust: min_score %d above max_score %d", t.MinScore, t.MaxScore))
	}
	if t.InitialScore < t.MinScore || t.InitialScore > t.MaxScore {
		errs = append(errs, fmt.Errorf("trust: initial_score %d outside [%d, %d]", t.InitialScore, t.MinScore, t.MaxScore))
	}
	if t.DecaySeconds <= 0 {
		errs = append(errs, fmt.Errorf("trust: decay_seconds must be positive, got %v", t.DecaySeconds))
	}
	if t.DecayPoints < 0 {
		errs = append(errs, fmt.Errorf("trust: decay_points must not be negative, got %d", t.DecayPoints))
	}
	if c.Bot.LinearVelocityThreshold <= 0 {
		errs = append(errs, errors.New("bot: linear_velocity_threshold must be positive"))
	}
	if c.Bot.AngularEpsilon < 0 {
		errs = append(errs, errors.New("bot: angular_epsilon must not be negative"))
	}
	if c.Model.Contamination <= 0 || c.Model.Contamination > 0.5 {
		errs = append(errs, fmt.Errorf("model: contamination %v outside (0, 0.5]", c.Model.Contamination))
	}
	if c.Model.BaselineSamples < 2 {
		errs = append(errs, errors.New("model: baseline_samples must be at least 2"))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging: unknown format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
