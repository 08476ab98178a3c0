package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 80, cfg.Trust.InitialScore)
	assert.Equal(t, 2*time.Second, cfg.Trust.DecayInterval())
	assert.Equal(t, 5, cfg.Trust.DecayPoints)
	assert.Equal(t, 800.0, cfg.Bot.LinearVelocityThreshold)
	assert.Equal(t, 0.05, cfg.Bot.AngularEpsilon)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trust:
  initial_score: 50
  decay_seconds: 0.5
bot:
  angular_epsilon: 0.1
logging:
  format: text
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Trust.InitialScore)
	assert.Equal(t, 500*time.Millisecond, cfg.Trust.DecayInterval())
	assert.Equal(t, 0.1, cfg.Bot.AngularEpsilon)
	assert.Equal(t, "text", cfg.Logging.Format)

	// untouched sections keep their defaults
	assert.Equal(t, 100, cfg.Trust.MaxScore)
	assert.Equal(t, 800.0, cfg.Bot.LinearVelocityThreshold)
	assert.Equal(t, 200, cfg.Model.Trees)
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Trust, cfg.Trust)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"TRUST_INITIAL_SCORE":                 "70",
		"TRUST_DECAY_SECONDS":                 "1.5",
		"TRUST_DECAY_POINTS":                  "3",
		"BOT_LINEAR_MOUSE_VELOCITY_THRESHOLD": "1200",
		"BOT_ANGULAR_VELOCITY_EPSILON":        "0.02",
		"REDIS_URL":                           "redis://cache:6379/0",
		"CORS_ORIGINS":                        "https://a.example, https://b.example,,",
		"FERNET_KEY":                          "fernet",
		"SENTINEL_VAULT_KEY":                  "vault",
		"PORT":                                "",
	}))
	require.NoError(t, err)

	assert.Equal(t, 70, cfg.Trust.InitialScore)
	assert.Equal(t, 1500*time.Millisecond, cfg.Trust.DecayInterval())
	assert.Equal(t, 3, cfg.Trust.DecayPoints)
	assert.Equal(t, 1200.0, cfg.Bot.LinearVelocityThreshold)
	assert.Equal(t, 0.02, cfg.Bot.AngularEpsilon)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "vault", cfg.Vault.Key, "SENTINEL_VAULT_KEY wins over FERNET_KEY")
	assert.Equal(t, "8000", cfg.Server.Port, "empty values are ignored")
}

func TestApplyEnv_BadNumbers(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"TRUST_INITIAL_SCORE": "high",
		"TRUST_DECAY_SECONDS": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUST_INITIAL_SCORE")
	assert.Contains(t, err.Error(), "TRUST_DECAY_SECONDS")
	assert.Equal(t, 80, cfg.Trust.InitialScore)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"inverted range", func(c *Config) { c.Trust.MinScore, c.Trust.MaxScore = 90, 10 }, "min_score"},
		{"initial outside range", func(c *Config) { c.Trust.InitialScore = 101 }, "initial_score"},
		{"zero decay interval", func(c *Config) { c.Trust.DecaySeconds = 0 }, "decay_seconds"},
		{"negative decay", func(c *Config) { c.Trust.DecayPoints = -1 }, "decay_points"},
		{"zero velocity threshold", func(c *Config) { c.Bot.LinearVelocityThreshold = 0 }, "linear_velocity_threshold"},
		{"contamination", func(c *Config) { c.Model.Contamination = 0.7 }, "contamination"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
