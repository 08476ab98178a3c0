package main

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel/core/internal/config"
	"github.com/sentinel/core/internal/evidence"
	"github.com/sentinel/core/internal/metrics"
)

func smallModel() config.ModelConfig {
	m := config.Default().Model
	m.Trees = 10
	m.BaselineSamples = 64
	return m
}

func TestWire_InMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Model = smallModel()

	res, err := wire(context.Background(), cfg, metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer res.close()

	assert.Equal(t, "memory", res.store.Backend())
	assert.Equal(t, "memory", res.evidence.Backend())
	assert.Equal(t, "isolation_forest", res.detector.Name())
	assert.Equal(t, "aes-256-gcm", res.cipher.Algorithm())
	assert.NotNil(t, res.bus)
	assert.NotNil(t, res.emitter)

	_, err = res.evidence.LatestProfile(context.Background())
	assert.NoError(t, err, "fitted baseline is stored")
}

func TestWire_BadVaultKey(t *testing.T) {
	cfg := config.Default()
	cfg.Model = smallModel()
	cfg.Vault.Key = "too short"

	_, err := wire(context.Background(), cfg, metrics.NewMetrics(prometheus.NewRegistry()))
	assert.ErrorContains(t, err, "vault")
}

func TestLoadDetector_UsesStoredProfile(t *testing.T) {
	ctx := context.Background()
	store := evidence.NewMemoryStore()

	first := loadDetector(ctx, smallModel(), store)
	require.Equal(t, "isolation_forest", first.Name())
	stored, err := store.LatestProfile(ctx)
	require.NoError(t, err)

	// a different seed would fit a different forest; the stored one wins
	cfg := smallModel()
	cfg.Seed = 7
	second := loadDetector(ctx, cfg, store)

	x := []float64{120, 90, 400, 300}
	assert.Equal(t, first.Predict(x), second.Predict(x))

	latest, err := store.LatestProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored, latest, "no new profile saved")
}

func TestLoadDetector_CorruptProfileRefits(t *testing.T) {
	ctx := context.Background()
	store := evidence.NewMemoryStore()
	require.NoError(t, store.SaveProfile(ctx, []byte("{broken")))

	d := loadDetector(ctx, smallModel(), store)
	assert.Equal(t, "isolation_forest", d.Name())
}

func TestLoadDetector_FitFailureFallsBack(t *testing.T) {
	cfg := smallModel()
	cfg.Contamination = 0.9
	d := loadDetector(context.Background(), cfg, evidence.NewMemoryStore())
	assert.Equal(t, "fallback", d.Name())
}

func TestPolicy(t *testing.T) {
	tc := config.Default().Trust
	tc.InitialScore = 70
	tc.DecaySeconds = 0.25
	p := policy(tc)
	assert.Equal(t, 70, p.Bounds.Initial)
	assert.Equal(t, 100, p.Bounds.Max)
	assert.Equal(t, int64(250e6), p.DecayInterval.Nanoseconds())
	assert.Equal(t, 5, p.DecayPoints)
}
